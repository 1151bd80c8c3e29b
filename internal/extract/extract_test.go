package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/parse"
)

var testEnv = Env{
	Center:   model.CenterAlgiers2,
	Now:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	Location: time.UTC,
}

func extractHTML(t *testing.T, html string) Result {
	t.Helper()
	res, err := New(nil).ExtractHTML(html, testEnv)
	require.NoError(t, err)
	return res
}

func keys(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, parse.FormatDate(s.Date)+" "+s.Time)
	}
	return out
}

func TestExtract_CalendarFiltersUnbookable(t *testing.T) {
	res := extractHTML(t, `
<div class="calendar"><table><tr>
  <td class="available" data-date="2025-03-09">9</td>
  <td class="available" data-date="2025-03-12">12</td>
  <td class="available disabled" data-date="2025-03-13">13</td>
  <td class="available" style="display: none" data-date="2025-03-14">14</td>
  <td class="available" aria-disabled="true" data-date="2025-03-15">15</td>
  <td class="available booked" data-date="2025-03-16">16</td>
  <td class="available" data-available="false" data-date="2025-03-17">17</td>
</tr></table></div>`)

	assert.Equal(t, []string{"2025-03-12 "}, keys(res.Slots))
	assert.Equal(t, model.CenterAlgiers2, res.Slots[0].Center)
	assert.Equal(t, "calendar", res.Slots[0].Source)
}

func TestExtract_CalendarKeepsToday(t *testing.T) {
	res := extractHTML(t, `
<div id="calendar">
  <span class="available-date" data-date="10/03/2025">10</span>
  <span class="available-date" title="9 March 2025">9</span>
</div>`)

	assert.Equal(t, []string{"2025-03-10 "}, keys(res.Slots))
}

func TestExtract_DatepickerCells(t *testing.T) {
	res := extractHTML(t, `
<div class="ui-datepicker">
<table class="ui-datepicker-calendar"><tr>
  <td data-handler="selectDay" data-month="2" data-year="2025"><a href="#">15</a></td>
  <td class="ui-datepicker-unselectable ui-state-disabled"><span>16</span></td>
</tr></table></div>`)

	assert.Equal(t, []string{"2025-03-15 "}, keys(res.Slots))
}

func TestExtract_TimeSlotsNoSlotsMessage(t *testing.T) {
	res := extractHTML(t, `
<div id="timeSlots">
  <p class="no-slots">No slots available for the selected date</p>
  <button class="time-slot">09:00</button>
</div>`)

	assert.Empty(t, res.Slots)
	assert.True(t, res.NoSlotsMessage)
}

func TestExtract_TimeSlotsUseDatePicker(t *testing.T) {
	res := extractHTML(t, `
<div class="booking">
  <input type="date" id="appointment_date" value="2025-03-20">
  <div id="timeSlots">
    <button class="time-slot">09:00</button>
    <button class="time-slot disabled">09:30</button>
    <button class="time-slot">10:00 AM</button>
  </div>
</div>`)

	assert.Equal(t, []string{"2025-03-20 09:00", "2025-03-20 10:00"}, keys(res.Slots))
	assert.False(t, res.NoSlotsMessage)
}

func TestExtract_TimeSlotsFallBackToToday(t *testing.T) {
	res := extractHTML(t, `<div class="time-slots"><span class="slot-time">14:30</span></div>`)

	assert.Equal(t, []string{"2025-03-10 14:30"}, keys(res.Slots))
}

func TestExtract_TimeSlotsIgnoreBirthDateInput(t *testing.T) {
	res := extractHTML(t, `
<form>
  <input name="date_of_birth" value="1990-05-01">
  <button class="time-slot" data-date="2025-03-20">09:00</button>
  <button class="time-slot" data-date="2025-03-20">10:00</button>
</form>`)

	assert.Equal(t, []string{"2025-03-20 09:00", "2025-03-20 10:00"}, keys(res.Slots))
	assert.Equal(t, 2, res.PerStrategy["time-slot"])
}

func TestExtract_TimeSlotsPreferOwnDate(t *testing.T) {
	res := extractHTML(t, `
<input type="date" value="2025-03-15">
<button data-date="2025-03-20" data-time="09:00">Book</button>`)

	assert.Equal(t, []string{"2025-03-20 09:00"}, keys(res.Slots))
}

func TestExtract_TimeSlotsOutsideContainerNeedADate(t *testing.T) {
	res := extractHTML(t, `
<input type="date" value="2025-03-15">
<span class="slot-time">14:30</span>`)

	assert.Empty(t, res.Slots)
}

func TestExtract_TimeSlotsPickerSkipsApplicantFields(t *testing.T) {
	res := extractHTML(t, `
<div class="booking">
  <input type="date" id="dob" value="1990-05-01">
  <input type="date" id="appointment_day" value="2025-03-21">
  <div class="time-slots"><button class="time-slot">11:00</button></div>
</div>`)

	assert.Equal(t, []string{"2025-03-21 11:00"}, keys(res.Slots))
}

func TestExtract_ListRows(t *testing.T) {
	res := extractHTML(t, `
<ul class="appointment-list">
  <li>Date</li>
  <li>12/03/2025 - 10:00</li>
  <li>01/03/2025 - 11:00</li>
  <li class="booked">13/03/2025 - 08:00</li>
</ul>`)

	assert.Equal(t, []string{"2025-03-12 10:00"}, keys(res.Slots))
	assert.Equal(t, 1, res.PerStrategy["list"])
}

func TestExtract_DedupesAcrossStrategies(t *testing.T) {
	res := extractHTML(t, `
<div class="calendar">
  <button class="available-date" data-date="2025-03-12" data-time="10:00">12</button>
</div>`)

	require.Len(t, res.Slots, 1)
	assert.Equal(t, "2025-03-12 10:00", keys(res.Slots)[0])
	assert.Equal(t, 1, res.PerStrategy["calendar"])
	assert.Equal(t, 1, res.PerStrategy["clickable"])
}

func TestExtract_MalformedDatesDiscarded(t *testing.T) {
	res := extractHTML(t, `
<div class="calendar">
  <span class="available-date" data-date="foo">x</span>
  <span class="available-date" data-date="">y</span>
</div>`)

	assert.Empty(t, res.Slots)
	assert.False(t, res.NoSlotsMessage)
}

func TestExtract_EmptyPage(t *testing.T) {
	res := extractHTML(t, `<html><body><h1>Welcome</h1></body></html>`)

	assert.Empty(t, res.Slots)
	assert.False(t, res.NoSlotsMessage)
}

func TestDedupe_OrdersChronologically(t *testing.T) {
	d1 := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	out := Dedupe([]Slot{
		{Date: d1, Time: "10:00", Center: model.CenterOran1, Source: "list"},
		{Date: d2, Time: "", Center: model.CenterOran1},
		{Date: d1, Time: "10:00", Center: model.CenterOran1, Source: "clickable"},
		{Date: d1, Time: "10:00", Center: model.CenterOran2},
	})

	require.Len(t, out, 3)
	assert.True(t, out[0].Date.Equal(d2))
	assert.Equal(t, "list", out[1].Source)
}

func TestDedupe_TimedSlotsReplaceDateOnly(t *testing.T) {
	d := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	out := Dedupe([]Slot{
		{Date: d, Center: model.CenterOran1, Source: "calendar"},
		{Date: d, Time: "09:00", Center: model.CenterOran1, Source: "time-slot"},
		{Date: d, Center: model.CenterOran2, Source: "calendar"},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "09:00", out[0].Time)
	assert.Equal(t, model.CenterOran2, out[1].Center)
}
