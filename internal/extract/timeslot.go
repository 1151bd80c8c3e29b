package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"visa-slot-monitor/internal/parse"
)

var timeSlotContainers = []string{
	"#timeSlots",
	"#time-slots",
	".time-slots",
	".timeslots",
	".available-times",
	".slots-container",
}

var timeSlotSelectors = []string{
	".time-slot",
	".appointment-time",
	".slot-time",
	".available-time",
	"button[data-time]",
	"[data-time]",
	`[class*="time-slot"]`,
}

var datePickerInputs = []string{
	"#appointment_date",
	"#AppointmentDate",
	`input[name="appointment_date"]`,
	`input[type="date"]`,
	"input.datepicker",
	".datepicker input",
}

// pickerExclusions mark date inputs that belong to the applicant, not the calendar.
var pickerExclusions = []string{"birth", "dob"}

var noSlotsSelectors = []string{
	".no-slots",
	".no-slot",
	".no-appointment",
	".alert-no-slots",
}

// NoSlotsPhrases are page messages meaning "nothing available right now".
var NoSlotsPhrases = []string{
	"no slots",
	"no slot available",
	"no appointment",
	"no available",
	"currently no date",
	"aucun créneau",
	"aucun rendez-vous",
	"pas de rendez-vous",
	"pas de créneau",
	"no hay citas",
}

// TimeSlots finds bookable times, pairing each with the selected day.
type TimeSlots struct{}

func (TimeSlots) Name() string { return "time-slot" }

func (TimeSlots) Extract(doc *goquery.Document, env Env) Outcome {
	var container *goquery.Selection
	for _, sel := range timeSlotContainers {
		if c := doc.Find(sel).First(); c.Length() > 0 {
			if hasNoSlotsMessage(c) {
				return Outcome{NoSlotsMessage: true}
			}
			container = c
			break
		}
	}

	// Outside a slot container only elements that name their own day count.
	scope := doc.Selection
	var pickerDate time.Time
	pickerOK := false
	if container != nil {
		scope = container
		pickerDate, pickerOK = pickerValue(container.Parent(), env)
	}

	for _, sel := range timeSlotSelectors {
		var slots []Slot
		scope.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if !bookable(el) {
				return
			}
			clock := timeOf(el, true)
			if clock == "" {
				return
			}

			date, ok := explicitDate(el, env)
			switch {
			case ok:
			case container == nil:
				return
			case pickerOK:
				date = pickerDate
			default:
				date = env.today()
			}
			if s, ok := keep(date, clock, env, "time-slot"); ok {
				slots = append(slots, s)
			}
		})
		if len(slots) > 0 {
			return Outcome{Slots: slots}
		}
	}
	return Outcome{}
}

func hasNoSlotsMessage(container *goquery.Selection) bool {
	for _, sel := range noSlotsSelectors {
		if m := container.Find(sel); m.Length() > 0 && !isHidden(m.First()) {
			return true
		}
	}
	return ContainsNoSlotsPhrase(container.Text())
}

// ContainsNoSlotsPhrase reports whether text carries a "no slots" message.
func ContainsNoSlotsPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range NoSlotsPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// pickerValue reads the current value of the appointment date input next to
// the slot list. Applicant fields such as date of birth are skipped.
func pickerValue(scope *goquery.Selection, env Env) (time.Time, bool) {
	for _, sel := range datePickerInputs {
		var (
			found time.Time
			ok    bool
		)
		scope.Find(sel).EachWithBreak(func(_ int, in *goquery.Selection) bool {
			if applicantField(in) {
				return true
			}
			found, ok = parse.ParseDate(in.AttrOr("value", ""), env.Location)
			return !ok
		})
		if ok {
			return found, true
		}
	}
	return time.Time{}, false
}

func applicantField(in *goquery.Selection) bool {
	id := strings.ToLower(in.AttrOr("name", "") + " " + in.AttrOr("id", ""))
	for _, w := range pickerExclusions {
		if strings.Contains(id, w) {
			return true
		}
	}
	return false
}

func explicitDate(el *goquery.Selection, env Env) (time.Time, bool) {
	if v, ok := el.Attr("data-date"); ok {
		return parse.ParseDate(v, env.Location)
	}
	if holder := el.Closest("[data-date]"); holder.Length() > 0 {
		return parse.ParseDate(holder.AttrOr("data-date", ""), env.Location)
	}
	return time.Time{}, false
}
