package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"visa-slot-monitor/internal/parse"
)

var disabledClassMarkers = []string{"disabled", "unavailable", "past", "booked"}

// isDisabled reports whether the element itself is marked as not bookable.
func isDisabled(s *goquery.Selection) bool {
	class := strings.ToLower(s.AttrOr("class", ""))
	for _, marker := range disabledClassMarkers {
		for _, tok := range strings.Fields(class) {
			if strings.Contains(tok, marker) {
				return true
			}
		}
	}
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if strings.EqualFold(s.AttrOr("aria-disabled", ""), "true") {
		return true
	}
	return strings.EqualFold(s.AttrOr("data-available", ""), "false")
}

func hiddenSelf(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if strings.EqualFold(s.AttrOr("aria-hidden", ""), "true") {
		return true
	}
	if goquery.NodeName(s) == "input" && strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(s.AttrOr("style", ""), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// isHidden reports whether the element or any ancestor is not rendered.
func isHidden(s *goquery.Selection) bool {
	if hiddenSelf(s) {
		return true
	}
	hidden := false
	s.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if hiddenSelf(p) {
			hidden = true
			return false
		}
		return true
	})
	return hidden
}

// bookable combines the disabled and visibility filters.
func bookable(s *goquery.Selection) bool {
	return !isDisabled(s) && !isHidden(s)
}

// dateOf reads a date from an element in priority order:
// data-date, value/data-value, title/aria-label, datepicker cell coordinates, text.
func dateOf(s *goquery.Selection, loc *time.Location) (time.Time, bool) {
	for _, attr := range []string{"data-date", "value", "data-value", "title", "aria-label"} {
		if v, ok := s.Attr(attr); ok {
			if t, ok := parse.ParseDate(v, loc); ok {
				return t, true
			}
		}
	}
	if t, ok := datepickerCell(s, loc); ok {
		return t, true
	}
	return parse.ParseDate(s.Text(), loc)
}

// datepickerCell handles jQuery UI style cells: <td data-month="2" data-year="2025"><a>14</a></td>,
// where data-month is zero based.
func datepickerCell(s *goquery.Selection, loc *time.Location) (time.Time, bool) {
	cell := s
	if _, ok := cell.Attr("data-year"); !ok {
		cell = s.Closest("[data-year][data-month]")
	}
	if cell.Length() == 0 {
		return time.Time{}, false
	}
	year, err1 := strconv.Atoi(cell.AttrOr("data-year", ""))
	month, err2 := strconv.Atoi(cell.AttrOr("data-month", ""))
	day, err3 := strconv.Atoi(strings.TrimSpace(s.Text()))
	if err1 != nil || err2 != nil || err3 != nil || month < 0 || month > 11 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month+1), day, 0, 0, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// timeOf reads a clock time from data-time, falling back to the element text.
func timeOf(s *goquery.Selection, useText bool) string {
	if v, ok := s.Attr("data-time"); ok {
		if t, ok := parse.ParseTime(v); ok {
			return t
		}
	}
	if useText {
		if t, ok := parse.ParseTime(s.Text()); ok {
			return t
		}
	}
	return ""
}

// keep applies the today-or-future rule and builds the slot.
func keep(date time.Time, clock string, env Env, source string) (Slot, bool) {
	if !parse.IsTodayOrLater(date, env.Now, env.Location) {
		return Slot{}, false
	}
	return Slot{Date: parse.Midnight(date, env.Location), Time: clock, Center: env.Center, Source: source}, true
}
