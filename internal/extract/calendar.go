package extract

import (
	"github.com/PuerkitoBio/goquery"
)

var calendarContainers = []string{
	".calendar",
	".date-picker",
	".datepicker",
	".appointment-calendar",
	"#calendar",
	".ui-datepicker-calendar",
	`[class*="calendar"]`,
	`[id*="calendar"]`,
}

var availableDateSelectors = []string{
	".available-date",
	".slot-available",
	`[data-available="true"]`,
	".date-available",
	".appointment-available",
	"td.available",
	".day.available",
	`td[data-handler="selectDay"] a`,
	`[class*="available"]`,
	"[data-date]:not(.disabled):not(.unavailable)",
}

// Calendar finds available days inside a calendar or date picker.
type Calendar struct{}

func (Calendar) Name() string { return "calendar" }

func (Calendar) Extract(doc *goquery.Document, env Env) Outcome {
	scope := calendarScope(doc)
	if scope == nil {
		return Outcome{}
	}

	for _, sel := range availableDateSelectors {
		var slots []Slot
		scope.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if !bookable(el) || isDisabled(el.Parent()) {
				return
			}
			date, ok := dateOf(el, env.Location)
			if !ok {
				return
			}
			if s, ok := keep(date, timeOf(el, false), env, "calendar"); ok {
				slots = append(slots, s)
			}
		})
		if len(slots) > 0 {
			return Outcome{Slots: slots}
		}
	}
	return Outcome{}
}

// calendarScope returns the calendar containers, or the whole document when
// no container exists but date-carrying elements do.
func calendarScope(doc *goquery.Document) *goquery.Selection {
	for _, sel := range calendarContainers {
		if found := doc.Find(sel); found.Length() > 0 {
			return found
		}
	}
	if doc.Find("[data-date]").Length() > 0 {
		return doc.Selection
	}
	return nil
}
