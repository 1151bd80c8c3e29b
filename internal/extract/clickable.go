package extract

import (
	"github.com/PuerkitoBio/goquery"
)

var clickableSelectors = []string{
	"button[data-date]",
	"a[data-date]",
	`[role="button"][data-date]`,
	`input[type="radio"][data-date]`,
	"[onclick][data-date]",
}

// Clickable picks up generic clickable elements that carry a date attribute.
type Clickable struct{}

func (Clickable) Name() string { return "clickable" }

func (Clickable) Extract(doc *goquery.Document, env Env) Outcome {
	var slots []Slot
	for _, sel := range clickableSelectors {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if !bookable(el) {
				return
			}
			date, ok := dateOf(el, env.Location)
			if !ok {
				return
			}
			if s, ok := keep(date, timeOf(el, true), env, "clickable"); ok {
				slots = append(slots, s)
			}
		})
	}
	return Outcome{Slots: slots}
}
