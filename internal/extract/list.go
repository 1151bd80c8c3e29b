package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"visa-slot-monitor/internal/parse"
)

var listContainers = []string{
	".appointment-list",
	".available-slots",
	"table.appointments",
	`[class*="appointment-list"]`,
	".slot-list",
	"#availableSlots",
}

// List scans list and table containers for rows that carry a date.
type List struct{}

func (List) Name() string { return "list" }

func (List) Extract(doc *goquery.Document, env Env) Outcome {
	for _, sel := range listContainers {
		rows := doc.Find(sel).Find("li, tr, .slot-item")
		if rows.Length() == 0 {
			continue
		}

		var slots []Slot
		rows.Each(func(_ int, row *goquery.Selection) {
			if !bookable(row) {
				return
			}
			text := strings.TrimSpace(row.Text())
			raw := row.AttrOr("data-date", "")
			if raw == "" {
				raw = row.Find("[data-date]").First().AttrOr("data-date", "")
			}
			if raw == "" {
				if !parse.DatePattern.MatchString(text) {
					return
				}
				raw = text
			}
			date, ok := parse.ParseDate(raw, env.Location)
			if !ok {
				return
			}

			clock := timeOf(row, false)
			if clock == "" {
				clock = timeOf(row.Find("[data-time]").First(), false)
			}
			if clock == "" {
				clock, _ = parse.ParseTime(text)
			}
			if s, ok := keep(date, clock, env, "list"); ok {
				slots = append(slots, s)
			}
		})
		return Outcome{Slots: slots}
	}
	return Outcome{}
}
