// Package extract turns a rendered booking page into normalised appointment slots.
//
// Extraction is a best-effort heuristic stack: every Strategy runs against the
// same document, later strategies run even when earlier ones found slots, and
// the union is deduplicated by (date, time, center).
package extract

import (
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/parse"
)

// Slot is one normalised candidate appointment.
type Slot struct {
	Date   time.Time    `json:"date"`
	Time   string       `json:"time,omitempty"`
	Center model.Center `json:"center"`
	Source string       `json:"source"`
}

// Key is the dedup identity of a slot.
func (s Slot) Key() string {
	return parse.FormatDate(s.Date) + "|" + s.Time + "|" + string(s.Center)
}

// Env carries the per-check context strategies need.
type Env struct {
	Center   model.Center
	Now      time.Time
	Location *time.Location
}

func (e Env) today() time.Time {
	return parse.Midnight(e.Now, e.Location)
}

// Outcome is what a single strategy found.
type Outcome struct {
	Slots []Slot
	// NoSlotsMessage is set when the page explicitly said nothing is available.
	NoSlotsMessage bool
}

// Strategy is one way of locating slots in a document.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, env Env) Outcome
}

// Result is the merged output of all strategies.
type Result struct {
	Slots          []Slot
	NoSlotsMessage bool
	PerStrategy    map[string]int
}

// Extractor runs an ordered list of strategies.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// DefaultStrategies returns the calendar, time-slot, list and clickable strategies in that order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		Calendar{},
		TimeSlots{},
		List{},
		Clickable{},
	}
}

// New creates an Extractor. With no strategies the defaults are used.
func New(logger *zap.Logger, strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{strategies: strategies, logger: logger}
}

// ExtractHTML parses html and runs Extract on it.
func (e *Extractor) ExtractHTML(html string, env Env) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, goerr.Wrap(err, "failed to parse page snapshot")
	}
	return e.Extract(doc, env), nil
}

// Extract runs every strategy and merges their slots. An empty result is not an error.
func (e *Extractor) Extract(doc *goquery.Document, env Env) Result {
	if env.Location == nil {
		env.Location = time.UTC
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}

	res := Result{PerStrategy: make(map[string]int, len(e.strategies))}
	var all []Slot
	for _, s := range e.strategies {
		out := s.Extract(doc, env)
		res.PerStrategy[s.Name()] = len(out.Slots)
		if out.NoSlotsMessage {
			res.NoSlotsMessage = true
		}
		if len(out.Slots) > 0 {
			e.logger.Debug("strategy found slots",
				zap.String("strategy", s.Name()), zap.Int("count", len(out.Slots)))
		}
		all = append(all, out.Slots...)
	}

	res.Slots = Dedupe(all)
	return res
}

// Dedupe drops repeated (date, time, center) slots, keeping the first source,
// and orders the rest chronologically. A date-only slot is dropped when the
// same day and center also has timed slots.
func Dedupe(slots []Slot) []Slot {
	timed := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		if s.Time != "" {
			timed[Slot{Date: s.Date, Center: s.Center}.Key()] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(slots))
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		k := s.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		if _, ok := timed[k]; ok && s.Time == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	return out
}
