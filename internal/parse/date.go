package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical slot date format.
const DateLayout = "2006-01-02"

var (
	dmyRe  = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4})\b`)
	ymdRe  = regexp.MustCompile(`\b(\d{4})[/\-](\d{1,2})[/\-](\d{1,2})\b`)
	timeRe = regexp.MustCompile(`(?i)\b(\d{1,2})[:h](\d{2})\s*(am|pm)?`)

	// DatePattern matches text that looks like it carries a numeric date.
	DatePattern = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}|\d{4}[/\-]\d{1,2}[/\-]\d{1,2}`)
)

var fullLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	DateLayout,
	"January 2, 2006",
	"Monday, January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseDate parses a slot date from an attribute value or free text.
// Numeric day-first forms (DD/MM/YYYY, DD-MM-YYYY) win over month-first.
// The result is midnight in loc. Unparseable or impossible dates return false.
func ParseDate(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range fullLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			if layout == time.RFC3339 {
				t = t.In(loc)
			}
			return Midnight(t, loc), true
		}
	}

	if m := ymdRe.FindStringSubmatch(s); m != nil {
		if t, ok := build(m[1], m[2], m[3], loc); ok {
			return t, true
		}
	}
	if m := dmyRe.FindStringSubmatch(s); m != nil {
		if t, ok := build(m[3], m[2], m[1], loc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func build(ys, ms, ds string, loc *time.Location) (time.Time, bool) {
	y, err1 := strconv.Atoi(ys)
	m, err2 := strconv.Atoi(ms)
	d, err3 := strconv.Atoi(ds)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	// time.Date normalises 31/02 into March; reject instead.
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

// Midnight truncates t to the start of its day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// IsTodayOrLater compares calendar days, not instants.
func IsTodayOrLater(date, now time.Time, loc *time.Location) bool {
	return !Midnight(date, loc).Before(Midnight(now, loc))
}

// FormatDate renders a slot date in the canonical layout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseTime finds the first clock time in raw and returns it as HH:MM (24h).
func ParseTime(raw string) (string, bool) {
	m := timeRe.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	mins, err := strconv.Atoi(m[2])
	if err != nil || mins > 59 {
		return "", false
	}
	switch strings.ToLower(m[3]) {
	case "am":
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 12 {
			h += 12
		}
	}
	if h > 23 {
		return "", false
	}
	return strconv.Itoa(h/10) + strconv.Itoa(h%10) + ":" + strconv.Itoa(mins/10) + strconv.Itoa(mins%10), true
}
