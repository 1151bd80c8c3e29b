// Package monitor holds the per-monitor lifecycle rules: counter updates after
// a check, failure thresholds, interval clamping and allowed status transitions.
package monitor

import (
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/model"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = goerr.New("invalid monitor status transition")

// Policy carries the configurable thresholds.
type Policy struct {
	MinInterval      int
	MaxInterval      int
	DefaultInterval  int
	ErrorThreshold   int
	WarningThreshold int
	LastErrorMaxLen  int
}

// DefaultPolicy returns the production thresholds: 3-30 minute intervals
// (default 5), warn at 3 consecutive failures, halt at 5.
func DefaultPolicy() Policy {
	return Policy{
		MinInterval:      3,
		MaxInterval:      30,
		DefaultInterval:  5,
		ErrorThreshold:   5,
		WarningThreshold: 3,
		LastErrorMaxLen:  500,
	}
}

// PolicyFromConfig builds a Policy from the scheduler section.
func PolicyFromConfig(cfg config.SchedulerConfig) Policy {
	return Policy{
		MinInterval:      cfg.MinIntervalMinutes,
		MaxInterval:      cfg.MaxIntervalMinutes,
		DefaultInterval:  cfg.DefaultIntervalMinutes,
		ErrorThreshold:   cfg.ErrorThreshold,
		WarningThreshold: cfg.WarningThreshold,
		LastErrorMaxLen:  cfg.LastErrorMaxLen,
	}
}

// ClampInterval bounds a check interval in minutes. Zero or negative means default.
func (p Policy) ClampInterval(minutes int) int {
	if minutes <= 0 {
		minutes = p.DefaultInterval
	}
	if minutes < p.MinInterval {
		return p.MinInterval
	}
	if p.MaxInterval > 0 && minutes > p.MaxInterval {
		return p.MaxInterval
	}
	return minutes
}

// Interval returns the clamped interval of m scaled by unit (time.Minute in production).
func (p Policy) Interval(m *model.Monitor, unit time.Duration) time.Duration {
	return time.Duration(p.ClampInterval(m.CheckInterval)) * unit
}

// Update is the set of monitor columns a check outcome changes.
type Update struct {
	Status        model.MonitorStatus
	LastCheck     time.Time
	ErrorCount    int
	LastError     *string
	TotalChecks   int
	SlotsFound    int
	LastSlotFound *time.Time
}

// Fields renders the update as a column map for persistence.
func (u Update) Fields() map[string]any {
	f := map[string]any{
		"status":       u.Status,
		"last_check":   u.LastCheck,
		"error_count":  u.ErrorCount,
		"total_checks": u.TotalChecks,
		"slots_found":  u.SlotsFound,
	}
	if u.LastError != nil {
		f["last_error"] = *u.LastError
	}
	if u.LastSlotFound != nil {
		f["last_slot_found"] = *u.LastSlotFound
	}
	return f
}

// Apply copies the update onto an in-memory monitor.
func (u Update) Apply(m *model.Monitor) {
	m.Status = u.Status
	lc := u.LastCheck
	m.LastCheck = &lc
	m.ErrorCount = u.ErrorCount
	if u.LastError != nil {
		m.LastError = *u.LastError
	}
	m.TotalChecks = u.TotalChecks
	m.SlotsFound = u.SlotsFound
	if u.LastSlotFound != nil {
		m.LastSlotFound = u.LastSlotFound
	}
}

// Transition is the result of applying a check outcome.
type Transition struct {
	Update Update
	// Reschedule is false once the monitor entered the error state.
	Reschedule bool
	// Warn is true exactly when this failure reached the warning threshold.
	Warn bool
	// Halted is true when this failure moved the monitor to error.
	Halted bool
}

// Success applies a completed check. freshSlots counts slots seen for the first time.
func (p Policy) Success(m *model.Monitor, now time.Time, freshSlots int) Transition {
	u := Update{
		Status:      model.StatusActive,
		LastCheck:   now,
		ErrorCount:  0,
		TotalChecks: m.TotalChecks + 1,
		SlotsFound:  m.SlotsFound + freshSlots,
	}
	if freshSlots > 0 {
		t := now
		u.LastSlotFound = &t
	}
	return Transition{Update: u, Reschedule: true}
}

// Failure applies a failed check.
func (p Policy) Failure(m *model.Monitor, now time.Time, cause error) Transition {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	msg = Truncate(msg, p.LastErrorMaxLen)

	count := m.ErrorCount + 1
	u := Update{
		Status:      model.StatusActive,
		LastCheck:   now,
		ErrorCount:  count,
		LastError:   &msg,
		TotalChecks: m.TotalChecks + 1,
		SlotsFound:  m.SlotsFound,
	}

	t := Transition{Update: u, Reschedule: true, Warn: count == p.WarningThreshold}
	if count >= p.ErrorThreshold {
		t.Update.Status = model.StatusError
		t.Reschedule = false
		t.Halted = true
	}
	return t
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

var transitions = map[model.MonitorStatus][]model.MonitorStatus{
	model.StatusActive:  {model.StatusActive, model.StatusPaused, model.StatusStopped, model.StatusError},
	model.StatusPaused:  {model.StatusActive, model.StatusStopped},
	model.StatusError:   {model.StatusActive, model.StatusStopped},
	model.StatusStopped: {model.StatusActive, model.StatusStopped},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to model.MonitorStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition for disallowed changes.
func ValidateTransition(from, to model.MonitorStatus) error {
	if !CanTransition(from, to) {
		return goerr.Wrap(ErrInvalidTransition, "status change rejected",
			goerr.V("from", from), goerr.V("to", to))
	}
	return nil
}
