package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"visa-slot-monitor/internal/events"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/monitor"
	"visa-slot-monitor/internal/parse"
	"visa-slot-monitor/internal/session"
	"visa-slot-monitor/internal/store"
)

// runCheck performs one check and persists its outcome. It returns false when
// the monitor must not be checked again.
func (s *Scheduler) runCheck(ctx context.Context, j *job, m *model.Monitor, profile *model.Profile) bool {
	log := s.logger.With(zap.String("monitor_id", m.ID), zap.String("center", string(m.Center)))
	started := s.now()
	s.events.Publish(ctx, events.New(m.ID, m.UserID, events.KindCheckStarted, "checking availability", nil))

	settings := s.loadSettings(ctx, m.UserID, log)

	// Stop cancels ctx but not the check itself; it closes the driver instead.
	checkCtx, cancel := context.WithTimeout(s.base, s.checkTimeout)
	res, err := j.driver.Check(checkCtx, session.CheckRequest{Monitor: m, Profile: profile, Settings: settings})
	cancel()

	s.metrics.CheckDuration.WithLabelValues(string(m.Center)).Observe(time.Since(started).Seconds())

	if ctx.Err() != nil {
		if err != nil {
			log.Info("discarding check result of stopped monitor", zap.Error(err))
		} else {
			log.Info("discarding check result of stopped monitor", zap.Int("slots", len(res.Slots)))
		}
		return false
	}

	if err != nil {
		return s.onFailure(ctx, m, err, log)
	}
	return s.onSuccess(ctx, j, m, profile, res, log)
}

func (s *Scheduler) onSuccess(ctx context.Context, j *job, m *model.Monitor, profile *model.Profile, res *session.CheckResult, log *zap.Logger) bool {
	now := s.now()
	stored := make([]model.Slot, 0, len(res.Slots))
	created := 0
	for _, found := range res.Slots {
		slot, isNew, err := s.store.FindOrCreateSlot(ctx, store.SlotKey{
			MonitorID: m.ID,
			Date:      found.Date,
			Time:      found.Time,
			Center:    m.Center,
		})
		if err != nil {
			log.Error("failed to persist slot", zap.Time("date", found.Date), zap.Error(err))
			continue
		}
		stored = append(stored, *slot)
		if isNew {
			created++
			s.events.Publish(ctx, events.New(m.ID, m.UserID, events.KindSlotFound, "slot available",
				map[string]any{"slotId": slot.ID, "date": parse.FormatDate(slot.SlotDate), "time": slot.SlotTime}))
		}
	}

	tr := s.policy.Success(m, now, created)
	s.persist(ctx, m, tr, now, log)

	if out := res.Autofill; out != nil && out.Attempted && len(stored) > 0 {
		status := model.BookingPending
		if !out.SlotSelected {
			status = model.BookingFailed
		}
		if err := s.store.MarkBookingAttempted(ctx, stored[0].ID, status, now); err != nil {
			log.Error("failed to record booking attempt", zap.Error(err))
		}
	}

	pending := make([]model.Slot, 0, len(stored))
	for _, slot := range stored {
		if !slot.Notified {
			pending = append(pending, slot)
		}
	}
	if len(pending) > 0 {
		url := j.driver.HandoffURL()
		if url == "" {
			url = res.URL
		}
		s.notifier.NotifySlotsFound(m, profile.ProfileName, pending, url)
	}

	s.metrics.ChecksTotal.WithLabelValues("success", "none").Inc()
	s.metrics.SlotsFound.Add(float64(created))
	s.events.Publish(ctx, events.New(m.ID, m.UserID, events.KindCheckCompleted, "check completed",
		map[string]any{"slots": len(res.Slots), "new": created, "captcha": string(res.Captcha)}))
	log.Info("check completed",
		zap.Int("slots", len(res.Slots)),
		zap.Int("new", created),
		zap.Bool("no_slots_message", res.NoSlotsMessage))
	return true
}

func (s *Scheduler) onFailure(ctx context.Context, m *model.Monitor, cause error, log *zap.Logger) bool {
	now := s.now()
	kind := session.Classify(cause)
	retryable := session.Retryable(cause)
	tr := s.policy.Failure(m, now, errors.New(session.Describe(cause)))
	s.persist(ctx, m, tr, now, log)

	s.metrics.ChecksTotal.WithLabelValues("failure", string(kind)).Inc()
	log.Warn("check failed",
		zap.String("kind", string(kind)),
		zap.Bool("retryable", retryable),
		zap.Int("error_count", m.ErrorCount),
		zap.Error(cause))

	if tr.Warn {
		s.notifier.NotifyError(m, m.ErrorCount, m.LastError)
	}
	s.events.Publish(ctx, events.New(m.ID, m.UserID, events.KindError, m.LastError,
		map[string]any{"errorCount": m.ErrorCount, "kind": string(kind), "retryable": retryable}))
	if tr.Halted {
		s.events.Publish(ctx, events.New(m.ID, m.UserID, events.KindStatusChanged, "monitor halted after repeated failures",
			map[string]any{"status": model.StatusError}))
	}
	return tr.Reschedule
}

// persist writes the transition and the next check time, then mirrors them
// onto the in-memory monitor.
func (s *Scheduler) persist(ctx context.Context, m *model.Monitor, tr monitor.Transition, now time.Time, log *zap.Logger) {
	fields := tr.Update.Fields()
	var next *time.Time
	if tr.Reschedule {
		t := now.Add(s.policy.Interval(m, s.unit))
		next = &t
		fields["next_check"] = t
	} else {
		fields["next_check"] = nil
	}
	if err := s.store.UpdateMonitor(ctx, m.ID, fields); err != nil {
		log.Error("failed to persist check outcome", zap.Error(err))
	}
	tr.Update.Apply(m)
	m.NextCheck = next
}
