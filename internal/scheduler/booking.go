package scheduler

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/events"
	"visa-slot-monitor/internal/extract"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/session"
)

// ErrNothingToBook is returned when a booking found no slot to select.
var ErrNothingToBook = goerr.New("no slot available to book")

// BookingRequest asks for a one-off autofill outside the monitor loop.
type BookingRequest struct {
	Profile *model.Profile
	// Slot pins the slot to select. When nil the first slot on the page is used
	// and no attempt is recorded.
	Slot *model.Slot
	Mode model.AutofillMode
}

// Booking is the outcome of Book.
type Booking struct {
	Outcome session.AutofillOutcome
	URL     string
	Status  model.BookingStatus
}

// Book opens a dedicated browser, fills the booking form for the profile and
// records the attempt on the slot. In semi mode the filled page stays open for
// the user until the profile's next booking or Shutdown.
func (s *Scheduler) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	if s.base.Err() != nil {
		return nil, goerr.New("scheduler is shut down")
	}
	p := req.Profile
	center := p.Center
	if req.Slot != nil {
		center = req.Slot.Center
	}
	if center == "" {
		return nil, goerr.Wrap(ErrNothingToBook, "profile has no center", goerr.V("profile_id", p.ID))
	}
	m := &model.Monitor{
		ID:           "booking-" + p.ID,
		UserID:       p.UserID,
		ProfileID:    p.ID,
		Center:       center,
		AutofillMode: req.Mode,
		Status:       model.StatusActive,
	}
	log := s.logger.With(zap.String("profile_id", p.ID), zap.String("center", string(center)), zap.String("mode", string(req.Mode)))

	check := session.CheckRequest{Monitor: m, Profile: p, Settings: s.loadSettings(ctx, p.UserID, log)}
	if req.Slot != nil {
		check.Slot = &extract.Slot{Date: req.Slot.SlotDate, Time: req.Slot.SlotTime, Center: req.Slot.Center}
	}

	d := s.factory(m)
	checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	res, err := d.Check(checkCtx, check)
	cancel()
	if err != nil {
		s.closeDriver(m.ID, d)
		return nil, goerr.Wrap(err, "booking check failed", goerr.V("profile_id", p.ID))
	}
	if res.Autofill == nil {
		s.closeDriver(m.ID, d)
		return nil, goerr.Wrap(ErrNothingToBook, "no slot on booking page", goerr.V("profile_id", p.ID))
	}

	out := &Booking{Outcome: *res.Autofill, URL: res.Autofill.URL, Status: model.BookingPending}
	if !out.Outcome.SlotSelected {
		out.Status = model.BookingFailed
	}
	if out.URL == "" {
		out.URL = res.URL
	}

	if req.Slot != nil {
		if err := s.store.MarkBookingAttempted(ctx, req.Slot.ID, out.Status, s.now()); err != nil {
			log.Error("failed to record booking attempt", zap.String("slot_id", req.Slot.ID), zap.Error(err))
		}
		s.events.Publish(ctx, events.New(req.Slot.MonitorID, p.UserID, events.KindBookingAttempted, "booking form filled",
			map[string]any{"slotId": req.Slot.ID, "status": out.Status, "mode": req.Mode}))
	}

	if url := d.HandoffURL(); url != "" {
		out.URL = url
		s.holdHandoff(p.ID, d)
	} else {
		s.closeDriver(m.ID, d)
	}

	log.Info("booking form filled",
		zap.Bool("slot_selected", out.Outcome.SlotSelected),
		zap.Bool("submitted", out.Outcome.Submitted),
		zap.Strings("fields", out.Outcome.FilledFields))
	return out, nil
}

// holdHandoff keeps d open for the user, closing the profile's previous one.
func (s *Scheduler) holdHandoff(profileID string, d Driver) {
	s.handoffMu.Lock()
	prev := s.handoffs[profileID]
	s.handoffs[profileID] = d
	s.handoffMu.Unlock()
	if prev != nil {
		s.closeDriver("booking-"+profileID, prev)
	}
}

func (s *Scheduler) releaseHandoffs() {
	s.handoffMu.Lock()
	held := s.handoffs
	s.handoffs = make(map[string]Driver)
	s.handoffMu.Unlock()
	for profileID, d := range held {
		s.closeDriver("booking-"+profileID, d)
	}
}

func (s *Scheduler) closeDriver(id string, d Driver) {
	if err := d.Close(); err != nil {
		s.logger.Warn("failed to close driver", zap.String("monitor_id", id), zap.Error(err))
	}
}
