// Package scheduler runs one goroutine per active monitor. Each goroutine
// checks immediately, then parks on a timer that is re-armed only after the
// previous check finished, so checks of one monitor never overlap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/events"
	"visa-slot-monitor/internal/metrics"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/monitor"
	"visa-slot-monitor/internal/session"
	"visa-slot-monitor/internal/store"
)

// Driver performs checks for a single monitor and owns its browser.
type Driver interface {
	Check(ctx context.Context, req session.CheckRequest) (*session.CheckResult, error)
	HandoffURL() string
	Close() error
}

// DriverFactory creates the driver of a monitor when its job starts.
type DriverFactory func(m *model.Monitor) Driver

// Store is the persistence the scheduler uses.
type Store interface {
	LoadMonitor(ctx context.Context, id string) (*model.Monitor, error)
	ListMonitors(ctx context.Context, status model.MonitorStatus) ([]model.Monitor, error)
	UpdateMonitor(ctx context.Context, id string, fields map[string]any) error
	FindOrCreateSlot(ctx context.Context, key store.SlotKey) (*model.Slot, bool, error)
	MarkBookingAttempted(ctx context.Context, slotID string, status model.BookingStatus, at time.Time) error
	LoadProfile(ctx context.Context, id string) (*model.Profile, error)
	LoadUserSettings(ctx context.Context, userID string) (*model.Settings, error)
}

// Notifier queues user notifications without blocking.
type Notifier interface {
	NotifySlotsFound(m *model.Monitor, profileName string, slots []model.Slot, handoffURL string) bool
	NotifyError(m *model.Monitor, errorCount int, lastError string) bool
}

// Scheduler owns the jobs of all active monitors.
type Scheduler struct {
	state    *State
	store    Store
	factory  DriverFactory
	notifier Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	policy   monitor.Policy

	unit                time.Duration
	checkTimeout        time.Duration
	recoveryConcurrency int
	now                 func() time.Time

	handoffMu sync.Mutex
	handoffs  map[string]Driver // semi-mode bookings left open, by profile ID

	// base outlives Stop so an in-flight check can finish; Shutdown cancels it.
	base       context.Context
	cancelBase context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIntervalUnit scales check intervals. Production uses time.Minute.
func WithIntervalUnit(unit time.Duration) Option {
	return func(s *Scheduler) { s.unit = unit }
}

// WithPublisher sets the telemetry sink.
func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler with an empty State.
func New(cfg config.SchedulerConfig, st Store, factory DriverFactory, notifier Notifier, logger *zap.Logger, opts ...Option) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		state:               newState(),
		handoffs:            make(map[string]Driver),
		store:               st,
		factory:             factory,
		notifier:            notifier,
		events:              events.Nop{},
		logger:              logger,
		policy:              monitor.PolicyFromConfig(cfg),
		unit:                time.Minute,
		checkTimeout:        cfg.CheckTimeout,
		recoveryConcurrency: cfg.RecoveryConcurrency,
		now:                 time.Now,
		base:                base,
		cancelBase:          cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewUnregistered()
	}
	if s.checkTimeout <= 0 {
		s.checkTimeout = 5 * time.Minute
	}
	if s.recoveryConcurrency <= 0 {
		s.recoveryConcurrency = 1
	}
	return s
}

// Start launches the job of an active monitor, replacing any running one.
// A monitor in any other status is left alone.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	if s.base.Err() != nil {
		return goerr.New("scheduler is shut down", goerr.V("monitor_id", id))
	}
	m, err := s.store.LoadMonitor(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != model.StatusActive {
		s.logger.Info("monitor not active, not scheduling",
			zap.String("monitor_id", id), zap.String("status", string(m.Status)))
		return nil
	}

	s.teardown(id)

	profile, err := s.store.LoadProfile(ctx, m.ProfileID)
	if err != nil {
		s.failStart(ctx, m, err)
		return goerr.Wrap(err, "cannot start monitor without profile", goerr.V("monitor_id", id))
	}

	loopCtx, cancel := context.WithCancel(s.base)
	j := &job{
		cancel: cancel,
		done:   make(chan struct{}),
		driver: s.factory(m),
		userID: m.UserID,
	}
	prev, n := s.state.put(id, j)
	s.metrics.ActiveMonitors.Set(float64(n))
	if prev != nil {
		s.closeJob(id, prev)
	}

	s.logger.Info("monitor started",
		zap.String("monitor_id", id),
		zap.String("center", string(m.Center)),
		zap.Duration("interval", s.policy.Interval(m, s.unit)))
	go s.run(loopCtx, j, m, profile)
	return nil
}

// failStart marks a monitor that cannot be scheduled as failed, so it does not
// keep showing active without a job.
func (s *Scheduler) failStart(ctx context.Context, m *model.Monitor, cause error) {
	msg := monitor.Truncate("failed to load profile: "+cause.Error(), s.policy.LastErrorMaxLen)
	err := s.store.UpdateMonitor(ctx, m.ID, map[string]any{
		"status":     model.StatusError,
		"last_error": msg,
		"next_check": nil,
	})
	if err != nil {
		s.logger.Error("failed to persist start failure", zap.String("monitor_id", m.ID), zap.Error(err))
		return
	}
	m.Status = model.StatusError
	m.LastError = msg
	m.NextCheck = nil
	s.events.Publish(ctx, events.New(m.ID, m.UserID, events.KindStatusChanged, msg,
		map[string]any{"status": model.StatusError}))
}

// Resume is Start.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	return s.Start(ctx, id)
}

// Stop cancels the monitor's pending check, closes its browser and persists
// the stopped status. A check already in flight finishes and is discarded.
func (s *Scheduler) Stop(ctx context.Context, id string) error {
	var userID string
	if j := s.teardown(id); j != nil {
		userID = j.userID
	} else if m, err := s.store.LoadMonitor(ctx, id); err == nil {
		userID = m.UserID
	}
	err := s.store.UpdateMonitor(ctx, id, map[string]any{
		"status":     model.StatusStopped,
		"next_check": nil,
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, events.New(id, userID, events.KindStatusChanged, "monitor stopped",
		map[string]any{"status": model.StatusStopped}))
	return nil
}

// Pause tears the job down like Stop but leaves the status to the caller.
func (s *Scheduler) Pause(_ context.Context, id string) error {
	s.teardown(id)
	return nil
}

func (s *Scheduler) teardown(id string) *job {
	j, n := s.state.take(id)
	if j == nil {
		return nil
	}
	s.metrics.ActiveMonitors.Set(float64(n))
	s.closeJob(id, j)
	return j
}

func (s *Scheduler) closeJob(id string, j *job) {
	j.cancel()
	s.closeDriver(id, j.driver)
}

// RecoverOnStartup restarts every monitor persisted as active. Individual
// start failures are logged; it returns the number of monitors started.
func (s *Scheduler) RecoverOnStartup(ctx context.Context) (int, error) {
	monitors, err := s.store.ListMonitors(ctx, model.StatusActive)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(s.recoveryConcurrency)
	for _, m := range monitors {
		g.Go(func() error {
			if err := s.Start(ctx, m.ID); err != nil {
				s.logger.Error("failed to recover monitor", zap.String("monitor_id", m.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	started := 0
	for _, m := range monitors {
		if s.state.has(m.ID) {
			started++
		}
	}
	s.logger.Info("recovered monitors", zap.Int("found", len(monitors)), zap.Int("started", started))
	return started, nil
}

// Shutdown stops every job without changing persisted statuses, so the
// monitors are recovered on the next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	all := s.state.takeAll()
	s.metrics.ActiveMonitors.Set(0)
	s.cancelBase()
	s.releaseHandoffs()

	for id, j := range all {
		s.closeJob(id, j)
	}
	for id, j := range all {
		select {
		case <-j.done:
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "monitor loop did not exit", goerr.V("monitor_id", id))
		}
	}
	return nil
}

// Running reports whether id has a live job.
func (s *Scheduler) Running(id string) bool {
	return s.state.has(id)
}

// Active lists the IDs with a live job.
func (s *Scheduler) Active() []string {
	return s.state.ids()
}

func (s *Scheduler) run(ctx context.Context, j *job, m *model.Monitor, profile *model.Profile) {
	defer close(j.done)
	log := s.logger.With(zap.String("monitor_id", m.ID))

	if !s.runCheck(ctx, j, m, profile) {
		s.finish(ctx, j, m, log)
		return
	}

	timer := time.NewTimer(s.policy.Interval(m, s.unit))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("monitor loop cancelled")
			return
		case <-timer.C:
			if !s.runCheck(ctx, j, m, profile) {
				s.finish(ctx, j, m, log)
				return
			}
			timer.Reset(s.policy.Interval(m, s.unit))
		}
	}
}

// finish releases a job whose loop ended on its own.
func (s *Scheduler) finish(ctx context.Context, j *job, m *model.Monitor, log *zap.Logger) {
	if ctx.Err() != nil {
		log.Debug("monitor loop cancelled during check")
		return
	}
	ok, n := s.state.release(m.ID, j)
	if !ok {
		return
	}
	s.metrics.ActiveMonitors.Set(float64(n))
	s.closeJob(m.ID, j)
	log.Warn("monitor halted", zap.String("status", string(m.Status)), zap.Int("error_count", m.ErrorCount))
}

func (s *Scheduler) loadSettings(ctx context.Context, userID string, log *zap.Logger) *model.Settings {
	st, err := s.store.LoadUserSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to load user settings", zap.Error(err))
		}
		return nil
	}
	return st
}
