// Package sweeper periodically moves slots whose date has passed to expired.
package sweeper

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/metrics"
	"visa-slot-monitor/internal/parse"
)

// Expirer is the store operation the sweeper drives.
type Expirer interface {
	ExpireSlotsBefore(ctx context.Context, day time.Time) (int64, error)
}

// Sweeper wraps robfig/cron.
type Sweeper struct {
	cron    *cron.Cron
	spec    string
	store   Expirer
	loc     *time.Location
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a sweeper. Days are counted in loc, the site's timezone.
func New(cfg config.SweeperConfig, st Expirer, loc *time.Location, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Sweeper{
		cron:    cron.New(cron.WithLocation(loc)),
		spec:    cfg.Spec,
		store:   st,
		loc:     loc,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Start registers the job and starts the cron loop.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("slot sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return goerr.Wrap(err, "invalid sweeper spec", goerr.V("spec", s.spec))
	}
	s.cron.Start()
	s.logger.Info("slot sweeper started", zap.String("spec", s.spec))
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep expires every available slot dated before today.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	today := parse.Midnight(s.now(), s.loc)
	n, err := s.store.ExpireSlotsBefore(ctx, today)
	if err != nil {
		return 0, err
	}
	s.metrics.SlotsExpired.Add(float64(n))
	if n > 0 {
		s.logger.Info("expired past slots", zap.Int64("count", n), zap.String("before", parse.FormatDate(today)))
	}
	return n, nil
}
