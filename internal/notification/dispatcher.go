package notification

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/metrics"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/store"
)

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	LoadUserSettings(ctx context.Context, userID string) (*model.Settings, error)
	MarkSlotsNotified(ctx context.Context, slotIDs []string, at time.Time) error
}

// ErrDispatcherClosed is returned by Shutdown when called twice.
var ErrDispatcherClosed = goerr.New("dispatcher already shut down")

// ErrUnknownChannel is returned for a channel name the dispatcher does not know.
var ErrUnknownChannel = goerr.New("unknown notification channel")

// ErrNoDestination is returned when a user has no address for a channel.
var ErrNoDestination = goerr.New("no destination for channel")

// Channels lists every channel name a user can configure.
var Channels = []string{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelTelegram, ChannelSlack, ChannelWebPush}

type job struct {
	userID  string
	msg     Message
	slotIDs []string
}

type target struct {
	channel Channel
	dest    string
}

// Dispatcher delivers notifications on a bounded pool of workers. Enqueueing
// never blocks the caller.
type Dispatcher struct {
	size        int
	jobs        chan job
	store       Store
	channels    map[string]Channel
	sendTimeout time.Duration
	pending     *cache.Cache
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Channels are keyed by Name; a user
// setting for a channel that was not supplied is skipped.
func NewDispatcher(cfg config.NotificationConfig, st Store, channels []Channel, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	byName := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	return &Dispatcher{
		size:        cfg.Workers,
		jobs:        make(chan job, cfg.QueueSize),
		store:       st,
		channels:    byName,
		sendTimeout: cfg.SendTimeout,
		// a pending entry outliving its job would suppress a renotification
		pending: cache.New(30*time.Minute, 10*time.Minute),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.size; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.logger.Debug("notification worker started", zap.Int("worker", id))
	for j := range d.jobs {
		d.process(ctx, j)
	}
	d.logger.Debug("notification worker stopped", zap.Int("worker", id))
}

// Shutdown stops accepting jobs and waits for queued ones to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "notification queue did not drain", goerr.V("queued", len(d.jobs)))
	}
}

// NotifySlotsFound enqueues an alert for slots not yet notified or pending.
// It reports whether a job was queued.
func (d *Dispatcher) NotifySlotsFound(m *model.Monitor, profileName string, slots []model.Slot, handoffURL string) bool {
	fresh := make([]model.Slot, 0, len(slots))
	for _, s := range slots {
		if s.Notified {
			continue
		}
		if err := d.pending.Add(s.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			continue
		}
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 {
		return false
	}

	ids := make([]string, len(fresh))
	for i, s := range fresh {
		ids[i] = s.ID
	}
	j := job{
		userID:  m.UserID,
		msg:     SlotsFoundMessage(m, profileName, fresh, handoffURL),
		slotIDs: ids,
	}
	if !d.enqueue(j) {
		d.release(ids)
		return false
	}
	return true
}

// NotifyError enqueues a failing-monitor warning.
func (d *Dispatcher) NotifyError(m *model.Monitor, errorCount int, lastError string) bool {
	return d.enqueue(job{userID: m.UserID, msg: ErrorMessage(m, errorCount, lastError)})
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(j, "dispatcher closed")
		return false
	}
	select {
	case d.jobs <- j:
		return true
	default:
		d.drop(j, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(j job, reason string) {
	d.metrics.NotificationsDropped.WithLabelValues(string(j.msg.Kind)).Inc()
	d.logger.Warn("dropping notification",
		zap.String("reason", reason),
		zap.String("kind", string(j.msg.Kind)),
		zap.String("monitor_id", j.msg.MonitorID))
}

func (d *Dispatcher) release(ids []string) {
	for _, id := range ids {
		d.pending.Delete(id)
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	defer d.release(j.slotIDs)

	settings, err := d.store.LoadUserSettings(ctx, j.userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		d.logger.Info("no notification settings, skipping delivery", zap.String("user_id", j.userID))
	case err != nil:
		d.logger.Error("failed to load notification settings", zap.String("user_id", j.userID), zap.Error(err))
	default:
		d.fanOut(ctx, j, d.targets(j.userID, settings))
	}

	if len(j.slotIDs) == 0 {
		return
	}
	if err := d.store.MarkSlotsNotified(ctx, j.slotIDs, d.now()); err != nil {
		d.logger.Error("failed to mark slots notified",
			zap.String("monitor_id", j.msg.MonitorID), zap.Int("slots", len(j.slotIDs)), zap.Error(err))
	}
}

func (d *Dispatcher) targets(userID string, s *model.Settings) []target {
	var out []target
	add := func(enabled bool, name, dest string) {
		if !enabled || dest == "" {
			return
		}
		c, ok := d.channels[name]
		if !ok {
			return
		}
		out = append(out, target{channel: c, dest: dest})
	}
	add(s.EmailNotifications, ChannelEmail, destination(userID, s, ChannelEmail))
	add(s.SMSNotifications, ChannelSMS, destination(userID, s, ChannelSMS))
	add(s.WhatsAppNotifications, ChannelWhatsApp, destination(userID, s, ChannelWhatsApp))
	add(s.TelegramNotifications, ChannelTelegram, destination(userID, s, ChannelTelegram))
	add(s.SlackNotifications, ChannelSlack, destination(userID, s, ChannelSlack))
	add(s.PushNotifications, ChannelWebPush, destination(userID, s, ChannelWebPush))
	return out
}

// SendTest delivers PingMessage through one channel, synchronously. An empty
// dest falls back to the address in the user's settings, enabled or not.
func (d *Dispatcher) SendTest(ctx context.Context, userID, channel, dest string) error {
	if !slices.Contains(Channels, channel) {
		return goerr.Wrap(ErrUnknownChannel, "cannot send test", goerr.V("channel", channel))
	}
	c, ok := d.channels[channel]
	if !ok {
		return goerr.Wrap(ErrNotConfigured, "cannot send test", goerr.V("channel", channel))
	}
	if dest == "" {
		settings, err := d.store.LoadUserSettings(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return goerr.Wrap(err, "cannot send test", goerr.V("user_id", userID))
		}
		dest = destination(userID, settings, channel)
	}
	if dest == "" {
		return goerr.Wrap(ErrNoDestination, "cannot send test", goerr.V("channel", channel), goerr.V("user_id", userID))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := c.Send(sendCtx, dest, PingMessage()); err != nil {
		d.metrics.NotificationsTotal.WithLabelValues(channel, "failure").Inc()
		return goerr.Wrap(err, "test notification failed", goerr.V("channel", channel))
	}
	d.metrics.NotificationsTotal.WithLabelValues(channel, "success").Inc()
	d.logger.Info("test notification sent", zap.String("channel", channel), zap.String("user_id", userID))
	return nil
}

func destination(userID string, s *model.Settings, channel string) string {
	if channel == ChannelWebPush {
		return userID
	}
	if s == nil {
		return ""
	}
	switch channel {
	case ChannelEmail:
		return s.EmailAddress
	case ChannelSMS:
		return s.PhoneNumber
	case ChannelWhatsApp:
		return s.WhatsAppNumber
	case ChannelTelegram:
		return s.TelegramChatID
	case ChannelSlack:
		return s.SlackWebhookURL
	}
	return ""
}

func (d *Dispatcher) fanOut(ctx context.Context, j job, targets []target) {
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()

			name := t.channel.Name()
			if err := t.channel.Send(sendCtx, t.dest, j.msg); err != nil {
				d.metrics.NotificationsTotal.WithLabelValues(name, "failure").Inc()
				d.logger.Warn("notification send failed",
					zap.String("channel", name),
					zap.String("kind", string(j.msg.Kind)),
					zap.String("monitor_id", j.msg.MonitorID),
					zap.Error(err))
				return nil
			}
			d.metrics.NotificationsTotal.WithLabelValues(name, "success").Inc()
			d.logger.Info("notification sent",
				zap.String("channel", name),
				zap.String("kind", string(j.msg.Kind)),
				zap.String("monitor_id", j.msg.MonitorID))
			return nil
		})
	}
	_ = g.Wait()
}
