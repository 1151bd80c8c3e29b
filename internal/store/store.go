package store

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"visa-slot-monitor/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = goerr.New("record not found")

// SlotKey is the dedup identity of a slot.
type SlotKey struct {
	MonitorID string
	Date      time.Time
	Time      string
	Center    model.Center
}

// Store defines the interface for all database operations.
type Store interface {
	LoadMonitor(ctx context.Context, id string) (*model.Monitor, error)
	ListMonitors(ctx context.Context, status model.MonitorStatus) ([]model.Monitor, error)
	// ListMonitorsByUser returns a user's monitors, newest first.
	ListMonitorsByUser(ctx context.Context, userID string) ([]model.Monitor, error)
	UpdateMonitor(ctx context.Context, id string, fields map[string]any) error
	// FindOrCreateMonitor reuses an active or paused monitor for the same
	// user, profile and center, reactivating it with the requested settings.
	FindOrCreateMonitor(ctx context.Context, m *model.Monitor) (*model.Monitor, bool, error)

	FindOrCreateSlot(ctx context.Context, key SlotKey) (*model.Slot, bool, error)
	LoadSlot(ctx context.Context, id string) (*model.Slot, error)
	ListSlots(ctx context.Context, monitorID string) ([]model.Slot, error)
	MarkSlotsNotified(ctx context.Context, slotIDs []string, at time.Time) error
	MarkBookingAttempted(ctx context.Context, slotID string, status model.BookingStatus, at time.Time) error
	ExpireSlotsBefore(ctx context.Context, day time.Time) (int64, error)

	LoadProfile(ctx context.Context, id string) (*model.Profile, error)
	LoadUserSettings(ctx context.Context, userID string) (*model.Settings, error)

	ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db       *gorm.DB
	settings *cache.Cache
}

// Option configures the gorm store.
type Option func(*gormStore)

// WithSettingsTTL changes how long user settings are cached. Zero disables caching.
func WithSettingsTTL(ttl time.Duration) Option {
	return func(s *gormStore) {
		if ttl <= 0 {
			s.settings = nil
			return
		}
		s.settings = cache.New(ttl, 2*ttl)
	}
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{
		db:       db,
		settings: cache.New(30*time.Second, time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goerr.Wrap(ErrNotFound, kind+" not found", goerr.V("id", id))
	}
	return goerr.Wrap(err, "failed to load "+kind, goerr.V("id", id))
}

// LoadMonitor fetches a monitor by ID.
func (s *gormStore) LoadMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	var m model.Monitor
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "monitor", id)
	}
	return &m, nil
}

// ListMonitors returns every monitor in the given status.
func (s *gormStore) ListMonitors(ctx context.Context, status model.MonitorStatus) ([]model.Monitor, error) {
	var monitors []model.Monitor
	if err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&monitors).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list monitors", goerr.V("status", status))
	}
	return monitors, nil
}

// ListMonitorsByUser orders by creation, newest first.
func (s *gormStore) ListMonitorsByUser(ctx context.Context, userID string) ([]model.Monitor, error) {
	var monitors []model.Monitor
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&monitors).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list monitors", goerr.V("user_id", userID))
	}
	return monitors, nil
}

// UpdateMonitor writes the given columns of a single monitor row.
func (s *gormStore) UpdateMonitor(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.Monitor{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return goerr.Wrap(res.Error, "failed to update monitor", goerr.V("id", id))
	}
	if res.RowsAffected == 0 {
		return goerr.Wrap(ErrNotFound, "monitor not found", goerr.V("id", id))
	}
	return nil
}

// FindOrCreateMonitor implements the start-monitoring reuse rule.
func (s *gormStore) FindOrCreateMonitor(ctx context.Context, m *model.Monitor) (*model.Monitor, bool, error) {
	var out model.Monitor
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND profile_id = ? AND center = ? AND status IN ?",
			m.UserID, m.ProfileID, m.Center, []model.MonitorStatus{model.StatusActive, model.StatusPaused}).
			Order("created_at DESC").
			First(&out).Error
		switch {
		case err == nil:
			if err := tx.Model(&out).Updates(map[string]any{
				"check_interval": m.CheckInterval,
				"autofill_mode":  m.AutofillMode,
				"status":         model.StatusActive,
				"next_check":     m.NextCheck,
			}).Error; err != nil {
				return err
			}
			out.CheckInterval = m.CheckInterval
			out.AutofillMode = m.AutofillMode
			out.Status = model.StatusActive
			out.NextCheck = m.NextCheck
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = *m
			out.Status = model.StatusActive
			created = true
			return tx.Create(&out).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to find or create monitor",
			goerr.V("user_id", m.UserID), goerr.V("profile_id", m.ProfileID), goerr.V("center", m.Center))
	}
	return &out, created, nil
}

// dateKey normalises a slot date to a UTC calendar day so that equality
// lookups are stable across drivers.
func dateKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FindOrCreateSlot inserts the slot unless (monitor, date, time, center) already exists.
// created is true only for the call that inserted the row.
func (s *gormStore) FindOrCreateSlot(ctx context.Context, key SlotKey) (*model.Slot, bool, error) {
	day := dateKey(key.Date)
	slot := model.Slot{
		MonitorID: key.MonitorID,
		SlotDate:  day,
		SlotTime:  key.Time,
		Center:    key.Center,
		Status:    model.SlotAvailable,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "monitor_id"}, {Name: "slot_date"}, {Name: "slot_time"}, {Name: "center"}},
		DoNothing: true,
	}).Create(&slot)
	if res.Error != nil {
		return nil, false, goerr.Wrap(res.Error, "failed to insert slot", goerr.V("monitor_id", key.MonitorID))
	}
	if res.RowsAffected == 1 {
		return &slot, true, nil
	}

	var existing model.Slot
	if err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND slot_date = ? AND slot_time = ? AND center = ?", key.MonitorID, day, key.Time, key.Center).
		First(&existing).Error; err != nil {
		return nil, false, goerr.Wrap(err, "failed to load existing slot", goerr.V("monitor_id", key.MonitorID))
	}
	return &existing, false, nil
}

// LoadSlot fetches a slot by ID.
func (s *gormStore) LoadSlot(ctx context.Context, id string) (*model.Slot, error) {
	var slot model.Slot
	if err := s.db.WithContext(ctx).First(&slot, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "slot", id)
	}
	return &slot, nil
}

// ListSlots returns a monitor's slots, soonest first.
func (s *gormStore) ListSlots(ctx context.Context, monitorID string) ([]model.Slot, error) {
	var slots []model.Slot
	if err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("slot_date, slot_time").
		Find(&slots).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list slots", goerr.V("monitor_id", monitorID))
	}
	return slots, nil
}

// MarkSlotsNotified flags slots as delivered.
func (s *gormStore) MarkSlotsNotified(ctx context.Context, slotIDs []string, at time.Time) error {
	if len(slotIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.Slot{}).
		Where("id IN ?", slotIDs).
		Updates(map[string]any{"notified": true, "notified_at": at}).Error
	if err != nil {
		return goerr.Wrap(err, "failed to mark slots notified", goerr.V("count", len(slotIDs)))
	}
	return nil
}

// MarkBookingAttempted records an autofill attempt on a slot.
func (s *gormStore) MarkBookingAttempted(ctx context.Context, slotID string, status model.BookingStatus, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.Slot{}).
		Where("id = ?", slotID).
		Updates(map[string]any{
			"booking_attempted":    true,
			"booking_attempted_at": at,
			"booking_status":       status,
		}).Error
	if err != nil {
		return goerr.Wrap(err, "failed to record booking attempt", goerr.V("slot_id", slotID))
	}
	return nil
}

// ExpireSlotsBefore moves available slots dated before day to expired.
func (s *gormStore) ExpireSlotsBefore(ctx context.Context, day time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Slot{}).
		Where("status = ? AND slot_date < ?", model.SlotAvailable, dateKey(day)).
		Update("status", model.SlotExpired)
	if res.Error != nil {
		return 0, goerr.Wrap(res.Error, "failed to expire slots")
	}
	return res.RowsAffected, nil
}

// LoadProfile fetches a profile by ID.
func (s *gormStore) LoadProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "profile", id)
	}
	return &p, nil
}

// LoadUserSettings fetches a user's settings, served from a short-lived cache.
func (s *gormStore) LoadUserSettings(ctx context.Context, userID string) (*model.Settings, error) {
	if s.settings != nil {
		if v, ok := s.settings.Get(userID); ok {
			cp := v.(model.Settings)
			return &cp, nil
		}
	}

	var st model.Settings
	if err := s.db.WithContext(ctx).First(&st, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "settings", userID)
	}
	if s.settings != nil {
		s.settings.SetDefault(userID, st)
	}
	return &st, nil
}

// ListPushSubscriptions returns the browser push endpoints of a user.
func (s *gormStore) ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list push subscriptions", goerr.V("user_id", userID))
	}
	return subs, nil
}

// UpsertPushSubscription creates or refreshes a push endpoint.
func (s *gormStore) UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return goerr.Wrap(err, "failed to upsert push subscription")
	}
	return nil
}

// DeletePushSubscription removes a push endpoint.
func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return goerr.Wrap(err, "failed to delete push subscription")
	}
	return nil
}
