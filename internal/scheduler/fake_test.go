package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/session"
	"visa-slot-monitor/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	monitors map[string]*model.Monitor
	profiles map[string]*model.Profile
	slots    map[store.SlotKey]*model.Slot
	updates  []map[string]any
	booked   map[string]model.BookingStatus
}

func newMemStore() *memStore {
	return &memStore{
		monitors: map[string]*model.Monitor{},
		profiles: map[string]*model.Profile{},
		slots:    map[store.SlotKey]*model.Slot{},
		booked:   map[string]model.BookingStatus{},
	}
}

func (s *memStore) addMonitor(m model.Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[m.ID] = &m
	if _, ok := s.profiles[m.ProfileID]; !ok {
		s.profiles[m.ProfileID] = &model.Profile{ID: m.ProfileID, UserID: m.UserID, ProfileName: "Main"}
	}
}

func (s *memStore) monitor(id string) model.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.monitors[id]
}

func (s *memStore) statusUpdates(id string) []model.MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MonitorStatus
	for _, u := range s.updates {
		if u["_id"] == id {
			if st, ok := u["status"].(model.MonitorStatus); ok {
				out = append(out, st)
			}
		}
	}
	return out
}

func (s *memStore) slotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *memStore) LoadMonitor(_ context.Context, id string) (*model.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return nil, goerr.Wrap(store.ErrNotFound, "monitor not found", goerr.V("id", id))
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ListMonitors(_ context.Context, status model.MonitorStatus) ([]model.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Monitor
	for _, m := range s.monitors {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) UpdateMonitor(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return goerr.Wrap(store.ErrNotFound, "monitor not found", goerr.V("id", id))
	}
	rec := map[string]any{"_id": id}
	for k, v := range fields {
		rec[k] = v
		switch k {
		case "status":
			m.Status = v.(model.MonitorStatus)
		case "error_count":
			m.ErrorCount = v.(int)
		case "last_error":
			m.LastError = v.(string)
		case "total_checks":
			m.TotalChecks = v.(int)
		case "slots_found":
			m.SlotsFound = v.(int)
		case "next_check":
			if t, ok := v.(time.Time); ok {
				m.NextCheck = &t
			} else {
				m.NextCheck = nil
			}
		}
	}
	s.updates = append(s.updates, rec)
	return nil
}

func (s *memStore) FindOrCreateSlot(_ context.Context, key store.SlotKey) (*model.Slot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key.Date = time.Date(key.Date.Year(), key.Date.Month(), key.Date.Day(), 0, 0, 0, 0, time.UTC)
	if sl, ok := s.slots[key]; ok {
		return sl, false, nil
	}
	sl := &model.Slot{
		ID:        key.Date.Format("20060102") + key.Time,
		MonitorID: key.MonitorID,
		SlotDate:  key.Date,
		SlotTime:  key.Time,
		Center:    key.Center,
		Status:    model.SlotAvailable,
	}
	s.slots[key] = sl
	return sl, true, nil
}

func (s *memStore) MarkBookingAttempted(_ context.Context, slotID string, status model.BookingStatus, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.booked[slotID] = status
	return nil
}

func (s *memStore) markNotified(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	for _, sl := range s.slots {
		if set[sl.ID] {
			sl.Notified = true
		}
	}
}

func (s *memStore) LoadProfile(_ context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, goerr.Wrap(store.ErrNotFound, "profile not found", goerr.V("id", id))
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) LoadUserSettings(context.Context, string) (*model.Settings, error) {
	return nil, goerr.Wrap(store.ErrNotFound, "settings not found")
}

// notifier records queued notifications and marks slots as delivered.
type notifier struct {
	store *memStore

	mu     sync.Mutex
	slots  [][]string
	errors []int
}

func (n *notifier) NotifySlotsFound(_ *model.Monitor, _ string, slots []model.Slot, _ string) bool {
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	n.mu.Lock()
	n.slots = append(n.slots, ids)
	n.mu.Unlock()
	n.store.markNotified(ids)
	return true
}

func (n *notifier) NotifyError(_ *model.Monitor, count int, _ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, count)
	return true
}

func (n *notifier) sent() ([][]string, []int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]string(nil), n.slots...), append([]int(nil), n.errors...)
}

type step struct {
	res   *session.CheckResult
	err   error
	delay time.Duration
	block chan struct{}
}

// scriptedDriver plays back steps; after the script ends it repeats the last step.
type scriptedDriver struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	starts  []time.Time
	ends    []time.Time
	closed  int
	handoff string
	entered chan struct{}
	reqs    []session.CheckRequest
}

func (d *scriptedDriver) Check(ctx context.Context, req session.CheckRequest) (*session.CheckResult, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	i := d.calls
	if i >= len(d.steps) {
		i = len(d.steps) - 1
	}
	st := d.steps[i]
	d.calls++
	d.starts = append(d.starts, time.Now())
	entered := d.entered
	d.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if st.block != nil {
		<-st.block
	}
	if st.delay > 0 {
		time.Sleep(st.delay)
	}

	d.mu.Lock()
	d.ends = append(d.ends, time.Now())
	d.mu.Unlock()
	if st.err != nil {
		return nil, st.err
	}
	if st.res == nil {
		return &session.CheckResult{}, nil
	}
	return st.res, nil
}

func (d *scriptedDriver) HandoffURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handoff
}

func (d *scriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *scriptedDriver) requests() []session.CheckRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]session.CheckRequest(nil), d.reqs...)
}

func (d *scriptedDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDriver) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *scriptedDriver) timings() ([]time.Time, []time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.starts...), append([]time.Time(nil), d.ends...)
}
