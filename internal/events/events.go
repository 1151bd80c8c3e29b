// Package events carries monitor telemetry to browsers and other processes.
// Publishing is best effort: it never blocks or fails a check.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind names a telemetry event.
type Kind string

const (
	KindCheckStarted     Kind = "check_started"
	KindCheckCompleted   Kind = "check_completed"
	KindSlotFound        Kind = "slot_found"
	KindError            Kind = "error"
	KindStatusChanged    Kind = "status_changed"
	KindBookingAttempted Kind = "booking_attempted"
)

// Event is one telemetry record.
type Event struct {
	ID        string         `json:"id"`
	MonitorID string         `json:"monitorId"`
	UserID    string         `json:"userId"`
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New stamps an event with an ID and the current time.
func New(monitorID, userID string, kind Kind, message string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

type subscriber struct {
	userID string
	ch     chan Event
}

// Bus is an in-process fan-out used by the SSE endpoint.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	next    int
	buffer  int
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
func NewBus(logger *zap.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a listener. An empty userID receives every event.
// The returned cancel func must be called to release the subscription.
func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	s := &subscriber{userID: userID, ch: make(chan Event, b.buffer)}
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish delivers e to matching subscribers, dropping it for any that are full.
func (b *Bus) Publish(_ context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.userID != "" && s.userID != e.UserID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Debug("event dropped for slow subscriber",
				zap.String("kind", string(e.Kind)), zap.String("monitor_id", e.MonitorID))
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
