// Package metrics defines the Prometheus collectors of the slot monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slotwatch"

// Metrics holds every collector the service exports.
type Metrics struct {
	ChecksTotal    *prometheus.CounterVec
	CheckDuration  *prometheus.HistogramVec
	SlotsFound     prometheus.Counter
	ActiveMonitors prometheus.Gauge

	NotificationsTotal   *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec

	CaptchaSolves *prometheus.CounterVec
	SlotsExpired  prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "checks_total",
			Help:      "Completed checks by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		CheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "check_duration_seconds",
			Help:      "Wall time of a single check.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~8.5min
		}, []string{"center"}),
		SlotsFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "slots_found_total",
			Help:      "Slots seen for the first time.",
		}),
		ActiveMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_monitors",
			Help:      "Monitors with a live unit of work.",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "sends_total",
			Help:      "Channel sends by result.",
		}, []string{"channel", "result"}),
		NotificationsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dropped_total",
			Help:      "Notification jobs dropped because the queue was full.",
		}, []string{"kind"}),
		CaptchaSolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "captcha_solves_total",
			Help:      "CAPTCHA solve attempts by result.",
		}, []string{"result"}),
		SlotsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "slots_expired_total",
			Help:      "Slots moved to expired by the sweeper.",
		}),
	}
}

// NewUnregistered returns collectors bound to a private registry, for tests
// and for components constructed without a metrics dependency.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
