package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChecksTotal.WithLabelValues("success", "none").Inc()
	m.ChecksTotal.WithLabelValues("failure", "navigation").Add(2)
	m.SlotsFound.Add(3)
	m.NotificationsTotal.WithLabelValues("telegram", "success").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("failure", "navigation")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SlotsFound))

	expected := `
# HELP slotwatch_scheduler_checks_total Completed checks by outcome and failure kind.
# TYPE slotwatch_scheduler_checks_total counter
slotwatch_scheduler_checks_total{kind="navigation",outcome="failure"} 2
slotwatch_scheduler_checks_total{kind="none",outcome="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "slotwatch_scheduler_checks_total"))
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestNewUnregisteredIsIsolated(t *testing.T) {
	a := NewUnregistered()
	b := NewUnregistered()
	a.SlotsExpired.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.SlotsExpired))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SlotsExpired))
}
