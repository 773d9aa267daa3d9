package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("create", "success")
	m.ObserveBooking("create", "success")
	m.ObserveBooking("create", "conflict")
	m.ObserveConflict("appointment")
	m.ObserveConflict("")
	m.ObserveSideEffectFailure("calendar_sync")
	m.ObserveSlotEnumeration("single", 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("create", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictsTotal.WithLabelValues("appointment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sideEffectFailures.WithLabelValues("calendar_sync")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *SchedulingMetrics
	assert.NotPanics(t, func() {
		m.ObserveBooking("create", "success")
		m.ObserveConflict("exception")
		m.ObserveSlotEnumeration("batch_dates", 0.1)
		m.ObserveSideEffectFailure("notifier")
	})
}
