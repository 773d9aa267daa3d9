package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking flows.
// All methods are safe on a nil receiver.
type SchedulingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	slotLatency        *prometheus.HistogramVec
	sideEffectFailures *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Appointment lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Conflict reports by highest-priority conflict type",
		}, []string{"type"}),
		slotLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_enumeration_seconds",
			Help:      "Latency of available-slot enumeration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"variant"}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "side_effect_failures_total",
			Help:      "Failed post-commit notification or calendar sync calls",
		}, []string{"collaborator"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.conflictsTotal, m.slotLatency, m.sideEffectFailures)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(conflictType string) {
	if m == nil || conflictType == "" {
		return
	}
	m.conflictsTotal.WithLabelValues(conflictType).Inc()
}

func (m *SchedulingMetrics) ObserveSlotEnumeration(variant string, seconds float64) {
	if m == nil {
		return
	}
	m.slotLatency.WithLabelValues(variant).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSideEffectFailure(collaborator string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(collaborator).Inc()
}
