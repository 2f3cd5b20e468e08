package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the event store.
type Metrics struct {
	EventsAppended     *prometheus.CounterVec
	AppendConflicts    prometheus.Counter
	AppendDuration     prometheus.Histogram
	IntegrityChecks    prometheus.Counter
	IntegrityFailures  *prometheus.CounterVec
	CausationWalkDepth prometheus.Histogram
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return &Metrics{
		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_events_appended_total",
			Help: "Total number of domain events appended, by aggregate type",
		}, []string{"aggregate_type"}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_event_append_conflicts_total",
			Help: "Total number of appends rejected by the version check or serialization failure",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "covenant_event_append_duration_seconds",
			Help:    "Duration of Append operations including the transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		IntegrityChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_event_integrity_checks_total",
			Help: "Total number of event stream integrity verifications",
		}),
		IntegrityFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_event_integrity_failures_total",
			Help: "Event streams that failed verification, by aggregate type",
		}, []string{"aggregate_type"}),
		CausationWalkDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "covenant_causation_chain_depth",
			Help:    "Number of events in resolved causation chains",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

func (m *Metrics) IncrementAppended(aggregateType string, n int) {
	m.EventsAppended.WithLabelValues(aggregateType).Add(float64(n))
}

func (m *Metrics) IncrementConflicts() {
	m.AppendConflicts.Inc()
}

// ObserveAppend records the duration of an append.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAppend(start time.Time) {
	m.AppendDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementIntegrityCheck(aggregateType string, valid bool) {
	m.IntegrityChecks.Inc()
	if !valid {
		m.IntegrityFailures.WithLabelValues(aggregateType).Inc()
	}
}

func (m *Metrics) ObserveCausationDepth(n int) {
	m.CausationWalkDepth.Observe(float64(n))
}
