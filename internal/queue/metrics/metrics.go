package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the index queue pipeline.
type Metrics struct {
	// Enqueue outcomes: "inserted" or "duplicate".
	Enqueued *prometheus.CounterVec

	// Entry outcomes by disposition: "applied", "coalesced", "retried",
	// "exhausted".
	Outcomes *prometheus.CounterVec

	// Engine apply latency by operation.
	ApplyLatency *prometheus.HistogramVec

	// Unprocessed entries, sampled by the worker loop.
	Depth prometheus.Gauge

	// Stuck-FAILED entries awaiting operator action.
	Failed prometheus.Gauge
}

// New creates a Metrics instance with all queue metrics registered.
func New() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "searchsync_queue_enqueued_total",
			Help: "Enqueue calls by result",
		}, []string{"result"}),

		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "searchsync_queue_outcomes_total",
			Help: "Queue entry dispositions",
		}, []string{"outcome"}),

		ApplyLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "searchsync_queue_apply_duration_seconds",
			Help:    "Duration of engine document writes by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		Depth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "searchsync_queue_depth",
			Help: "Unprocessed queue entries",
		}),

		Failed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "searchsync_queue_failed",
			Help: "Stuck-FAILED queue entries requiring operator action",
		}),
	}
}

// IncrementEnqueued records an enqueue result.
func (m *Metrics) IncrementEnqueued(result string) {
	if m != nil {
		m.Enqueued.WithLabelValues(result).Inc()
	}
}

// IncrementOutcome records an entry disposition.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveApply records the duration of one engine write.
func (m *Metrics) ObserveApply(operation string, d time.Duration) {
	if m != nil {
		m.ApplyLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// SetDepth records the sampled queue depth.
func (m *Metrics) SetDepth(depth int64) {
	if m != nil {
		m.Depth.Set(float64(depth))
	}
}

// SetFailed records the sampled stuck-FAILED count.
func (m *Metrics) SetFailed(count int64) {
	if m != nil {
		m.Failed.Set(float64(count))
	}
}
