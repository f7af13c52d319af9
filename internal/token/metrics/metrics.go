package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for consistency token checks.
type Metrics struct {
	// Tokens issued.
	Issued prometheus.Counter

	// Check outcomes: "satisfied", "pending", "expired", "unknown".
	Checks *prometheus.CounterVec
}

// New creates a Metrics instance with all token metrics registered.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "searchsync_tokens_issued_total",
			Help: "Consistency tokens issued",
		}),

		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "searchsync_token_checks_total",
			Help: "Token check results by state",
		}, []string{"state"}),
	}
}

// IncrementIssued records an issued token.
func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

// IncrementCheck records a check result.
func (m *Metrics) IncrementCheck(state string) {
	if m != nil {
		m.Checks.WithLabelValues(state).Inc()
	}
}
