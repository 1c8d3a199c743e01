package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate lifecycle.
type Metrics struct {
	// Transitions counts committed status changes by target status.
	Transitions *prometheus.CounterVec

	// Verifications counts public verification results by outcome
	// (valid, invalid, tampered, not_found).
	Verifications *prometheus.CounterVec

	ConflictRetries prometheus.Counter

	ProcessDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_certificate_transitions_total",
			Help: "Certificate status transitions by target status",
		}, []string{"status"}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_certificate_verifications_total",
			Help: "Certificate verification requests by outcome",
		}, []string{"outcome"}),
		ConflictRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificate_conflict_retries_total",
			Help: "Optimistic concurrency conflicts that triggered a re-read",
		}),
		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_certificate_process_duration_seconds",
			Help:    "Duration of approval decisions including anchoring",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncTransition(status string) {
	if m != nil {
		m.Transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncConflictRetry() {
	if m != nil {
		m.ConflictRetries.Inc()
	}
}

// ObserveProcess records the duration of a Process call started at start.
func (m *Metrics) ObserveProcess(start time.Time) {
	if m != nil {
		m.ProcessDuration.Observe(time.Since(start).Seconds())
	}
}
