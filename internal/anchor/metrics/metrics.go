package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ledger anchoring.
type Metrics struct {
	// Outcome counts anchoring attempts by kind (certificate, revocation) and outcome.
	Outcome *prometheus.CounterVec

	// Latency measures full anchoring duration including reconciliation lookups.
	Latency *prometheus.HistogramVec

	// CostLimit records the cost ceiling passed to the ledger after the margin.
	CostLimit prometheus.Histogram

	// BreakerOpen is 1 while the ledger circuit breaker is open.
	BreakerOpen prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Outcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_anchor_outcomes_total",
			Help: "Anchoring attempts by kind and outcome",
		}, []string{"kind", "outcome"}), // outcome: anchored, existing, reconciled, pending, failed, unavailable

		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_anchor_duration_seconds",
			Help:    "Duration of anchoring including ledger lookups",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),

		CostLimit: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_anchor_cost_limit",
			Help:    "Cost limit submitted to the ledger after applying the safety margin",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
		}),

		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "certledger_anchor_breaker_open",
			Help: "1 when the ledger circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncOutcome(kind, outcome string) {
	if m != nil {
		m.Outcome.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) ObserveLatency(kind string, d time.Duration) {
	if m != nil {
		m.Latency.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveCostLimit(limit uint64) {
	if m != nil {
		m.CostLimit.Observe(float64(limit))
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
