package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks audit persistence and fan-out.
type Metrics struct {
	Appended        prometheus.Counter
	PersistFailures prometheus.Counter
	PublishFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certledger_audit_entries_appended_total",
			Help: "Audit entries persisted",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certledger_audit_persist_failures_total",
			Help: "Audit appends that failed and aborted their operation",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certledger_audit_publish_failures_total",
			Help: "Audit fan-out attempts that failed",
		}),
	}
}

func (m *Metrics) AddAppended(n int) {
	if m != nil {
		m.Appended.Add(float64(n))
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) IncPublishFailures() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
