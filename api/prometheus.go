package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmcleod/signpad/correlation"
)

// Metrics holds the Prometheus collectors exported by the API.
type Metrics struct {
	auditEvents  *prometheus.CounterVec
	waitOutcomes *prometheus.CounterVec
	waitDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, sessions, pendingWaits func() int) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		auditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signpad",
			Name:      "audit_events_total",
			Help:      "Audit events by type.",
		}, []string{"event"}),
		waitOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signpad",
			Name:      "wait_outcomes_total",
			Help:      "Finished signature waits by outcome.",
		}, []string{"outcome"}),
		waitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signpad",
			Name:      "wait_duration_seconds",
			Help:      "Time from wait-for-response to its outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "signpad",
		Name:      "sessions",
		Help:      "Live pad sessions.",
	}, func() float64 { return float64(sessions()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "signpad",
		Name:      "pending_waits",
		Help:      "Operators currently waiting for a pad response.",
	}, func() float64 { return float64(pendingWaits()) })
	return m
}

func (m *Metrics) observeWait(kind correlation.Kind, waited time.Duration) {
	m.waitOutcomes.WithLabelValues(string(kind)).Inc()
	m.waitDuration.Observe(waited.Seconds())
}
