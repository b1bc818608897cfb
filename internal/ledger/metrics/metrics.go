package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the ledger write, read and verification paths.
type Metrics struct {
	Writes             *prometheus.CounterVec
	WriteDuration      prometheus.Histogram
	MirrorFailures     prometheus.Counter
	CrossVerifications prometheus.Counter
	Inconsistencies    *prometheus.CounterVec
	IntegrityFailures  prometheus.Counter
	MirrorBreakerOpen  prometheus.Gauge
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_ledger_writes_total",
			Help: "Governance record writes by outcome (ok, failed, partial)",
		}, []string{"outcome"}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "steward_ledger_write_duration_seconds",
			Help:    "Time to store a governance record across all backends",
			Buckets: prometheus.DefBuckets,
		}),
		MirrorFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "steward_ledger_mirror_failures_total",
			Help: "Query mirror writes or reads that failed",
		}),
		CrossVerifications: f.NewCounter(prometheus.CounterOpts{
			Name: "steward_ledger_cross_verifications_total",
			Help: "Records compared across the tamper store and event log",
		}),
		Inconsistencies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_ledger_inconsistencies_total",
			Help: "Cross-store drift and self-check defects by source",
		}, []string{"source"}),
		IntegrityFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "steward_ledger_integrity_failures_total",
			Help: "Authoritative reads that failed hash verification",
		}),
		MirrorBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "steward_ledger_mirror_breaker_open",
			Help: "1 while reads bypass the query mirror",
		}),
	}
}

func (m *Metrics) IncWrite(outcome string) {
	if m != nil {
		m.Writes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveWrite(seconds float64) {
	if m != nil {
		m.WriteDuration.Observe(seconds)
	}
}

func (m *Metrics) IncMirrorFailure() {
	if m != nil {
		m.MirrorFailures.Inc()
	}
}

func (m *Metrics) IncCrossVerification() {
	if m != nil {
		m.CrossVerifications.Inc()
	}
}

func (m *Metrics) AddInconsistencies(source string, n int) {
	if m != nil && n > 0 {
		m.Inconsistencies.WithLabelValues(source).Add(float64(n))
	}
}

func (m *Metrics) IncIntegrityFailure() {
	if m != nil {
		m.IntegrityFailures.Inc()
	}
}

func (m *Metrics) SetMirrorBreaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.MirrorBreakerOpen.Set(1)
		return
	}
	m.MirrorBreakerOpen.Set(0)
}
