package publisher

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"steward/pkg/platform/audit"
)

// Metrics tracks access log throughput.
type Metrics struct {
	eventsRecorded  *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// NewMetrics registers audit metrics with reg, or the default registry when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		eventsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_audit_events_total",
			Help: "Access log events persisted, by category and outcome",
		}, []string{"category", "success"}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "steward_audit_persist_failures_total",
			Help: "Access log events that could not be persisted",
		}),
	}
}

func (m *Metrics) IncEventsRecorded(c audit.Category, success bool) {
	m.eventsRecorded.WithLabelValues(string(c), strconv.FormatBool(success)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.persistFailures.Inc()
}
