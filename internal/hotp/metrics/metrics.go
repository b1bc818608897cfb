package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for OTP validation.
type Metrics struct {
	// Validation outcomes by credential role ("primary", "backup", "none")
	Validations *prometheus.CounterVec
	// Counter persistence failures
	PersistFailures prometheus.Counter
}

// New registers HOTP metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers HOTP metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_hotp_validations_total",
			Help: "OTP validation attempts by matched credential role and outcome",
		}, []string{"credential", "outcome"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "steward_hotp_counter_persist_failures_total",
			Help: "Matched OTPs rejected because the counter could not be advanced",
		}),
	}
}

// IncValidation records a validation outcome.
func (m *Metrics) IncValidation(credential, outcome string) {
	if m != nil {
		m.Validations.WithLabelValues(credential, outcome).Inc()
	}
}

// IncPersistFailure records a counter persistence failure.
func (m *Metrics) IncPersistFailure() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}
