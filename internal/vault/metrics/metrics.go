package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the secret vault.
type Metrics struct {
	// Operations by action and outcome ("ok", "denied", "killswitch", "error")
	Operations *prometheus.CounterVec
	// Full-blob reencrypt and persist latency
	PersistDuration prometheus.Histogram
	// 1 while the kill-switch is engaged
	KillswitchActive prometheus.Gauge
	// Tokens revoked by kill-switch activations
	RevokedTokens prometheus.Counter
	// Secrets currently held by the open vault
	Secrets prometheus.Gauge
}

// New registers vault metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers vault metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_vault_operations_total",
			Help: "Vault operations by action and outcome",
		}, []string{"action", "outcome"}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "steward_vault_persist_duration_seconds",
			Help:    "Time to reencrypt and persist the vault blob",
			Buckets: prometheus.DefBuckets,
		}),
		KillswitchActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "steward_vault_killswitch_active",
			Help: "Whether the kill-switch is engaged",
		}),
		RevokedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "steward_vault_killswitch_revoked_tokens_total",
			Help: "Bearer tokens revoked by kill-switch activation",
		}),
		Secrets: f.NewGauge(prometheus.GaugeOpts{
			Name: "steward_vault_secrets",
			Help: "Number of secrets in the open vault",
		}),
	}
}

// IncOperation records an operation outcome.
func (m *Metrics) IncOperation(action, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(action, outcome).Inc()
	}
}

// ObservePersist records a persist duration.
func (m *Metrics) ObservePersist(d time.Duration) {
	if m != nil {
		m.PersistDuration.Observe(d.Seconds())
	}
}

// SetKillswitch records the kill-switch state and how many tokens it revoked.
func (m *Metrics) SetKillswitch(active bool, revoked int) {
	if m == nil {
		return
	}
	if active {
		m.KillswitchActive.Set(1)
	} else {
		m.KillswitchActive.Set(0)
	}
	m.RevokedTokens.Add(float64(revoked))
}

// SetSecrets records the current secret count.
func (m *Metrics) SetSecrets(n int) {
	if m != nil {
		m.Secrets.Set(float64(n))
	}
}
