// Package coordinator sequences writes and reads across the tamper-evident
// store, the event log and the query mirror. It is the only path governance
// code uses to reach the ledger.
//
// Write order is fixed: tamper store (fatal on failure), event log, mirror
// (best-effort), then optional cross-verification. Reads trust the tamper
// store and report cross-store drift without withholding the record.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"steward/internal/ledger/eventlog"
	"steward/internal/ledger/metrics"
	"steward/internal/ledger/mirror"
	"steward/internal/ledger/models"
	"steward/internal/ledger/tamper"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/circuit"
	"steward/pkg/platform/sentinel"
)

//go:generate mockgen -source=../tamper/tamper.go -destination=mocks/tamper_mock.go -package=mocks Store
//go:generate mockgen -source=../eventlog/eventlog.go -destination=mocks/eventlog_mock.go -package=mocks Log
//go:generate mockgen -source=../mirror/mirror.go -destination=mocks/mirror_mock.go -package=mocks Mirror

const (
	DefaultCallTimeout = 5 * time.Second
	DefaultSampleSize  = 10
)

// Config tunes the coordinator.
type Config struct {
	// VerifyOnWrite runs cross-verification synchronously after each write.
	VerifyOnWrite bool
	// CallTimeout bounds every backend call.
	CallTimeout time.Duration
	// SampleSize is the number of recent records cross-verified per sweep.
	SampleSize int
}

// Coordinator owns the three backend handles for the life of the process.
type Coordinator struct {
	tamper   tamper.Store
	events   eventlog.Log
	mirror   mirror.Mirror
	registry *models.Registry
	breaker  *circuit.Breaker

	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	auditor audit.Recorder
	now     func() time.Time

	crossVerified  atomic.Int64
	inconsistent   atomic.Int64
	mirrorFailures atomic.Int64
}

type Option func(*Coordinator)

func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithAuditor receives a critical governance event on every integrity
// violation.
func WithAuditor(r audit.Recorder) Option {
	return func(c *Coordinator) {
		c.auditor = r
	}
}

func WithRegistry(r *models.Registry) Option {
	return func(c *Coordinator) {
		c.registry = r
	}
}

// WithMirrorBreaker replaces the breaker guarding mirror reads.
func WithMirrorBreaker(b *circuit.Breaker) Option {
	return func(c *Coordinator) {
		c.breaker = b
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New wires the coordinator over already-connected backends.
func New(ts tamper.Store, log eventlog.Log, m mirror.Mirror, opts ...Option) *Coordinator {
	c := &Coordinator{
		tamper: ts,
		events: log,
		mirror: m,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.CallTimeout <= 0 {
		c.cfg.CallTimeout = DefaultCallTimeout
	}
	if c.cfg.SampleSize <= 0 {
		c.cfg.SampleSize = DefaultSampleSize
	}
	if c.registry == nil {
		c.registry = models.NewRegistry()
	}
	if c.breaker == nil {
		c.breaker = circuit.New("query-mirror", circuit.WithClock(c.now))
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("steward/ledger")
	}
	return c
}

// Registry is the payload registry used to decode record content.
func (c *Coordinator) Registry() *models.Registry { return c.registry }

// Close releases all three backends.
func (c *Coordinator) Close() error {
	return errors.Join(c.tamper.Close(), c.events.Close(), c.mirror.Close())
}

// Counters are monotonically increasing since process start.
type Counters struct {
	CrossVerifications int64 `json:"cross_verify_count"`
	Inconsistencies    int64 `json:"inconsistency_count"`
	MirrorFailures     int64 `json:"mirror_failures"`
}

func (c *Coordinator) Counters() Counters {
	return Counters{
		CrossVerifications: c.crossVerified.Load(),
		Inconsistencies:    c.inconsistent.Load(),
		MirrorFailures:     c.mirrorFailures.Load(),
	}
}

// Stage names the write step that failed after the authoritative write.
type Stage string

const (
	StageEventLog Stage = "event_log"
	StageMirror   Stage = "mirror"
)

// PartialWriteError reports a record that reached the tamper store but not
// every downstream backend. Reconcile(RecordID) completes it.
type PartialWriteError struct {
	RecordID string
	Stage    Stage
	Err      error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("record %s stored, %s step failed: %v", e.RecordID, e.Stage, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func (c *Coordinator) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// translate maps backend sentinels onto the domain taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrCorrupted):
		return dErrors.Wrap(err, dErrors.CodeIntegrityViolation, what+" failed integrity check")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConcurrencyConflict, what+" version conflict")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+" timed out")
	default:
		if _, ok := dErrors.As(err); ok {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeBackendUnavailable, what+" unavailable")
	}
}

func (c *Coordinator) recordIntegrityViolation(ctx context.Context, recordID string, err error) {
	c.metrics.IncIntegrityFailure()
	c.logger.ErrorContext(ctx, "integrity violation",
		"record_id", recordID,
		"severity", string(audit.SeverityCritical),
		"error", err,
	)
	if c.auditor == nil {
		return
	}
	if aerr := c.auditor.Record(ctx, audit.Event{
		Category:  audit.CategoryGovernance,
		Timestamp: c.now(),
		UserID:    "system",
		Action:    audit.ActionIntegrityViolation,
		Key:       recordID,
		Success:   false,
		Reason:    "hash mismatch",
		Severity:  audit.SeverityCritical,
	}); aerr != nil {
		c.logger.WarnContext(ctx, "audit record failed", "action", audit.ActionIntegrityViolation, "error", aerr)
	}
}
