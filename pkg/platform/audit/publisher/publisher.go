// Package publisher turns domain audit calls into persisted access log entries.
//
// Record is synchronous: the caller learns whether persistence succeeded and
// decides whether its own operation may proceed.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"steward/pkg/platform/audit"
)

// Publisher enriches events with request metadata and fans them out to stores.
type Publisher struct {
	stores  []audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides the timestamp source for events without one.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New creates a publisher writing to every store in order.
func New(stores []audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		stores: stores,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record validates, enriches and persists an event. Every store is attempted;
// the joined error of the failing ones is returned.
func (p *Publisher) Record(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return fmt.Errorf("audit event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	event = audit.Enrich(ctx, event)

	var errs []error
	for _, s := range p.stores {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"user_id", event.UserID,
				"error", errors.Join(errs...),
			)
		}
		return fmt.Errorf("audit persistence failed: %w", errors.Join(errs...))
	}

	if p.metrics != nil {
		p.metrics.IncEventsRecorded(event.Category, event.Success)
	}
	if event.Severity == audit.SeverityCritical && p.logger != nil {
		p.logger.WarnContext(ctx, "critical audit event",
			"action", event.Action,
			"user_id", event.UserID,
			"reason", event.Reason,
			"severity", string(event.Severity),
		)
	}
	return nil
}
