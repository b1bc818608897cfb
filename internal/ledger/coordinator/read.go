package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"steward/internal/ledger/mirror"
	"steward/internal/ledger/models"
	dErrors "steward/pkg/domain-errors"
)

// ReadResult is an authoritative record plus any cross-store drift found
// while verifying it. Drift never withholds the record.
type ReadResult struct {
	Record *models.Record `json:"record"`
	Drift  []string       `json:"drift,omitempty"`
}

// Drifted reports whether verification found disagreement.
func (r *ReadResult) Drifted() bool { return len(r.Drift) > 0 }

func (c *Coordinator) getAuthoritative(ctx context.Context, id string) (*models.Record, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	rec, err := c.tamper.Get(callCtx, id)
	if err != nil {
		err = translate(err, "record "+id)
		if dErrors.HasCode(err, dErrors.CodeIntegrityViolation) {
			c.recordIntegrityViolation(ctx, id, err)
		}
		return nil, err
	}
	return rec, nil
}

// GetGovernanceRecord returns the hash-verified record from the tamper store.
// With verify set the record's event stream is checked as well; problems are
// returned in ReadResult.Drift and logged.
func (c *Coordinator) GetGovernanceRecord(ctx context.Context, id string, verify bool) (res *ReadResult, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.get")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("record.id", id), attribute.Bool("ledger.verify", verify))

	rec, err := c.getAuthoritative(ctx, id)
	if err != nil {
		return nil, err
	}
	res = &ReadResult{Record: rec}
	if verify {
		res.Drift = c.crossVerify(ctx, rec)
		if res.Drifted() {
			span.SetAttributes(attribute.Int("ledger.drift", len(res.Drift)))
			c.logger.WarnContext(ctx, "cross-store drift",
				"record_id", id,
				"drift", res.Drift,
			)
		}
	}
	return res, nil
}

// crossVerify compares rec against the first event of its stream.
func (c *Coordinator) crossVerify(ctx context.Context, rec *models.Record) []string {
	c.crossVerified.Add(1)
	c.metrics.IncCrossVerification()

	callCtx, cancel := c.call(ctx)
	defer cancel()
	events, err := c.events.Read(callCtx, models.StreamID(rec.ID), 0, 1)

	var drift []string
	switch {
	case err != nil:
		drift = append(drift, fmt.Sprintf("event log unreadable: %v", err))
	case len(events) == 0:
		drift = append(drift, "event stream is empty")
	default:
		drift = append(drift, compareCreation(rec, events[0])...)
	}
	if len(drift) > 0 {
		c.inconsistent.Add(1)
		c.metrics.AddInconsistencies("event_log", 1)
	}
	return drift
}

func compareCreation(rec *models.Record, ev models.Event) []string {
	created, err := ev.DecodeCreated()
	if err != nil {
		return []string{"creation event undecodable"}
	}
	var drift []string
	if created.RecordID != rec.ID || ev.Metadata.RecordID != rec.ID {
		drift = append(drift, "creation event names a different record")
	}
	if created.ContentHash != rec.ContentHash {
		drift = append(drift, "creation event content hash differs")
	}
	if created.RecordType != rec.Type {
		drift = append(drift, "creation event record type differs")
	}
	if created.Authority != rec.Authority {
		drift = append(drift, "creation event authority differs")
	}
	want := rec.Type.CreationEvent()
	if ev.Type != want && !(rec.Type == models.RecordProposal && ev.Type == models.EventProposalDrafted) {
		drift = append(drift, fmt.Sprintf("stream opens with %s, want %s", ev.Type, want))
	}
	return drift
}

// Query selects records for listing.
type Query struct {
	Type   models.RecordType
	Status models.Status
	Limit  int
}

// Summary is a listed record with its lifecycle position.
type Summary struct {
	Record  *models.Record
	Status  models.Status
	Version int64
	// Source is "mirror" or "tamper" depending on which backend served it.
	Source string
}

// GetRecordsByType lists records of t, newest first.
func (c *Coordinator) GetRecordsByType(ctx context.Context, t models.RecordType, limit int) ([]*models.Record, error) {
	sums, err := c.Find(ctx, Query{Type: t, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Record, len(sums))
	for i, s := range sums {
		out[i] = s.Record
	}
	return out, nil
}

// Find serves listing from the mirror, re-hashing each row and replacing
// stale rows with the authoritative copy. When the mirror is failing (its
// circuit breaker open) the tamper store and event log serve instead.
func (c *Coordinator) Find(ctx context.Context, q Query) (out []Summary, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.find")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("record.type", string(q.Type)), attribute.String("record.status", string(q.Status)))

	if q.Type == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "record type is required")
	}

	if c.breaker.Allow() {
		rows, err := c.listMirror(ctx, q)
		if err == nil {
			if _, change := c.breaker.RecordSuccess(); change.Closed {
				c.metrics.SetMirrorBreaker(false)
				c.logger.InfoContext(ctx, "query mirror recovered")
			}
			span.SetAttributes(attribute.String("ledger.source", "mirror"))
			return c.fromMirror(ctx, rows), nil
		}
		c.noteMirrorFailure(ctx, "mirror read failed; using tamper store", "", err)
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.metrics.SetMirrorBreaker(true)
			c.logger.WarnContext(ctx, "query mirror circuit opened")
		}
	}

	span.SetAttributes(attribute.String("ledger.source", "tamper"))
	return c.fromTamper(ctx, q)
}

func (c *Coordinator) listMirror(ctx context.Context, q Query) ([]mirror.Row, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.mirror.List(callCtx, mirror.Filter{Type: q.Type, Status: q.Status, Limit: q.Limit})
}

func (c *Coordinator) fromMirror(ctx context.Context, rows []mirror.Row) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		s := Summary{Record: row.Record, Status: row.Status, Version: row.Version, Source: "mirror"}
		if err := row.Record.VerifyContent(); err != nil {
			c.inconsistent.Add(1)
			c.metrics.AddInconsistencies("mirror", 1)
			c.logger.WarnContext(ctx, "stale mirror row; serving authoritative copy",
				"record_id", row.Record.ID,
			)
			rec, err := c.getAuthoritative(ctx, row.Record.ID)
			if err != nil {
				continue
			}
			s.Record = rec
			s.Source = "tamper"
		}
		out = append(out, s)
	}
	return out
}

func (c *Coordinator) fromTamper(ctx context.Context, q Query) ([]Summary, error) {
	limit := q.Limit
	if q.Status != "" {
		// Status lives in the event log, so filter after replay.
		limit = 0
	}
	callCtx, cancel := c.call(ctx)
	recs, err := c.tamper.ListByType(callCtx, q.Type, limit)
	cancel()
	if err != nil {
		return nil, translate(err, "tamper store")
	}

	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		s := Summary{Record: rec, Source: "tamper"}
		if st, err := c.Replay(ctx, rec.ID); err == nil {
			s.Status = st.Status
			s.Version = st.Version + 1
		} else if q.Status != "" {
			return nil, err
		}
		if q.Status != "" && s.Status != q.Status {
			continue
		}
		out = append(out, s)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Replay reconstructs current state from the record's full event stream.
func (c *Coordinator) Replay(ctx context.Context, recordID string) (*models.RecordState, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	events, err := c.events.Read(callCtx, models.StreamID(recordID), 0, 0)
	if err != nil {
		return nil, translate(err, "event stream for "+recordID)
	}
	if len(events) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no events for record %s", recordID)
	}
	return models.Replay(events)
}

// StreamVersion returns the current length of the record's event stream.
func (c *Coordinator) StreamVersion(ctx context.Context, recordID string) (int64, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	v, err := c.events.Version(callCtx, models.StreamID(recordID))
	return v, translate(err, "event stream for "+recordID)
}
