package coordinator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"steward/internal/ledger/mirror"
	"steward/internal/ledger/models"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/sentinel"
)

// StoreGovernanceRecord decodes content as the registered payload for t and
// stores it. See StorePayload.
func (c *Coordinator) StoreGovernanceRecord(ctx context.Context, t models.RecordType, authority string, content []byte) (string, error) {
	p, err := c.registry.Decode(t, content)
	if err != nil {
		return "", err
	}
	return c.StorePayload(ctx, authority, p)
}

// StorePayload writes a new record across all backends and returns its id.
// A tamper store failure aborts with nothing written. A later event log
// failure returns *PartialWriteError; mirror failures are only counted.
func (c *Coordinator) StorePayload(ctx context.Context, authority string, p models.Payload) (string, error) {
	return c.store(ctx, "ledger.store", authority, p, "")
}

// StoreDraft writes a proposal whose stream opens in draft status. Failure
// semantics match StorePayload.
func (c *Coordinator) StoreDraft(ctx context.Context, authority string, p models.ProposalPayload) (string, error) {
	return c.store(ctx, "ledger.store_draft", authority, p, models.EventProposalDrafted)
}

// store runs one instrumented write. An empty first keeps the payload's own
// creation event type.
func (c *Coordinator) store(ctx context.Context, spanName, authority string, p models.Payload, first models.EventType) (id string, err error) {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	defer func() {
		c.metrics.ObserveWrite(time.Since(start).Seconds())
		endSpan(span, err)
	}()

	rec, err := models.NewRecord(p, authority, c.now())
	if err != nil {
		return "", err
	}
	span.SetAttributes(
		attribute.String("record.id", rec.ID),
		attribute.String("record.type", string(rec.Type)),
	)

	if err := c.storeAuthoritative(ctx, rec); err != nil {
		c.metrics.IncWrite("failed")
		return "", err
	}

	if err := c.appendCreation(ctx, rec, first); err != nil {
		c.metrics.IncWrite("partial")
		c.logger.ErrorContext(ctx, "event append failed after authoritative write",
			"record_id", rec.ID,
			"error", err,
		)
		return rec.ID, &PartialWriteError{RecordID: rec.ID, Stage: StageEventLog, Err: err}
	}

	c.mirrorRecord(ctx, rec, initialStatus(rec, first), 1)

	if c.cfg.VerifyOnWrite {
		if drift := c.crossVerify(ctx, rec); len(drift) > 0 {
			c.logger.WarnContext(ctx, "cross-store drift after write", "record_id", rec.ID, "drift", drift)
		}
	}

	c.metrics.IncWrite("ok")
	c.logger.InfoContext(ctx, "governance record stored",
		"record_id", rec.ID,
		"record_type", string(rec.Type),
		"authority", rec.Authority,
		"draft", first == models.EventProposalDrafted,
	)
	return rec.ID, nil
}

func (c *Coordinator) storeAuthoritative(ctx context.Context, rec *models.Record) error {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	if _, err := c.tamper.Store(callCtx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "record "+rec.ID+" already exists")
		}
		return translate(err, "tamper store")
	}
	return nil
}

func (c *Coordinator) appendCreation(ctx context.Context, rec *models.Record, first models.EventType) error {
	ev, err := models.CreationEventFor(rec, c.now())
	if err != nil {
		return err
	}
	if first != "" {
		ev.Type = first
	}
	return c.append(ctx, models.StreamID(rec.ID), 0, ev)
}

func (c *Coordinator) append(ctx context.Context, stream string, expected int64, events ...models.Event) error {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	_, err := c.events.Append(callCtx, stream, expected, events...)
	return translate(err, "event stream "+stream)
}

// AppendTransition records a lifecycle event on an existing record's stream.
// expected is the stream version the caller last observed (or
// eventlog.AnyVersion); a mismatch fails with concurrency_conflict. The
// coordinator does not judge whether the transition is legal.
func (c *Coordinator) AppendTransition(ctx context.Context, recordID string, t models.EventType, data models.Transition, expected int64) (version int64, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.transition")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("record.id", recordID), attribute.String("event.type", string(t)))

	rec, err := c.getAuthoritative(ctx, recordID)
	if err != nil {
		return 0, err
	}
	ev, err := models.NewEvent(models.StreamID(recordID), t, data, models.Metadata{
		Timestamp: c.now(),
		Source:    models.SourceCoordinator,
		Authority: rec.Authority,
		RecordID:  rec.ID,
		Actor:     data.Actor,
	})
	if err != nil {
		return 0, err
	}

	callCtx, cancel := c.call(ctx)
	defer cancel()
	version, err = c.events.Append(callCtx, models.StreamID(recordID), expected, ev)
	if err != nil {
		return 0, translate(err, "event stream for "+recordID)
	}

	if st, rerr := c.Replay(ctx, recordID); rerr == nil {
		c.mirrorRecord(ctx, rec, st.Status, version)
	} else {
		c.logger.WarnContext(ctx, "replay after transition failed; mirror not refreshed",
			"record_id", recordID,
			"error", rerr,
		)
	}
	return version, nil
}

func (c *Coordinator) mirrorRecord(ctx context.Context, rec *models.Record, status models.Status, version int64) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	err := c.mirror.Upsert(callCtx, mirror.Row{
		Record:    rec,
		Status:    status,
		Version:   version,
		UpdatedAt: c.now(),
	})
	if err != nil {
		c.noteMirrorFailure(ctx, "mirror write failed", rec.ID, err)
	}
}

func (c *Coordinator) noteMirrorFailure(ctx context.Context, msg, recordID string, err error) {
	c.mirrorFailures.Add(1)
	c.metrics.IncMirrorFailure()
	c.logger.WarnContext(ctx, msg, "record_id", recordID, "error", err)
}

// Reconcile completes a partial write: it re-appends a missing creation event
// and refreshes the mirror from the authoritative record and its stream.
func (c *Coordinator) Reconcile(ctx context.Context, recordID string) error {
	rec, err := c.getAuthoritative(ctx, recordID)
	if err != nil {
		return err
	}

	stream := models.StreamID(recordID)
	callCtx, cancel := c.call(ctx)
	version, err := c.events.Version(callCtx, stream)
	cancel()
	if err != nil {
		return translate(err, "event stream "+stream)
	}
	if version == 0 {
		if err := c.appendCreation(ctx, rec, ""); err != nil && !dErrors.HasCode(err, dErrors.CodeConcurrencyConflict) {
			return err
		}
		c.logger.InfoContext(ctx, "reconciled missing creation event", "record_id", recordID)
	}

	st, err := c.Replay(ctx, recordID)
	if err != nil {
		return err
	}
	callCtx, cancel = c.call(ctx)
	defer cancel()
	err = c.mirror.Upsert(callCtx, mirror.Row{Record: rec, Status: st.Status, Version: st.Version + 1, UpdatedAt: c.now()})
	if err != nil {
		c.noteMirrorFailure(ctx, "mirror reconcile failed", recordID, err)
		return &PartialWriteError{RecordID: recordID, Stage: StageMirror, Err: translate(err, "mirror")}
	}
	return nil
}

func initialStatus(rec *models.Record, first models.EventType) models.Status {
	switch {
	case first == models.EventProposalDrafted:
		return models.StatusDraft
	case rec.Type == models.RecordProposal:
		return models.StatusPendingApproval
	default:
		return models.StatusRecorded
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		var pw *PartialWriteError
		if errors.As(err, &pw) {
			span.SetAttributes(attribute.String("ledger.partial_stage", string(pw.Stage)))
		}
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
