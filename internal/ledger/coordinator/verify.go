package coordinator

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"steward/internal/ledger/mirror"
	"steward/internal/ledger/tamper"
	"steward/pkg/platform/sentinel"
)

// Report is the outcome of a full consistency check.
type Report struct {
	OK      bool                `json:"ok"`
	Tamper  tamper.Report       `json:"tamper"`
	Mirror  mirror.Report       `json:"mirror"`
	Sampled int                 `json:"sampled"`
	Drift   map[string][]string `json:"drift,omitempty"`
	// Errors holds backends that could not be checked, keyed by backend.
	Errors   map[string]string `json:"errors,omitempty"`
	Counters Counters          `json:"counters"`
}

// VerifySystemConsistency runs each backend's own check and cross-verifies a
// sample of recent records, all in parallel. Backend failures are reported,
// not returned; the error is non-nil only when ctx ends first.
func (c *Coordinator) VerifySystemConsistency(ctx context.Context) (rep Report, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.verify")
	defer func() { endSpan(span, err) }()

	var (
		mu   sync.Mutex
		errs = make(map[string]string)
	)
	fail := func(backend string, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs[backend] = err.Error()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := c.call(gctx)
		defer cancel()
		r, err := c.tamper.Verify(callCtx)
		if err != nil {
			fail("tamper", err)
			return nil
		}
		rep.Tamper = r
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := c.call(gctx)
		defer cancel()
		r, err := c.mirror.Verify(callCtx)
		if err != nil {
			c.noteMirrorFailure(gctx, "mirror self-check failed", "", err)
			fail("mirror", err)
			return nil
		}
		rep.Mirror = r
		return nil
	})
	g.Go(func() error {
		drift, sampled, err := c.sample(gctx)
		if err != nil {
			fail("sample", err)
			return nil
		}
		mu.Lock()
		rep.Drift = drift
		rep.Sampled = sampled
		mu.Unlock()
		return nil
	})
	_ = g.Wait()
	if ctx.Err() != nil {
		return Report{}, ctx.Err()
	}

	if n := len(rep.Tamper.Broken); n > 0 {
		c.inconsistent.Add(int64(n))
		c.metrics.AddInconsistencies("tamper", n)
	}
	if n := len(rep.Mirror.Stale); n > 0 {
		c.inconsistent.Add(int64(n))
		c.metrics.AddInconsistencies("mirror", n)
	}
	if len(errs) > 0 {
		rep.Errors = errs
	}
	rep.OK = len(errs) == 0 && rep.Tamper.OK() && rep.Mirror.OK() && len(rep.Drift) == 0
	rep.Counters = c.Counters()

	span.SetAttributes(attribute.Bool("ledger.consistent", rep.OK), attribute.Int("ledger.sampled", rep.Sampled))
	level := c.logger.InfoContext
	if !rep.OK {
		level = c.logger.WarnContext
	}
	level(ctx, "consistency check finished",
		"ok", rep.OK,
		"entries", rep.Tamper.Entries,
		"broken", len(rep.Tamper.Broken),
		"stale_mirror_rows", len(rep.Mirror.Stale),
		"sampled", rep.Sampled,
		"drifted", len(rep.Drift),
		"errors", len(errs),
	)
	return rep, nil
}

// sample cross-verifies the most recent records against the event log and
// the mirror.
func (c *Coordinator) sample(ctx context.Context) (map[string][]string, int, error) {
	callCtx, cancel := c.call(ctx)
	ids, err := c.tamper.RecentIDs(callCtx, c.cfg.SampleSize)
	cancel()
	if err != nil {
		return nil, 0, err
	}

	drift := make(map[string][]string)
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		rec, err := c.getAuthoritative(ctx, id)
		if err != nil {
			// Corrupt entries are already counted by the chain walk.
			drift[id] = []string{err.Error()}
			continue
		}
		d := c.crossVerify(ctx, rec)

		mctx, mcancel := c.call(ctx)
		row, err := c.mirror.Get(mctx, id)
		mcancel()
		mirrorDrift := ""
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			mirrorDrift = "missing from mirror"
		case err != nil:
			// Mirror availability is reported by its own self-check.
		case row.Record.ContentHash != rec.ContentHash || string(row.Record.Content) != string(rec.Content):
			mirrorDrift = "mirror row differs from authoritative record"
		}
		if mirrorDrift != "" {
			d = append(d, mirrorDrift)
			c.inconsistent.Add(1)
			c.metrics.AddInconsistencies("mirror", 1)
		}
		if len(d) > 0 {
			drift[id] = d
		}
	}
	if len(drift) == 0 {
		drift = nil
	}
	return drift, len(ids), nil
}
