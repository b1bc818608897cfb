// Package mirror is the queryable, best-effort copy of governance records.
// It is never authoritative: readers re-hash every row they return.
package mirror

import (
	"context"
	"time"

	"steward/internal/ledger/models"
)

// Row is a mirrored record plus its lifecycle position.
type Row struct {
	Record    *models.Record
	Status    models.Status
	Version   int64
	UpdatedAt time.Time
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type   models.RecordType
	Status models.Status
	Limit  int
}

// Report summarizes a mirror self-check.
type Report struct {
	Rows  int      `json:"rows"`
	Stale []string `json:"stale,omitempty"`
}

func (r Report) OK() bool { return len(r.Stale) == 0 }

// Mirror is implemented by every query mirror backend.
type Mirror interface {
	// Upsert inserts or replaces the row for row.Record.ID.
	Upsert(ctx context.Context, row Row) error
	// Get returns sentinel.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Row, error)
	// List returns rows newest first.
	List(ctx context.Context, f Filter) ([]Row, error)
	// Verify reports rows whose content no longer matches their hash.
	Verify(ctx context.Context) (Report, error)
	Close() error
}
