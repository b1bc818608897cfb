// Package eventlog holds per-record append-only event streams with
// optimistic concurrency on append.
package eventlog

import (
	"context"

	"steward/internal/ledger/models"
)

// AnyVersion skips the expected-version check. Last writer wins.
const AnyVersion int64 = -1

// Log is implemented by every event log backend.
//
// A stream's version is its length. Append with expected == current version
// assigns the new events versions expected, expected+1, ... and returns the
// new length; any other expected value fails with sentinel.ErrConflict.
type Log interface {
	Append(ctx context.Context, stream string, expected int64, events ...models.Event) (int64, error)
	// Read returns up to count events starting at version start. count <= 0
	// reads to the end.
	Read(ctx context.Context, stream string, start int64, count int) ([]models.Event, error)
	Version(ctx context.Context, stream string) (int64, error)
	Close() error
}
