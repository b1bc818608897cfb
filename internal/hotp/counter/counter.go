// Package counter persists per-credential HOTP counters. Every implementation
// advances with compare-and-set so two processes can never both consume the
// same counter value.
package counter

import (
	"context"
	"fmt"

	"steward/pkg/platform/sentinel"
)

// Store loads and advances counters. A credential never seen before has
// counter 0.
type Store interface {
	Load(ctx context.Context, credentialID string) (uint64, error)
	// Advance moves the counter from expected to next. It fails with
	// sentinel.ErrConflict if the stored value is no longer expected, and
	// rejects next <= expected.
	Advance(ctx context.Context, credentialID string, expected, next uint64) error
}

func checkMonotonic(expected, next uint64) error {
	if next <= expected {
		return fmt.Errorf("counter must increase (%d -> %d): %w", expected, next, sentinel.ErrInvalidState)
	}
	return nil
}
