package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, backend adapters and the
// vault blob layer return these (optionally wrapped) so services can translate
// them into coded domain errors.
//
//   - ErrNotFound: record, stream, secret or credential does not exist
//   - ErrConflict: expected version did not match the stored version
//   - ErrExpired: token or session has passed its expiry
//   - ErrAlreadyUsed: one-time value (HOTP counter) already consumed
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backend temporarily unreachable
//   - ErrCorrupted: persisted bytes failed a hash or format check
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrCorrupted    = errors.New("corrupted")
)
