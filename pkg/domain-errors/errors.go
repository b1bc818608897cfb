// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error values (or wrap lower-level errors with Wrap) so the
// transport layer can map a stable code to a status without inspecting
// messages. Infrastructure layers return pkg/platform/sentinel errors instead
// and let services translate them.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine readable error classification.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"

	// Governance taxonomy.
	CodeAuthenticationFailure Code = "authentication_failure"
	CodeAuthorizationDenied   Code = "authorization_denied"
	CodeKillswitchActive      Code = "killswitch_active"
	CodeTokenExpired          Code = "token_expired"
	CodeTokenInvalid          Code = "token_invalid"
	CodeDecryption            Code = "decryption_error"
	CodeConcurrencyConflict   Code = "concurrency_conflict"
	CodeIntegrityViolation    Code = "integrity_violation"
	CodeBackendUnavailable    Code = "backend_unavailable"
	CodeCrossStoreDrift       Code = "cross_store_drift"
	CodeVaultClosed           Code = "vault_closed"
	CodeApprovalRequired      Code = "approval_required"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost coded error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
