// Package httputil holds the JSON response and request helpers shared by all
// HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "steward/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// Validatable is implemented by request bodies decoded through DecodeAndPrepare.
type Validatable interface {
	Validate() error
}

// Normalizable is optionally implemented by request bodies that trim or
// lowercase input before validation.
type Normalizable interface {
	Normalize()
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// statusFor maps a code to the HTTP status the boundary exposes. Denials,
// approval gating and backend faults land on distinct statuses so callers can
// never mistake one for another.
func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeConcurrencyConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeUnauthorized, dErrors.CodeAuthenticationFailure,
		dErrors.CodeTokenExpired, dErrors.CodeTokenInvalid:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeAuthorizationDenied:
		return http.StatusForbidden
	case dErrors.CodeKillswitchActive:
		return http.StatusLocked
	case dErrors.CodeApprovalRequired:
		return http.StatusAccepted
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeBackendUnavailable, dErrors.CodeVaultClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// exposesDescription reports whether the message of a coded error may be
// returned to the caller. Internal and integrity faults return the code only;
// authentication failures return one fixed description.
func exposesDescription(code dErrors.Code) bool {
	switch code {
	case dErrors.CodeInternal, dErrors.CodeIntegrityViolation, dErrors.CodeDecryption,
		dErrors.CodeBackendUnavailable, dErrors.CodeAuthenticationFailure:
		return false
	default:
		return true
	}
}

// WriteError writes err as a JSON error body with the mapped status.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: string(code)}
	if de, ok := dErrors.As(err); ok && exposesDescription(code) {
		resp.Description = de.Message
	}
	if code == dErrors.CodeAuthenticationFailure {
		resp.Description = "authentication failed"
	}
	WriteJSON(w, statusFor(code), resp)
}

// WriteJSON writes v as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeAndPrepare decodes the request body into T, normalizes and validates
// it, and writes an error response on failure. The boolean reports whether the
// handler should continue.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid json body"))
		return nil, false
	}

	if n, ok := any(req).(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := any(req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			WriteError(w, err)
			return nil, false
		}
	}
	return req, true
}
