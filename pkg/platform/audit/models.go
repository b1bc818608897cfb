// Package audit defines the access log event shared by the vault, access
// control, the HOTP validator and the governance workflow, plus the sinks
// that persist it.
package audit

import (
	"context"
	"time"
)

// Category classifies events for routing and retention.
type Category string

const (
	// CategoryAccess covers every vault secret and kill-switch action.
	CategoryAccess Category = "access"
	// CategorySecurity covers authentication, OTP and session events.
	CategorySecurity Category = "security"
	// CategoryGovernance covers proposal decisions and ledger faults.
	CategoryGovernance Category = "governance"
)

// Severity levels for SIEM routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actions recorded by the control plane.
const (
	ActionAuthenticate       = "authenticate"
	ActionGet                = "get"
	ActionSet                = "set"
	ActionDelete             = "delete"
	ActionList               = "list"
	ActionSync               = "sync"
	ActionKillswitchActivate = "killswitch_activate"
	ActionKillswitchRelease  = "killswitch_deactivate"
	ActionOTPValidate        = "otp_validate"
	ActionOTPBackupUsed      = "otp_backup_used"
	ActionSessionCreate      = "session_create"
	ActionSessionRevalidate  = "session_revalidate"
	ActionProposalApprove    = "proposal_approve"
	ActionProposalReject     = "proposal_reject"
	ActionIntegrityViolation = "integrity_violation"
)

// Event is one access log entry. It is recorded for every action regardless
// of outcome. Secret values never appear in an event.
type Event struct {
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	Severity  Severity  `json:"severity"`
	ClientIP  string    `json:"client_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Client    string    `json:"client,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Recorder accepts events from domain code.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event Event) error

func (f RecorderFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }
