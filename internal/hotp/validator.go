package hotp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"steward/internal/hotp/counter"
	"steward/internal/hotp/metrics"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/sentinel"
)

const (
	// DefaultWindow is how many counters past the persisted one are scanned.
	DefaultWindow = 20
	// MaxWindow bounds configurable windows.
	MaxWindow = 100
	// MaxBackups is the number of backup credentials a validator accepts.
	MaxBackups = 2
)

// Credential is one hardware token's shared secret.
type Credential struct {
	ID     string
	Secret []byte
}

// Validator checks codes against the primary credential, then each backup.
// Validate calls are serialized so one code is accepted at most once per process;
// the counter store's compare-and-set extends that across processes.
type Validator struct {
	mu      sync.Mutex
	primary Credential
	backups []Credential
	store   counter.Store
	window  uint64
	digits  int
	logger  *slog.Logger
	auditor audit.Recorder
	metrics *metrics.Metrics
	subject string
}

// Option configures a Validator.
type Option func(*Validator)

// WithWindow sets the look-ahead window, clamped to [1, MaxWindow].
func WithWindow(n int) Option {
	return func(v *Validator) {
		if n < 1 {
			n = 1
		}
		if n > MaxWindow {
			n = MaxWindow
		}
		v.window = uint64(n)
	}
}

// WithDigits sets the code length.
func WithDigits(n int) Option {
	return func(v *Validator) {
		v.digits = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithAuditor records validation attempts and backup usage.
func WithAuditor(r audit.Recorder) Option {
	return func(v *Validator) {
		v.auditor = r
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithSubject names the principal the credentials belong to, for audit entries.
func WithSubject(userID string) Option {
	return func(v *Validator) {
		v.subject = userID
	}
}

// NewValidator creates a validator. Credential ids must be unique and secrets
// non-empty.
func NewValidator(primary Credential, backups []Credential, store counter.Store, opts ...Option) (*Validator, error) {
	if len(backups) > MaxBackups {
		return nil, fmt.Errorf("at most %d backup credentials supported, got %d", MaxBackups, len(backups))
	}
	seen := map[string]bool{}
	for _, c := range append([]Credential{primary}, backups...) {
		if c.ID == "" || len(c.Secret) == 0 {
			return nil, fmt.Errorf("credential id and secret are required")
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate credential id %q", c.ID)
		}
		seen[c.ID] = true
	}
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}

	v := &Validator{
		primary: primary,
		backups: backups,
		store:   store,
		window:  DefaultWindow,
		digits:  DefaultDigits,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.digits < 6 || v.digits > 8 {
		return nil, fmt.Errorf("unsupported digit count %d", v.digits)
	}
	return v, nil
}

// Window returns the configured look-ahead window.
func (v *Validator) Window() int { return int(v.window) }

// Validate reports whether code matches any credential inside its window. On a
// match the credential's counter is advanced past the matched value and
// persisted before true is returned; on a miss no counter changes. An error
// means the outcome could not be established and must be treated as failure.
func (v *Validator) Validate(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != v.digits || !allDigits(code) {
		v.finish(ctx, "none", "malformed", false)
		return false, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	creds := append([]Credential{v.primary}, v.backups...)
	for i, cred := range creds {
		role := "primary"
		if i > 0 {
			role = "backup"
		}
		matched, err := v.tryCredential(ctx, cred, code)
		if err != nil {
			v.metrics.IncPersistFailure()
			v.finish(ctx, role, "error", false)
			return false, err
		}
		if !matched {
			continue
		}
		if i > 0 {
			v.backupUsed(ctx, cred.ID)
		}
		v.finish(ctx, role, "accepted", true)
		return true, nil
	}

	v.logger.WarnContext(ctx, "otp validation failed")
	v.finish(ctx, "none", "rejected", false)
	return false, nil
}

// tryCredential scans the whole window without an early exit so the time
// taken does not depend on where, or whether, the code matched.
func (v *Validator) tryCredential(ctx context.Context, cred Credential, code string) (bool, error) {
	base, err := v.store.Load(ctx, cred.ID)
	if err != nil {
		return false, fmt.Errorf("load counter %s: %w", cred.ID, err)
	}

	found := 0
	var matchedAt uint64
	for off := uint64(0); off < v.window; off++ {
		expected, err := Generate(cred.Secret, base+off, v.digits)
		if err != nil {
			return false, err
		}
		eq := subtle.ConstantTimeCompare([]byte(expected), []byte(code))
		first := eq & (1 - found)
		if first == 1 {
			matchedAt = base + off
		}
		found |= eq
	}
	if found == 0 {
		return false, nil
	}

	if err := v.store.Advance(ctx, cred.ID, base, matchedAt+1); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another process consumed this window concurrently.
			v.logger.WarnContext(ctx, "otp counter moved during validation", "credential_id", cred.ID)
			return false, nil
		}
		return false, fmt.Errorf("persist counter %s: %w", cred.ID, err)
	}
	return true, nil
}

func (v *Validator) backupUsed(ctx context.Context, credentialID string) {
	v.logger.WarnContext(ctx, "backup hardware credential used for authentication",
		"credential_id", credentialID,
		"severity", string(audit.SeverityCritical),
	)
	v.record(ctx, audit.Event{
		Category: audit.CategorySecurity,
		UserID:   v.subject,
		Action:   audit.ActionOTPBackupUsed,
		Key:      credentialID,
		Success:  true,
		Severity: audit.SeverityCritical,
	})
}

func (v *Validator) finish(ctx context.Context, role, outcome string, success bool) {
	v.metrics.IncValidation(role, outcome)
	severity := audit.SeverityInfo
	if !success {
		severity = audit.SeverityWarning
	}
	v.record(ctx, audit.Event{
		Category: audit.CategorySecurity,
		UserID:   v.subject,
		Action:   audit.ActionOTPValidate,
		Success:  success,
		Reason:   outcome,
		Severity: severity,
	})
}

func (v *Validator) record(ctx context.Context, e audit.Event) {
	if v.auditor == nil {
		return
	}
	if err := v.auditor.Record(ctx, e); err != nil {
		v.logger.ErrorContext(ctx, "failed to record otp audit event", "action", e.Action, "error", err)
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
