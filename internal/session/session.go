// Package session manages long-lived Authority UI/CLI sessions and decides
// when an operation needs a fresh hardware OTP.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
)

const (
	// DefaultLifetime is how long a session token stays valid.
	DefaultLifetime = 14 * 24 * time.Hour
	// DefaultRevalidateAfter is how long an OTP verification stays fresh.
	DefaultRevalidateAfter = time.Hour
	issuer                 = "steward"
)

// HighRiskOperations always require a fresh OTP regardless of session age.
var HighRiskOperations = map[string]bool{
	"approve_proposal":         true,
	"reject_proposal":          true,
	"modify_security_settings": true,
	"update_system_config":     true,
	"manage_yubikeys":          true,
	"manage_credentials":       true,
}

// Session is the server-side record a session token points at.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	OTPVerified    bool      `json:"yubikey_verified"`
	LastVerifiedAt time.Time `json:"last_verified_at,omitempty"`
}

//go:generate mockgen -source=session.go -destination=mocks/otp_mock.go -package=mocks OTPVerifier

// OTPVerifier validates and consumes a hardware OTP.
type OTPVerifier interface {
	Validate(ctx context.Context, code string) (bool, error)
}

// Manager issues HS256 session tokens and keeps the live session table.
type Manager struct {
	mu              sync.Mutex
	sessions        map[string]*Session
	otp             OTPVerifier
	signingKey      []byte
	lifetime        time.Duration
	revalidateAfter time.Duration
	otpRequired     map[string]bool
	now             func() time.Time
	logger          *slog.Logger
	auditor         audit.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithRevalidateAfter overrides DefaultRevalidateAfter.
func WithRevalidateAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.revalidateAfter = d
		}
	}
}

// WithOTPRequired lists users that may only open a session with an OTP.
func WithOTPRequired(userIDs ...string) Option {
	return func(m *Manager) {
		for _, u := range userIDs {
			m.otpRequired[u] = true
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuditor records session creation and revalidation.
func WithAuditor(r audit.Recorder) Option {
	return func(m *Manager) {
		m.auditor = r
	}
}

// NewManager creates a session manager. signingKey must be at least 32 bytes.
func NewManager(otp OTPVerifier, signingKey []byte, opts ...Option) (*Manager, error) {
	if len(signingKey) < 32 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session signing key must be at least 32 bytes")
	}
	m := &Manager{
		sessions:        make(map[string]*Session),
		otp:             otp,
		signingKey:      signingKey,
		lifetime:        DefaultLifetime,
		revalidateAfter: DefaultRevalidateAfter,
		otpRequired:     make(map[string]bool),
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create opens a session. A supplied OTP must validate; users marked as
// OTP-required must supply one.
func (m *Manager) Create(ctx context.Context, userID, otp string) (string, *Session, error) {
	if userID == "" {
		return "", nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if otp == "" && m.otpRequired[userID] {
		m.record(ctx, userID, audit.ActionSessionCreate, false, "otp_required")
		return "", nil, dErrors.New(dErrors.CodeAuthenticationFailure, "authentication failed")
	}
	verified := false
	if otp != "" {
		if err := m.checkOTP(ctx, otp); err != nil {
			m.record(ctx, userID, audit.ActionSessionCreate, false, "invalid_otp")
			return "", nil, err
		}
		verified = true
	}

	now := m.now()
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.lifetime),
		OTPVerified: verified,
	}
	if verified {
		sess.LastVerifiedAt = now
	}

	token, err := m.sign(sess)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session")
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.record(ctx, userID, audit.ActionSessionCreate, true, "")
	m.logger.InfoContext(ctx, "session created", "user_id", userID, "session_id", sess.ID, "otp_verified", verified)
	copied := *sess
	return token, &copied, nil
}

// Validate resolves a session token. Expired sessions are evicted.
func (m *Manager) Validate(_ context.Context, token string) (bool, *Session) {
	sess, err := m.lookup(token)
	if err != nil {
		return false, nil
	}
	return true, sess
}

// Resolve is Validate with a coded error.
func (m *Manager) Resolve(_ context.Context, token string) (*Session, error) {
	return m.lookup(token)
}

// RequiresRevalidation reports whether operation needs a fresh OTP on this
// session: always for high-risk operations and invalid sessions, otherwise
// once the last verification is older than the revalidation age.
func (m *Manager) RequiresRevalidation(ctx context.Context, token, operation string) bool {
	if HighRiskOperations[operation] {
		return true
	}
	ok, sess := m.Validate(ctx, token)
	if !ok {
		return true
	}
	last := sess.LastVerifiedAt
	if last.IsZero() {
		last = sess.CreatedAt
	}
	return m.now().Sub(last) > m.revalidateAfter
}

// Revalidate checks a fresh OTP against the session and marks it verified.
func (m *Manager) Revalidate(ctx context.Context, token, otp string) (*Session, error) {
	sess, err := m.lookup(token)
	if err != nil {
		return nil, err
	}
	if err := m.checkOTP(ctx, otp); err != nil {
		m.record(ctx, sess.UserID, audit.ActionSessionRevalidate, false, "invalid_otp")
		return nil, err
	}

	m.mu.Lock()
	live, ok := m.sessions[sess.ID]
	if ok {
		live.OTPVerified = true
		live.LastVerifiedAt = m.now()
		copied := *live
		sess = &copied
	}
	m.mu.Unlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "session revoked")
	}

	m.record(ctx, sess.UserID, audit.ActionSessionRevalidate, true, "")
	return sess, nil
}

// Revoke ends a session. It reports whether the session existed.
func (m *Manager) Revoke(token string) bool {
	claims, err := m.parse(token)
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[claims.ID]; !ok {
		return false
	}
	delete(m.sessions, claims.ID)
	return true
}

// RevokeAll ends every session and returns how many were live.
func (m *Manager) RevokeAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	return n
}

// Sweep evicts expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *Manager) checkOTP(ctx context.Context, otp string) error {
	if m.otp == nil {
		return dErrors.New(dErrors.CodeAuthenticationFailure, "authentication failed")
	}
	ok, err := m.otp.Validate(ctx, otp)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "otp validation unavailable")
	}
	if !ok {
		return dErrors.New(dErrors.CodeAuthenticationFailure, "authentication failed")
	}
	return nil
}

func (m *Manager) lookup(token string) (*Session, error) {
	claims, err := m.parse(token)
	if errors.Is(err, jwt.ErrTokenExpired) {
		if claims != nil {
			m.mu.Lock()
			delete(m.sessions, claims.ID)
			m.mu.Unlock()
		}
		return nil, dErrors.New(dErrors.CodeTokenExpired, "session expired")
	}
	if err != nil {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "session token invalid")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[claims.ID]
	if !ok || sess.UserID != claims.Subject {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "session not found")
	}
	if !m.now().Before(sess.ExpiresAt) {
		delete(m.sessions, claims.ID)
		return nil, dErrors.New(dErrors.CodeTokenExpired, "session expired")
	}
	copied := *sess
	return &copied, nil
}

func (m *Manager) sign(s *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   s.UserID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

func (m *Manager) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	return claims, err
}

func (m *Manager) record(ctx context.Context, userID, action string, success bool, reason string) {
	if m.auditor == nil {
		return
	}
	severity := audit.SeverityInfo
	if !success {
		severity = audit.SeverityWarning
	}
	if err := m.auditor.Record(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: m.now(),
		UserID:    userID,
		Action:    action,
		Success:   success,
		Reason:    reason,
		Severity:  severity,
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to record session audit event", "action", action, "error", err)
	}
}
