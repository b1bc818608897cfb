// Package access issues and verifies in-memory bearer tokens and resolves
// user ids to permissions and key ownership rules.
package access

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
)

// DefaultTokenTTL is the bearer token lifetime.
const DefaultTokenTTL = 30 * time.Minute

// TokenData is what a bearer token resolves to.
type TokenData struct {
	UserID    string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Permissions returns the token's permission set.
func (t *TokenData) Permissions() Set { return t.Role.Permissions }

type tokenKey [sha256.Size]byte

func keyOf(token string) tokenKey { return sha256.Sum256([]byte(token)) }

// Control owns the live token table. Tokens are never persisted.
type Control struct {
	mu      sync.Mutex
	tokens  map[tokenKey]*TokenData
	policy  *Policy
	factors map[FactorKind]Factor
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	auditor audit.Recorder
}

// Option configures Control.
type Option func(*Control)

// WithFactor registers a factor implementation.
func WithFactor(f Factor) Option {
	return func(c *Control) {
		c.factors[f.Kind()] = f
	}
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Control) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Control) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Control) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAuditor records every authentication attempt.
func WithAuditor(r audit.Recorder) Option {
	return func(c *Control) {
		c.auditor = r
	}
}

// New creates an access control bound to policy.
func New(policy *Policy, opts ...Option) *Control {
	c := &Control{
		tokens:  make(map[tokenKey]*TokenData),
		policy:  policy,
		factors: make(map[FactorKind]Factor),
		ttl:     DefaultTokenTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var errAuthFailed = dErrors.New(dErrors.CodeAuthenticationFailure, "authentication failed")

// Authenticate checks every factor the user's role requires and issues a
// bearer token. Unknown users, roles without factors, missing factors and
// wrong factors all return the same error.
func (c *Control) Authenticate(ctx context.Context, userID string, f Factors) (string, *TokenData, error) {
	ok, reason, err := c.verifyFactors(ctx, userID, f)
	if err != nil {
		c.recordAttempt(ctx, userID, false, "factor_error")
		c.logger.ErrorContext(ctx, "factor verification error", "user_id", userID, "error", err)
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "factor verification failed")
	}
	if !ok {
		c.recordAttempt(ctx, userID, false, reason)
		c.logger.WarnContext(ctx, "authentication failed", "user_id", userID)
		return "", nil, errAuthFailed
	}

	token, err := generateToken()
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "token generation failed")
	}
	role, _ := c.policy.Lookup(userID)
	now := c.now()
	data := &TokenData{
		UserID:    userID,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.tokens[keyOf(token)] = data
	c.mu.Unlock()

	c.recordAttempt(ctx, userID, true, "")
	c.logger.InfoContext(ctx, "user authenticated", "user_id", userID, "role", role.Name)
	return token, data, nil
}

func (c *Control) verifyFactors(ctx context.Context, userID string, f Factors) (bool, string, error) {
	role, ok := c.policy.Lookup(userID)
	if !ok {
		return false, "unknown_user", nil
	}
	if len(role.Factors) == 0 {
		return false, "no_factors_configured", nil
	}
	for _, kind := range role.Factors {
		factor, ok := c.factors[kind]
		if !ok {
			return false, "factor_unavailable", nil
		}
		passed, err := factor.Verify(ctx, userID, f)
		if err != nil {
			return false, "", err
		}
		if !passed {
			return false, "invalid_" + string(kind), nil
		}
	}
	return true, "", nil
}

// VerifyToken resolves a token, evicting it if expired.
func (c *Control) VerifyToken(token string) (*TokenData, bool) {
	data, err := c.Resolve(token)
	return data, err == nil
}

// Resolve is VerifyToken with a coded error distinguishing expired from
// unknown tokens.
func (c *Control) Resolve(token string) (*TokenData, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "token is required")
	}
	k := keyOf(token)

	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.tokens[k]
	if !ok {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "token not recognized")
	}
	if !c.now().Before(data.ExpiresAt) {
		delete(c.tokens, k)
		return nil, dErrors.New(dErrors.CodeTokenExpired, "token expired")
	}
	copied := *data
	return &copied, nil
}

// RevokeToken removes a single token. It reports whether the token existed.
func (c *Control) RevokeToken(token string) bool {
	k := keyOf(token)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[k]; !ok {
		return false
	}
	delete(c.tokens, k)
	return true
}

// RevokeAll clears the token table and returns how many tokens were live.
func (c *Control) RevokeAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.tokens)
	c.tokens = make(map[tokenKey]*TokenData)
	return n
}

// ActiveTokens returns the number of tokens in the table, expired or not.
func (c *Control) ActiveTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

// Policy exposes the role table.
func (c *Control) Policy() *Policy { return c.policy }

func (c *Control) recordAttempt(ctx context.Context, userID string, success bool, reason string) {
	if c.auditor == nil {
		return
	}
	severity := audit.SeverityInfo
	if !success {
		severity = audit.SeverityWarning
	}
	if err := c.auditor.Record(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: c.now(),
		UserID:    userID,
		Action:    audit.ActionAuthenticate,
		Success:   success,
		Reason:    reason,
		Severity:  severity,
	}); err != nil {
		c.logger.ErrorContext(ctx, "failed to record authentication attempt", "user_id", userID, "error", err)
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
