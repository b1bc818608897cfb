// Package vault holds secrets in memory behind bearer-token checks and
// persists the whole map as one sealed blob on every mutation.
package vault

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"steward/internal/access"
	"steward/internal/vault/blob"
	"steward/internal/vault/envelope"
	"steward/internal/vault/metrics"
	"steward/internal/vault/sink"
	"steward/pkg/canonical"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/sentinel"
)

// MaxKeyLength bounds secret key names.
const MaxKeyLength = 256

// Config holds the vault's out-of-band settings.
type Config struct {
	// MasterOverride is the only credential that releases the kill-switch.
	MasterOverride string
}

// Authorizer is the access control surface the vault consults.
type Authorizer interface {
	Authenticate(ctx context.Context, userID string, f access.Factors) (string, *access.TokenData, error)
	Resolve(token string) (*access.TokenData, error)
	RevokeAll() int
}

// KillswitchStatus describes the kill-switch.
type KillswitchStatus struct {
	Active      bool      `json:"active"`
	ActivatedBy string    `json:"activated_by,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
}

// Vault is safe for concurrent use. Reads share the lock; mutations and the
// reencrypt-and-persist step hold it exclusively.
type Vault struct {
	mu         sync.RWMutex
	open       bool
	secrets    map[string]string
	version    uint64
	killswitch KillswitchStatus

	override [sha256.Size]byte
	hasOver  bool

	engine  *envelope.Engine
	blobs   blob.Store
	access  Authorizer
	sink    sink.Sink
	logger  *slog.Logger
	auditor audit.Recorder
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithSink sets the external store used by SyncToExternalStore.
func WithSink(s sink.Sink) Option {
	return func(v *Vault) { v.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithAuditor sets the access log recorder.
func WithAuditor(r audit.Recorder) Option {
	return func(v *Vault) { v.auditor = r }
}

// WithMetrics sets vault metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a closed vault.
func New(cfg Config, engine *envelope.Engine, blobs blob.Store, ac Authorizer, opts ...Option) (*Vault, error) {
	if engine == nil || blobs == nil || ac == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "vault requires an engine, a blob store and access control")
	}
	v := &Vault{
		engine: engine,
		blobs:  blobs,
		access: ac,
		logger: slog.Default(),
		now:    time.Now,
	}
	if cfg.MasterOverride != "" {
		v.override = sha256.Sum256([]byte(cfg.MasterOverride))
		v.hasOver = true
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// EngineFor loads the vault salt from blobs, creating one on first use, and
// derives the engine from master. With legacy set the fixed application salt
// is used instead and nothing is written.
func EngineFor(ctx context.Context, blobs blob.Store, master []byte, legacy bool) (*envelope.Engine, error) {
	if legacy {
		return envelope.New(master, envelope.LegacySalt)
	}
	salt, err := blobs.Salt(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		if _, loadErr := blobs.Load(ctx); !errors.Is(loadErr, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "vault blob exists without a salt")
		}
		salt, err = envelope.NewSalt()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate salt")
		}
		if err := blobs.InitSalt(ctx, salt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store salt")
		}
	} else if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load salt")
	}
	return envelope.New(master, salt)
}

var (
	errDenied     = dErrors.New(dErrors.CodeAuthorizationDenied, "access denied")
	errKillswitch = dErrors.New(dErrors.CodeKillswitchActive, "kill-switch is active")
	errClosed     = dErrors.New(dErrors.CodeVaultClosed, "vault is closed")
)

// Open decrypts the persisted blob into memory. A missing blob opens an empty
// vault. Decryption failures are returned as is.
func (v *Vault) Open(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.killswitch.Active {
		return errKillswitch
	}
	if v.open {
		return nil
	}

	secrets := make(map[string]string)
	var version uint64
	b, err := v.blobs.Load(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case errors.Is(err, sentinel.ErrCorrupted):
		return dErrors.Wrap(err, dErrors.CodeDecryption, "vault file is malformed")
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "load vault")
	default:
		plaintext, err := v.engine.Open(b.Sealed, blob.AAD(b.Version))
		if err != nil {
			v.logger.ErrorContext(ctx, "vault decryption failed", "version", b.Version)
			return err
		}
		if err := json.Unmarshal(plaintext, &secrets); err != nil {
			return dErrors.Wrap(err, dErrors.CodeDecryption, "vault document is malformed")
		}
		version = b.Version
	}

	v.secrets = secrets
	v.version = version
	v.open = true
	v.metrics.SetSecrets(len(secrets))
	v.logger.InfoContext(ctx, "vault opened", "version", version, "secrets", len(secrets))
	return nil
}

// Close clears the in-memory map. Mutations are persisted before they return,
// so there is nothing left to flush.
func (v *Vault) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return nil
	}
	clear(v.secrets)
	v.secrets = nil
	v.open = false
	v.metrics.SetSecrets(0)
	v.logger.InfoContext(ctx, "vault closed", "version", v.version)
	return nil
}

// IsOpen reports whether the vault is open.
func (v *Vault) IsOpen() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.open
}

// Authenticate issues a bearer token through access control. The read lock
// is held until the token exists, so a concurrent kill-switch activation
// either refuses this call or revokes its token.
func (v *Vault) Authenticate(ctx context.Context, userID string, f access.Factors) (string, *access.TokenData, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.killswitch.Active {
		v.record(ctx, audit.ActionAuthenticate, userID, "", errKillswitch)
		return "", nil, errKillswitch
	}
	return v.access.Authenticate(ctx, userID, f)
}

// authorize runs the kill-switch, open and token checks in that order. The
// caller holds v.mu.
func (v *Vault) authorize(token string) (*access.TokenData, error) {
	if v.killswitch.Active {
		return nil, errKillswitch
	}
	if !v.open {
		return nil, errClosed
	}
	return v.access.Resolve(token)
}

// Get returns the value stored under key.
func (v *Vault) Get(ctx context.Context, token, key string) (value string, err error) {
	var user string
	defer func() { v.record(ctx, audit.ActionGet, user, key, err) }()

	v.mu.RLock()
	defer v.mu.RUnlock()
	td, err := v.authorize(token)
	if err != nil {
		return "", err
	}
	user = td.UserID
	if !td.Role.CanRead(key) {
		return "", errDenied
	}
	value, ok := v.secrets[key]
	if !ok {
		return "", dErrors.New(dErrors.CodeNotFound, "secret not found")
	}
	return value, nil
}

// Set stores value under key and persists the vault.
func (v *Vault) Set(ctx context.Context, token, key, value string) (err error) {
	var user string
	defer func() { v.record(ctx, audit.ActionSet, user, key, err) }()

	v.mu.Lock()
	defer v.mu.Unlock()
	td, err := v.authorize(token)
	if err != nil {
		return err
	}
	user = td.UserID
	if err := validateKey(key); err != nil {
		return err
	}
	if !td.Role.CanWrite(key) {
		return errDenied
	}
	next := v.copySecrets()
	next[key] = value
	return v.persist(ctx, next)
}

// Delete removes key and persists the vault.
func (v *Vault) Delete(ctx context.Context, token, key string) (err error) {
	var user string
	defer func() { v.record(ctx, audit.ActionDelete, user, key, err) }()

	v.mu.Lock()
	defer v.mu.Unlock()
	td, err := v.authorize(token)
	if err != nil {
		return err
	}
	user = td.UserID
	if !td.Role.CanWrite(key) {
		return errDenied
	}
	if _, ok := v.secrets[key]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "secret not found")
	}
	next := v.copySecrets()
	delete(next, key)
	return v.persist(ctx, next)
}

// List returns the sorted keys under prefix that the caller may read.
func (v *Vault) List(ctx context.Context, token, prefix string) (keys []string, err error) {
	var user string
	defer func() { v.record(ctx, audit.ActionList, user, prefix, err) }()

	v.mu.RLock()
	defer v.mu.RUnlock()
	td, err := v.authorize(token)
	if err != nil {
		return nil, err
	}
	user = td.UserID
	if !td.Role.CanList() {
		return nil, errDenied
	}
	keys = make([]string, 0, len(v.secrets))
	for k := range v.secrets {
		if strings.HasPrefix(k, prefix) && td.Role.CanRead(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SyncToExternalStore exports every secret under prefix to the configured
// sink as namespace. The caller needs admin and read access to each exported
// key; one unreadable key denies the whole export.
func (v *Vault) SyncToExternalStore(ctx context.Context, token, namespace, prefix string) (n int, err error) {
	var user string
	defer func() { v.record(ctx, audit.ActionSync, user, namespace, err) }()

	v.mu.RLock()
	td, err := v.authorize(token)
	if err != nil {
		v.mu.RUnlock()
		return 0, err
	}
	user = td.UserID
	if !td.Role.Permissions.Has(access.Admin) {
		v.mu.RUnlock()
		return 0, errDenied
	}
	if v.sink == nil {
		v.mu.RUnlock()
		return 0, dErrors.New(dErrors.CodeBadRequest, "no external secret store configured")
	}
	if strings.TrimSpace(namespace) == "" {
		v.mu.RUnlock()
		return 0, dErrors.New(dErrors.CodeValidation, "namespace is required")
	}
	selected := make(map[string]string)
	for k, val := range v.secrets {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !td.Role.CanRead(k) {
			v.mu.RUnlock()
			return 0, errDenied
		}
		selected[k] = val
	}
	v.mu.RUnlock()

	if err := v.sink.Apply(ctx, namespace, sink.Encode(selected)); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "external secret store unavailable")
	}
	v.logger.InfoContext(ctx, "secrets synced", "user_id", user, "namespace", namespace, "count", len(selected))
	return len(selected), nil
}

// KillswitchStatus reports the kill-switch state.
func (v *Vault) KillswitchStatus() KillswitchStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.killswitch
}

// ActivateKillswitch engages the kill-switch and revokes every bearer token.
// The token must carry the killswitch permission. It returns the number of
// tokens revoked.
func (v *Vault) ActivateKillswitch(ctx context.Context, token string) (revoked int, err error) {
	var user string
	defer func() { v.record(ctx, audit.ActionKillswitchActivate, user, "", err) }()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.killswitch.Active {
		return 0, errKillswitch
	}
	td, err := v.access.Resolve(token)
	if err != nil {
		return 0, err
	}
	user = td.UserID
	if !td.Role.Permissions.Has(access.Killswitch) {
		return 0, errDenied
	}

	v.killswitch = KillswitchStatus{Active: true, ActivatedBy: td.UserID, ActivatedAt: v.now()}
	revoked = v.access.RevokeAll()
	v.metrics.SetKillswitch(true, revoked)
	v.logger.ErrorContext(ctx, "kill-switch activated",
		"user_id", td.UserID,
		"revoked_tokens", revoked,
		"severity", audit.SeverityCritical,
	)
	return revoked, nil
}

// DeactivateKillswitch releases the kill-switch. Only the configured master
// override is accepted; bearer tokens play no part.
func (v *Vault) DeactivateKillswitch(ctx context.Context, override string) (err error) {
	defer func() { v.record(ctx, audit.ActionKillswitchRelease, "", "", err) }()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasOver {
		return dErrors.New(dErrors.CodeAuthorizationDenied, "kill-switch override is not configured")
	}
	presented := sha256.Sum256([]byte(override))
	if subtle.ConstantTimeCompare(presented[:], v.override[:]) != 1 {
		v.logger.WarnContext(ctx, "kill-switch override rejected", "severity", audit.SeverityCritical)
		return dErrors.New(dErrors.CodeAuthenticationFailure, "authentication failed")
	}
	if !v.killswitch.Active {
		return nil
	}
	v.killswitch = KillswitchStatus{}
	v.metrics.SetKillswitch(false, 0)
	v.logger.WarnContext(ctx, "kill-switch released", "severity", audit.SeverityCritical)
	return nil
}

func (v *Vault) copySecrets() map[string]string {
	next := make(map[string]string, len(v.secrets)+1)
	for k, val := range v.secrets {
		next[k] = val
	}
	return next
}

// persist seals next as the following blob version and swaps it in only once
// the save succeeded. The caller holds v.mu exclusively.
func (v *Vault) persist(ctx context.Context, next map[string]string) error {
	start := v.now()
	plaintext, err := canonical.Marshal(next)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "serialize vault")
	}
	version := v.version + 1
	sealed, err := v.engine.Seal(plaintext, blob.AAD(version))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "seal vault")
	}
	if err := v.blobs.Save(ctx, blob.Blob{Version: version, Sealed: sealed}, v.version); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			v.logger.ErrorContext(ctx, "vault blob changed underneath the open vault", "version", v.version)
			return dErrors.Wrap(err, dErrors.CodeConcurrencyConflict, "vault changed on disk")
		}
		return dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "persist vault")
	}
	v.secrets = next
	v.version = version
	v.metrics.ObservePersist(v.now().Sub(start))
	v.metrics.SetSecrets(len(next))
	return nil
}

func validateKey(key string) error {
	switch {
	case key == "":
		return dErrors.New(dErrors.CodeValidation, "key is required")
	case len(key) > MaxKeyLength:
		return dErrors.New(dErrors.CodeValidation, "key is too long")
	case strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, ".."):
		return dErrors.New(dErrors.CodeValidation, "key has an empty namespace segment")
	case strings.ContainsAny(key, " \t\r\n"):
		return dErrors.New(dErrors.CodeValidation, "key contains whitespace")
	}
	return nil
}

func (v *Vault) record(ctx context.Context, action, userID, key string, err error) {
	outcome := outcomeOf(err)
	v.metrics.IncOperation(action, outcome)
	if v.auditor == nil {
		return
	}
	event := audit.Event{
		Category:  audit.CategoryAccess,
		Timestamp: v.now(),
		UserID:    userID,
		Action:    action,
		Key:       key,
		Success:   err == nil,
		Severity:  audit.SeverityInfo,
	}
	if err != nil {
		event.Reason = string(dErrors.CodeOf(err))
		event.Severity = audit.SeverityWarning
	}
	if action == audit.ActionKillswitchActivate || action == audit.ActionKillswitchRelease {
		event.Severity = audit.SeverityCritical
	}
	if recErr := v.auditor.Record(ctx, event); recErr != nil {
		v.logger.ErrorContext(ctx, "failed to record vault access", "action", action, "error", recErr)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case dErrors.HasCode(err, dErrors.CodeKillswitchActive):
		return "killswitch"
	case dErrors.HasCode(err, dErrors.CodeAuthorizationDenied),
		dErrors.HasCode(err, dErrors.CodeAuthenticationFailure),
		dErrors.HasCode(err, dErrors.CodeTokenInvalid),
		dErrors.HasCode(err, dErrors.CodeTokenExpired):
		return "denied"
	default:
		return "error"
	}
}
