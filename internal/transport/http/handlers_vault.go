package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"steward/internal/access"
	"steward/internal/platform/middleware"
	"steward/internal/vault"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
	"steward/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_vault.go -destination=mocks/vault_mock.go -package=mocks VaultService

// VaultService is the vault surface exposed over HTTP.
type VaultService interface {
	IsOpen() bool
	Authenticate(ctx context.Context, userID string, f access.Factors) (string, *access.TokenData, error)
	Get(ctx context.Context, token, key string) (string, error)
	Set(ctx context.Context, token, key, value string) error
	Delete(ctx context.Context, token, key string) error
	List(ctx context.Context, token, prefix string) ([]string, error)
	SyncToExternalStore(ctx context.Context, token, namespace, prefix string) (int, error)
	KillswitchStatus() vault.KillswitchStatus
	ActivateKillswitch(ctx context.Context, token string) (int, error)
	DeactivateKillswitch(ctx context.Context, override string) error
}

// VaultHandler serves /vault and /killswitch.
type VaultHandler struct {
	vault  VaultService
	logger *slog.Logger
}

func NewVaultHandler(v VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vault: v, logger: logger}
}

func (h *VaultHandler) Register(r chi.Router) {
	r.Post("/vault/auth", h.HandleAuthenticate)
	r.Get("/killswitch", h.HandleKillswitchStatus)
	r.Post("/killswitch/deactivate", h.HandleDeactivate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken)
		r.Get("/vault/secrets", h.HandleList)
		r.Get("/vault/secrets/{key}", h.HandleGet)
		r.Put("/vault/secrets/{key}", h.HandleSet)
		r.Delete("/vault/secrets/{key}", h.HandleDelete)
		r.Post("/vault/sync", h.HandleSync)
		r.Post("/killswitch/activate", h.HandleActivate)
	})
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *VaultHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[authenticateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	token, data, err := h.vault.Authenticate(ctx, req.UserID, access.Factors{Password: req.Password, OTP: req.OTP})
	if err != nil {
		h.logger.WarnContext(ctx, "vault authentication failed",
			"request_id", requestID,
			"user_id", req.UserID,
			"error", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		UserID:    data.UserID,
		Role:      data.Role.Name,
		ExpiresAt: data.ExpiresAt,
	})
}

type secretResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *VaultHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")
	value, err := h.vault.Get(ctx, requestcontext.BearerToken(ctx), key)
	if err != nil {
		h.fail(ctx, w, "get secret", key, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, secretResponse{Key: key, Value: value})
}

func (h *VaultHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[setSecretRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if err := h.vault.Set(ctx, requestcontext.BearerToken(ctx), key, *req.Value); err != nil {
		h.fail(ctx, w, "set secret", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *VaultHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")
	if err := h.vault.Delete(ctx, requestcontext.BearerToken(ctx), key); err != nil {
		h.fail(ctx, w, "delete secret", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listResponse struct {
	Keys []string `json:"keys"`
}

func (h *VaultHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := r.URL.Query().Get("prefix")
	keys, err := h.vault.List(ctx, requestcontext.BearerToken(ctx), prefix)
	if err != nil {
		h.fail(ctx, w, "list secrets", prefix, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Keys: keys})
}

type syncResponse struct {
	Namespace string `json:"namespace"`
	Synced    int    `json:"synced"`
}

func (h *VaultHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[syncRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	n, err := h.vault.SyncToExternalStore(ctx, requestcontext.BearerToken(ctx), req.Namespace, req.Prefix)
	if err != nil {
		h.fail(ctx, w, "sync secrets", req.Namespace, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, syncResponse{Namespace: req.Namespace, Synced: n})
}

func (h *VaultHandler) HandleKillswitchStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.vault.KillswitchStatus())
}

type activateResponse struct {
	vault.KillswitchStatus
	RevokedTokens int `json:"revoked_tokens"`
}

func (h *VaultHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	revoked, err := h.vault.ActivateKillswitch(ctx, requestcontext.BearerToken(ctx))
	if err != nil {
		h.fail(ctx, w, "activate killswitch", "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, activateResponse{
		KillswitchStatus: h.vault.KillswitchStatus(),
		RevokedTokens:    revoked,
	})
}

func (h *VaultHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[deactivateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.vault.DeactivateKillswitch(ctx, req.MasterOverride); err != nil {
		h.fail(ctx, w, "deactivate killswitch", "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.vault.KillswitchStatus())
}

func (h *VaultHandler) fail(ctx context.Context, w http.ResponseWriter, op, key string, err error) {
	code := dErrors.CodeOf(err)
	level := slog.LevelWarn
	switch code {
	case dErrors.CodeInternal, dErrors.CodeDecryption, dErrors.CodeBackendUnavailable, dErrors.CodeIntegrityViolation:
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"key", key,
		"error", code,
	)
	httputil.WriteError(w, err)
}
