package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"steward/internal/platform/middleware"
	"steward/internal/session"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
	"steward/pkg/requestcontext"
)

// SessionService is the session surface exposed over HTTP.
type SessionService interface {
	Create(ctx context.Context, userID, otp string) (string, *session.Session, error)
	Resolve(ctx context.Context, token string) (*session.Session, error)
	RequiresRevalidation(ctx context.Context, token, operation string) bool
	Revalidate(ctx context.Context, token, otp string) (*session.Session, error)
	Revoke(token string) bool
}

// OTPValidator checks and consumes a hardware OTP.
type OTPValidator interface {
	Validate(ctx context.Context, code string) (bool, error)
}

// SessionHandler serves /sessions and /otp.
type SessionHandler struct {
	sessions SessionService
	otp      OTPValidator
	logger   *slog.Logger
}

func NewSessionHandler(sessions SessionService, otp OTPValidator, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, otp: otp, logger: logger}
}

func (h *SessionHandler) Register(r chi.Router) {
	r.Post("/sessions", h.HandleCreate)
	if h.otp != nil {
		r.Post("/otp/validate", h.HandleValidateOTP)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(h.sessions, h.logger))
		r.Get("/sessions/current", h.HandleCurrent)
		r.Delete("/sessions/current", h.HandleRevoke)
		r.Post("/sessions/current/revalidate", h.HandleRevalidate)
		r.Get("/sessions/current/revalidation", h.HandleRequiresRevalidation)
	})
}

type sessionResponse struct {
	SessionToken string           `json:"session_token,omitempty"`
	Session      *session.Session `json:"session"`
}

func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[createSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	token, sess, err := h.sessions.Create(ctx, req.UserID, req.OTP)
	if err != nil {
		h.logger.WarnContext(ctx, "session creation failed",
			"request_id", requestID,
			"user_id", req.UserID,
			"error", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sessionResponse{SessionToken: token, Session: sess})
}

func (h *SessionHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.sessions.Resolve(ctx, requestcontext.SessionToken(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

func (h *SessionHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.sessions.Revoke(requestcontext.SessionToken(ctx))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleRevalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[otpRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	sess, err := h.sessions.Revalidate(ctx, requestcontext.SessionToken(ctx), req.OTP)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

type revalidationResponse struct {
	Operation string `json:"operation"`
	Required  bool   `json:"required"`
}

func (h *SessionHandler) HandleRequiresRevalidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op := strings.TrimSpace(r.URL.Query().Get("operation"))
	if op == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "operation is required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revalidationResponse{
		Operation: op,
		Required:  h.sessions.RequiresRevalidation(ctx, requestcontext.SessionToken(ctx), op),
	})
}

type validateOTPResponse struct {
	Valid bool `json:"valid"`
}

// HandleValidateOTP consumes the code on success like any other OTP check.
func (h *SessionHandler) HandleValidateOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[validateOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	valid, err := h.otp.Validate(ctx, req.Code)
	if err != nil {
		h.logger.ErrorContext(ctx, "otp validation errored",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, validateOTPResponse{Valid: valid})
}
