package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"steward/internal/session"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
	"steward/pkg/requestcontext"
)

// SessionHeader carries the governance session token. Vault bearer tokens
// travel in Authorization so the two credentials can never be confused.
const SessionHeader = "X-Steward-Session"

// SessionResolver resolves a session token.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*session.Session, error)
}

// BearerToken copies an Authorization bearer token into the context. It does
// not validate it; the vault does that on every operation.
func BearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
			r = r.WithContext(requestcontext.WithBearerToken(r.Context(), strings.TrimSpace(token)))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects requests without a live session and stores the
// session token and user id in the context.
func RequireSession(sessions SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := strings.TrimSpace(r.Header.Get(SessionHeader))
			if token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "session required"))
				return
			}
			sess, err := sessions.Resolve(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "rejected session",
					"request_id", requestcontext.RequestID(ctx),
					"error", dErrors.CodeOf(err),
				)
				httputil.WriteError(w, err)
				return
			}
			ctx = requestcontext.WithSessionToken(ctx, token)
			ctx = requestcontext.WithUserID(ctx, sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
