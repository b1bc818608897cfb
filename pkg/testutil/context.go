package testutil

import (
	"context"
	"net/http"

	"steward/pkg/requestcontext"
)

// SessionHeader mirrors the header the HTTP boundary reads session tokens from.
const SessionHeader = "X-Steward-Session"

// WithBearer sets a vault bearer token on req.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// WithSession sets a governance session token on req.
func WithSession(req *http.Request, token string) *http.Request {
	req.Header.Set(SessionHeader, token)
	return req
}

// RequestContext returns ctx carrying the values the HTTP middleware would
// set, for service tests that skip the router.
func RequestContext(ctx context.Context, requestID, userID, clientIP, userAgent string) context.Context {
	ctx = requestcontext.WithRequestID(ctx, requestID)
	ctx = requestcontext.WithUserID(ctx, userID)
	return requestcontext.WithClientMetadata(ctx, clientIP, userAgent)
}
