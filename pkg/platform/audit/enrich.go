package audit

import (
	"context"
	"strings"

	"github.com/mssola/useragent"

	"steward/pkg/requestcontext"
)

// Enrich fills request-scoped fields (request id, client address, user agent)
// from ctx without overwriting values the caller already set.
func Enrich(ctx context.Context, e Event) Event {
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = requestcontext.UserAgent(ctx)
	}
	if e.Client == "" && e.UserAgent != "" {
		e.Client = DescribeClient(e.UserAgent)
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	return e
}

// DescribeClient reduces a User-Agent header to "browser version / os", or
// "bot name" for crawlers and API clients.
func DescribeClient(raw string) string {
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot " + name
	}
	parts := make([]string, 0, 2)
	if name != "" {
		parts = append(parts, strings.TrimSpace(name+" "+version))
	}
	if os := ua.OS(); os != "" {
		parts = append(parts, os)
	}
	if len(parts) == 0 {
		return raw
	}
	return strings.Join(parts, " / ")
}
