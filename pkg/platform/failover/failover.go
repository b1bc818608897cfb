// Package failover dials one of several backend endpoints with a bounded
// per-endpoint retry budget.
package failover

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"steward/pkg/platform/sentinel"
)

// Policy bounds the connection budget. Each endpoint is attempted
// Retries+1 times with Delay between attempts.
type Policy struct {
	Retries int
	Delay   time.Duration
}

// Attempt records one failed dial.
type Attempt struct {
	Endpoint string
	Try      int
	Err      string
}

// ExhaustedError is returned when no endpoint could be reached. Endpoints and
// messages are redacted so the aggregated error is safe to log.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all endpoints unreachable")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s (attempt %d): %s", a.Endpoint, a.Try, a.Err)
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() error { return sentinel.ErrUnavailable }

// Endpoints returns the distinct endpoints that were tried, in order.
func (e *ExhaustedError) Endpoints() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range e.Attempts {
		if _, ok := seen[a.Endpoint]; ok {
			continue
		}
		seen[a.Endpoint] = struct{}{}
		out = append(out, a.Endpoint)
	}
	return out
}

// DialFunc connects to a single endpoint.
type DialFunc[T any] func(ctx context.Context, endpoint string) (T, error)

// Connect tries each endpoint in order and returns the first successful
// connection together with the endpoint that served it.
func Connect[T any](ctx context.Context, endpoints []string, policy Policy, dial DialFunc[T]) (T, string, error) {
	var zero T
	if len(endpoints) == 0 {
		return zero, "", fmt.Errorf("no endpoints configured: %w", sentinel.ErrUnavailable)
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}

	exhausted := &ExhaustedError{}
	for _, ep := range endpoints {
		for try := 1; try <= policy.Retries+1; try++ {
			conn, err := dial(ctx, ep)
			if err == nil {
				return conn, ep, nil
			}
			exhausted.Attempts = append(exhausted.Attempts, Attempt{
				Endpoint: Redact(ep),
				Try:      try,
				Err:      scrub(err.Error(), ep),
			})
			if ctx.Err() != nil {
				return zero, "", exhausted
			}
			if try <= policy.Retries && policy.Delay > 0 {
				timer := time.NewTimer(policy.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return zero, "", exhausted
				case <-timer.C:
				}
			}
		}
	}
	return zero, "", exhausted
}

// Redact masks credentials in a URL or key=value DSN.
func Redact(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Redacted()
	}
	fields := strings.Fields(endpoint)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}

// scrub removes the endpoint's password, if any, from an error message.
func scrub(msg, endpoint string) string {
	pw := password(endpoint)
	if pw == "" {
		return msg
	}
	return strings.ReplaceAll(msg, pw, "xxxxx")
}

func password(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok {
			return pw
		}
	}
	for _, f := range strings.Fields(endpoint) {
		if k, v, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			return v
		}
	}
	return ""
}
