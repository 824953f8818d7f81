// Package requestid propagates a per-request correlation id through the
// context so every log line of one request can be stitched together.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// HeaderName is the inbound/outbound HTTP header carrying the id.
const HeaderName = "X-Request-Id"

// Generate creates a fresh request id.
func Generate() string {
	return uuid.NewString()
}

// ToContext attaches the request id to the context.
func ToContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromContext returns the request id or "" when none is attached.
func FromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromRequest returns the request id carried by the HTTP request context.
func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}
