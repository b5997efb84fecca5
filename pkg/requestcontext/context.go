// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services read them without
// importing net/http.
//
// Usage in services:
//
//	operatorID := requestcontext.OperatorID(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "fides/pkg/domain"
)

type (
	operatorIDKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	clientAppKey   struct{}
)

// OperatorID retrieves the authenticated operator ID from the context.
// Returns the zero value if no operator is authenticated.
func OperatorID(ctx context.Context) id.OperatorID {
	if v, ok := ctx.Value(operatorIDKey{}).(id.OperatorID); ok {
		return v
	}
	return id.OperatorID{}
}

// WithOperatorID injects an operator ID into the context.
func WithOperatorID(ctx context.Context, operatorID id.OperatorID) context.Context {
	return context.WithValue(ctx, operatorIDKey{}, operatorID)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from the context, falling back to
// time.Now for non-HTTP contexts (workers, tests that don't inject one).
// Using a single timestamp per request keeps expiry checks consistent across
// a handler invocation.
func Now(ctx context.Context) time.Time {
	if v, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return v
	}
	return time.Now()
}

// WithTime injects a fixed time into the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// ClientIP retrieves the client IP recorded by the metadata middleware.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// UserAgent retrieves the raw User-Agent recorded by the metadata middleware.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentKey{}).(string); ok {
		return v
	}
	return ""
}

// ClientApp retrieves the parsed browser/app name for audit enrichment.
func ClientApp(ctx context.Context) string {
	if v, ok := ctx.Value(clientAppKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata injects client IP, raw User-Agent, and the parsed app
// name into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, clientApp string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	return context.WithValue(ctx, clientAppKey{}, clientApp)
}
