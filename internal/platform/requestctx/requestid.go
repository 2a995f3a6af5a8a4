// Package requestctx carries request-scoped values through contexts.
package requestctx

import "context"

// requestIDContextKey is the context key for the correlation id.
type requestIDContextKey struct{}

// WithRequestID stores a request correlation id in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request correlation id stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey{}).(string)
	return value
}
