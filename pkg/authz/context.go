package authz

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type requestIDCtxKey struct{}

// RequestIDFromContext returns the id that correlates a request's log
// lines, authorization decisions and audit events, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return id
	}
	return ""
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// EnsureRequestID keeps an id already in ctx and otherwise mints one of
// the form "req_" plus 16 hex digits.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	id := RequestIDFromContext(ctx)
	if id == "" {
		id = "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		ctx = ContextWithRequestID(ctx, id)
	}
	return ctx, id
}
