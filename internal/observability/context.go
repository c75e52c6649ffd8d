// Package observability carries per-run identifiers through a refresh.
package observability

import (
	"context"

	"github.com/google/uuid"
)

type opIDKey struct{}

// WithOpID stores a fresh random operation ID in ctx. Each CLI
// invocation calls this once, so the logs, spans and receipt of one
// refresh share the ID.
func WithOpID(ctx context.Context) context.Context {
	return context.WithValue(ctx, opIDKey{}, uuid.NewString())
}

// OpID returns the operation ID in ctx, or "".
func OpID(ctx context.Context) string {
	id, _ := ctx.Value(opIDKey{}).(string)
	return id
}
