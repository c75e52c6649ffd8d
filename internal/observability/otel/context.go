package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type handleKey struct{}

// Handle wraps tracer and shutdown
type Handle struct {
	Tracer   trace.Tracer
	Shutdown func(context.Context) error
}

// WithHandle stores the OTel Handle in context.
func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// From retrieves the OTel Handle from context.
// Returns nil if OTel is not enabled.
func From(ctx context.Context) *Handle {
	h, _ := ctx.Value(handleKey{}).(*Handle)
	return h
}

// TracerName of spans emitted by the refresh pipeline
const TracerName = "metarefresh"

// StartSpan starts a span on the handle in ctx. Without a handle it
// returns ctx and the span already in it, which is a no-op span when
// tracing is disabled.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	h := From(ctx)
	if h == nil || h.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return h.Tracer.Start(ctx, name, opts...)
}
