package otel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "disabled is always valid",
			cfg:     Config{Enabled: false, Protocol: "invalid", SampleRatio: -1},
			wantErr: false,
		},
		{
			name:    "valid otlphttp",
			cfg:     Config{Enabled: true, Protocol: ProtocolHTTP, SampleRatio: 0.5},
			wantErr: false,
		},
		{
			name:    "valid otlpgrpc",
			cfg:     Config{Enabled: true, Protocol: ProtocolGRPC, SampleRatio: 1.0},
			wantErr: false,
		},
		{
			name:    "invalid protocol",
			cfg:     Config{Enabled: true, Protocol: "invalid", SampleRatio: 1.0},
			wantErr: true,
		},
		{
			name:    "sample ratio below 0",
			cfg:     Config{Enabled: true, Protocol: ProtocolHTTP, SampleRatio: -0.1},
			wantErr: true,
		},
		{
			name:    "sample ratio above 1",
			cfg:     Config{Enabled: true, Protocol: ProtocolHTTP, SampleRatio: 1.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Endpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig()
	if got := cfg.endpoint(); got != "http://localhost:4318" {
		t.Errorf("http default = %q", got)
	}
	cfg.Protocol = ProtocolGRPC
	if got := cfg.endpoint(); got != "localhost:4317" {
		t.Errorf("grpc default = %q", got)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	if got := cfg.endpoint(); got != "collector:4317" {
		t.Errorf("env endpoint = %q", got)
	}
	cfg.Endpoint = "explicit:4317"
	if got := cfg.endpoint(); got != "explicit:4317" {
		t.Errorf("explicit endpoint = %q", got)
	}
}

func TestConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := Config{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestStartSpan_WithHandle(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx := WithHandle(context.Background(), InitWithProvider(tp))

	ctx, span := StartSpan(ctx, "metarefresh.source",
		trace.WithAttributes(
			attribute.String("metarefresh.source", "https://mds.example.org/md.xml"),
			attribute.String("metarefresh.outcome", "not-modified"),
		),
	)
	_, child := StartSpan(ctx, "metarefresh.parse")
	child.End()
	span.SetStatus(codes.Ok, "")
	span.End()
	_ = tp.ForceFlush(ctx)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	parent := spans[1]
	if parent.Name() != "metarefresh.source" {
		t.Errorf("span name = %q", parent.Name())
	}
	if spans[0].Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("child span should be parented to the source span")
	}

	found := map[string]string{}
	for _, attr := range parent.Attributes() {
		found[string(attr.Key)] = attr.Value.AsString()
	}
	if found["metarefresh.outcome"] != "not-modified" {
		t.Errorf("attributes = %v", found)
	}
	if parent.InstrumentationScope().Name != TracerName {
		t.Errorf("tracer = %q, want %q", parent.InstrumentationScope().Name, TracerName)
	}
}

func TestStartSpan_WithoutHandle(t *testing.T) {
	ctx := context.Background()
	got, span := StartSpan(ctx, "metarefresh.refresh")
	if got != ctx {
		t.Error("context should be returned unchanged without a handle")
	}
	if span.IsRecording() {
		t.Error("span should be a no-op without a handle")
	}
	span.End()
}

func TestSpanRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	h := InitWithProvider(tp)
	ctx := context.Background()

	// Start span, record error, end
	_, span := h.Tracer.Start(ctx, "metarefresh.set")
	testErr := errors.New("something went wrong")
	span.RecordError(testErr)
	span.SetStatus(codes.Error, "failed")
	span.End()

	_ = tp.ForceFlush(ctx)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	s := spans[0]
	if s.Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", s.Status().Code)
	}

	// Check that error was recorded as an event
	events := s.Events()
	foundError := false
	for _, e := range events {
		if e.Name == "exception" {
			foundError = true
		}
	}
	if !foundError {
		t.Error("expected error event to be recorded")
	}
}

func TestContextRoundtrip(t *testing.T) {
	// Without handle
	ctx := context.Background()
	if h := From(ctx); h != nil {
		t.Error("expected nil handle from empty context")
	}

	// With handle
	handle := &Handle{}
	ctx = WithHandle(ctx, handle)
	if got := From(ctx); got != handle {
		t.Error("expected to retrieve the same handle from context")
	}
}
