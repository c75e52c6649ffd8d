// Package otel wires OpenTelemetry tracing for refresh runs. Tracing is
// off unless --otel is given.
package otel

import (
	"fmt"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// OTLP exporter protocols accepted by --otel-protocol.
const (
	ProtocolHTTP = "otlphttp"
	ProtocolGRPC = "otlpgrpc"
)

// Config holds tracing options from the command line.
type Config struct {
	Enabled     bool
	Endpoint    string // empty falls back to OTEL_EXPORTER_OTLP_ENDPOINT
	Protocol    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// DefaultConfig has tracing disabled and samples everything once enabled.
func DefaultConfig() Config {
	return Config{
		Protocol:    ProtocolHTTP,
		ServiceName: "metarefresh",
		SampleRatio: 1.0,
	}
}

// Validate is a no-op for a disabled config.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Protocol != ProtocolHTTP && c.Protocol != ProtocolGRPC {
		return fmt.Errorf("otel: protocol %q is not %s or %s", c.Protocol, ProtocolHTTP, ProtocolGRPC)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("otel: sample ratio %v is outside [0, 1]", c.SampleRatio)
	}
	return nil
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
		return env
	}
	if c.Protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318"
}

func (c Config) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRatio >= 1:
		return sdktrace.AlwaysSample()
	case c.SampleRatio <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}
