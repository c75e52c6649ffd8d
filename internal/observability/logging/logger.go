package logging

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Logger is the structured logger used across a refresh. Fields are
// key/value pairs.
type Logger interface {
	Debug(component, msg string, fields ...any)
	Info(component, msg string, fields ...any)
	Notice(component, msg string, fields ...any)
	Warn(component, msg string, fields ...any)
	Error(component, msg string, fields ...any)
	Event(ctx context.Context, event string, fields map[string]any)
	Close() error
}

type loggerKey struct{}

func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func From(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return &noopLogger{}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &noopLogger{}
}

func NewLogger(cfg Config) (Logger, error) {
	if cfg.Format == FormatNone {
		return &noopLogger{}, nil
	}

	var w io.Writer
	var closer io.Closer

	if cfg.Output == "" || cfg.Output == "stderr" {
		w = os.Stderr
	} else if cfg.Output == "stdout" {
		w = os.Stdout
	} else {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		w = f
		closer = f
	}

	switch cfg.Format {
	case FormatJSONL:
		return &jsonlLogger{
			writer:   w,
			closer:   closer,
			minLevel: levelPriority(cfg.Level),
		}, nil
	case FormatText, "":
		return &textLogger{
			writer:   w,
			closer:   closer,
			minLevel: levelPriority(cfg.Level),
		}, nil
	}

	if closer != nil {
		closer.Close()
	}
	return nil, fmt.Errorf("unknown log format %q (use text, jsonl or none)", cfg.Format)
}

type noopLogger struct{}

func (n *noopLogger) Debug(component, msg string, fields ...any)  {}
func (n *noopLogger) Info(component, msg string, fields ...any)   {}
func (n *noopLogger) Notice(component, msg string, fields ...any) {}
func (n *noopLogger) Warn(component, msg string, fields ...any)   {}
func (n *noopLogger) Error(component, msg string, fields ...any)  {}
func (n *noopLogger) Event(ctx context.Context, event string, fields map[string]any) {
}
func (n *noopLogger) Close() error { return nil }

// pairs turns key/value varargs into a map, dropping a dangling key.
func pairs(fields []any) map[string]any {
	if len(fields) < 2 {
		return nil
	}
	out := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			out[key] = fields[i+1]
		}
	}
	return out
}
