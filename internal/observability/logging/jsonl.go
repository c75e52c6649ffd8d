package logging

import (
	"context"
	"encoding/json"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/metarefresh/metarefresh/internal/observability"
	"github.com/metarefresh/metarefresh/internal/version"
)

const SchemaVersion = "1.0"

type jsonlLogger struct {
	writer   io.Writer
	closer   io.Closer
	minLevel int
	mu       sync.Mutex
}

type logEntry struct {
	Timestamp     string         `json:"ts"`
	Level         string         `json:"level"`
	Event         string         `json:"event,omitempty"`
	Component     string         `json:"component"`
	OpID          string         `json:"op_id"`
	SchemaVersion string         `json:"schema_version"`
	Version       string         `json:"metarefresh_version,omitempty"`
	GoVersion     string         `json:"go_version,omitempty"`
	Message       string         `json:"msg,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

func (j *jsonlLogger) log(level, component, msg string, fields ...any) {
	if levelPriority(level) < j.minLevel {
		return
	}

	j.writeEntry(logEntry{
		Timestamp:     time.Now().Format(time.RFC3339Nano),
		Level:         level,
		Component:     component,
		SchemaVersion: SchemaVersion,
		Version:       version.BuildVersion(),
		GoVersion:     runtime.Version(),
		Message:       msg,
		Fields:        pairs(fields),
	})
}

func (j *jsonlLogger) Event(ctx context.Context, event string, fields map[string]any) {
	if levelPriority(LevelInfo) < j.minLevel {
		return
	}
	j.writeEntry(logEntry{
		Timestamp:     time.Now().Format(time.RFC3339Nano),
		Level:         LevelInfo,
		Event:         "metarefresh." + event,
		Component:     "cli",
		OpID:          observability.OpID(ctx),
		SchemaVersion: SchemaVersion,
		Version:       version.BuildVersion(),
		GoVersion:     runtime.Version(),
		Fields:        fields,
	})
}

func (j *jsonlLogger) writeEntry(entry logEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return // silently skip malformed entries
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, _ = j.writer.Write(data) // best effort
}

func (j *jsonlLogger) Debug(component, msg string, fields ...any) {
	j.log(LevelDebug, component, msg, fields...)
}

func (j *jsonlLogger) Info(component, msg string, fields ...any) {
	j.log(LevelInfo, component, msg, fields...)
}

func (j *jsonlLogger) Notice(component, msg string, fields ...any) {
	j.log(LevelNotice, component, msg, fields...)
}

func (j *jsonlLogger) Warn(component, msg string, fields ...any) {
	j.log(LevelWarn, component, msg, fields...)
}

func (j *jsonlLogger) Error(component, msg string, fields ...any) {
	j.log(LevelError, component, msg, fields...)
}

func (j *jsonlLogger) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
