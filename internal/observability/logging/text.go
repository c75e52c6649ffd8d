package logging

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/metarefresh/metarefresh/internal/observability"
)

// textLogger writes one human readable line per entry:
//
//	2026-10-14T08:00:00Z NOTICE [filter] skipping entity entity=urn:x
type textLogger struct {
	writer   io.Writer
	closer   io.Closer
	minLevel int
	mu       sync.Mutex
}

func (l *textLogger) log(level, component, msg string, fields map[string]any) {
	if levelPriority(level) < l.minLevel {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(level))
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.writer, b.String())
}

func (l *textLogger) Debug(component, msg string, fields ...any) {
	l.log(LevelDebug, component, msg, pairs(fields))
}

func (l *textLogger) Info(component, msg string, fields ...any) {
	l.log(LevelInfo, component, msg, pairs(fields))
}

func (l *textLogger) Notice(component, msg string, fields ...any) {
	l.log(LevelNotice, component, msg, pairs(fields))
}

func (l *textLogger) Warn(component, msg string, fields ...any) {
	l.log(LevelWarn, component, msg, pairs(fields))
}

func (l *textLogger) Error(component, msg string, fields ...any) {
	l.log(LevelError, component, msg, pairs(fields))
}

func (l *textLogger) Event(ctx context.Context, event string, fields map[string]any) {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if id := observability.OpID(ctx); id != "" {
		merged["op_id"] = id
	}
	l.log(LevelInfo, "cli", event, merged)
}

func (l *textLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
