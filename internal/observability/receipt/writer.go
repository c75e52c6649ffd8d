package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/metarefresh/metarefresh/internal/generated"
)

// Writer persists receipts.
type Writer interface {
	Write(r Receipt) error
	Close() error
}

// Mode selects how successive receipts share one file.
type Mode string

const (
	// ModeOverwrite replaces the file with the latest receipt.
	ModeOverwrite Mode = "overwrite"
	// ModeAppend adds one JSON object per line, for cron histories.
	ModeAppend Mode = "append"
)

// ParseMode validates a --receipt-mode value. Empty means overwrite.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeOverwrite:
		return ModeOverwrite, nil
	case ModeAppend:
		return ModeAppend, nil
	}
	return "", fmt.Errorf("invalid receipt mode %q (want overwrite or append)", s)
}

type fileWriter struct {
	mu   sync.Mutex
	path string
	mode Mode
	// only held in append mode
	file *os.File
}

// NewWriter opens a receipt file. In overwrite mode each Write swaps in a
// complete file so a crash never leaves a half-written receipt behind.
func NewWriter(path string, mode string) (Writer, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for receipt: %w", err)
		}
	}

	w := &fileWriter{path: path, mode: m}
	if m == ModeAppend {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open receipt file: %w", err)
		}
		w.file = f
	}
	return w, nil
}

func (w *fileWriter) Write(r Receipt) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == ModeOverwrite {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}
		return generated.WriteFile(w.path, append(data, '\n'), 0644)
	}

	if w.file == nil {
		return fmt.Errorf("receipt writer for %s is closed", w.path)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return w.file.Sync()
}

func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

type writerKey struct{}

// WithWriter stores w in ctx for the command's post-run hook.
func WithWriter(ctx context.Context, w Writer) context.Context {
	return context.WithValue(ctx, writerKey{}, w)
}

// From returns the writer stored in ctx, or nil.
func From(ctx context.Context) Writer {
	w, _ := ctx.Value(writerKey{}).(Writer)
	return w
}
