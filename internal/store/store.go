// Package store holds the output sinks of a refresh set. Every sink can
// also be read back, which is how a failed source falls back to the
// records of the previous run.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/observability/logging"
)

// ErrUnknownFormat is returned by Open for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// Store is one output sink.
type Store interface {
	Format() string
	// MetadataSet returns the records of entityType written by a
	// previous run. A sink that was never written returns none.
	MetadataSet(ctx context.Context, entityType string) ([]models.Record, error)
	// Write persists the entries of one type.
	Write(ctx context.Context, entityType string, entries []models.Entry) error
	Close() error
}

// Options for Open
type Options struct {
	// Dir is the output directory (flatfile, serialize).
	Dir string
	PDO *models.PDOConfig
	// InMemory keeps the serialize store off disk.
	InMemory bool
	Logger   logging.Logger
	Now      func() time.Time
}

// Open returns the sink for format.
func Open(ctx context.Context, format string, opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.From(ctx)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	switch format {
	case models.FormatFlatfile, "":
		if opts.Dir == "" {
			return nil, fmt.Errorf("flatfile output requires an output directory")
		}
		return NewFlatfile(opts.Dir, opts.Now), nil
	case models.FormatSerialize:
		return OpenSerialize(SerializeConfig{Path: opts.Dir, InMemory: opts.InMemory, Logger: opts.Logger})
	case models.FormatPDO:
		if opts.PDO == nil {
			return nil, fmt.Errorf("pdo output requires a pdo configuration")
		}
		return OpenPDO(ctx, *opts.PDO)
	}
	return nil, fmt.Errorf("%w %q (use flatfile, serialize or pdo)", ErrUnknownFormat, format)
}

// WriteAll writes each type in order, continuing past failures.
func WriteAll(ctx context.Context, s Store, types []string, entries func(string) []models.Entry) error {
	var errs []error
	for _, t := range types {
		if err := s.Write(ctx, t, entries(t)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// dedupe keeps one record per entity id: the last one wins but holds the
// position of the first.
func dedupe(entries []models.Entry) []models.Record {
	index := make(map[string]int, len(entries))
	out := make([]models.Record, 0, len(entries))
	for _, e := range entries {
		id := e.Record.EntityID()
		if i, ok := index[id]; ok {
			out[i] = e.Record
			continue
		}
		index[id] = len(out)
		out = append(out, e.Record)
	}
	return out
}
