package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/observability/logging"
)

// SerializeConfig for the embedded key/value sink
type SerializeConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     logging.Logger
}

// Serialize saves every entity under "<type>/<entity id>" as JSON.
type Serialize struct {
	db *badger.DB
}

type badgerLogger struct {
	logger logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger", fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger", fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger", fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger", fmt.Sprintf(format, args...))
}

func OpenSerialize(cfg SerializeConfig) (*Serialize, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("serialize output requires an output directory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create output directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Serialize{db: db}, nil
}

func (s *Serialize) Format() string { return models.FormatSerialize }

func (s *Serialize) Close() error { return s.db.Close() }

func entityKey(entityType, entityID string) []byte {
	return []byte(entityType + "/" + entityID)
}

// Save stores one entity.
func (s *Serialize) Save(entityID, entityType string, rec models.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", entityID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entityKey(entityType, entityID), value)
	})
}

// Write calls Save once per entry. Entities absent from entries are
// left in place.
func (s *Serialize) Write(ctx context.Context, entityType string, entries []models.Entry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Save(e.Record.EntityID(), entityType, e.Record); err != nil {
			return err
		}
	}
	logging.From(ctx).Debug("store", "saved serialized metadata", "type", entityType, "entities", len(entries))
	return nil
}

// MetadataSet iterates the "<type>/" prefix in key order.
func (s *Serialize) MetadataSet(_ context.Context, entityType string) ([]models.Record, error) {
	var out []models.Record
	prefix := []byte(entityType + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return fmt.Errorf("entry %s: %w", it.Item().Key(), err)
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read serialized metadata: %w", err)
	}
	return out, nil
}

// decodeRecord keeps numbers as json.Number so expiry stays integral.
func decodeRecord(data []byte) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec models.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
