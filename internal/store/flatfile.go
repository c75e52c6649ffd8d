package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metarefresh/metarefresh/internal/generated"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/observability/logging"
)

// Flatfile writes one generated YAML table per entity type, mapping
// entity id to record.
type Flatfile struct {
	dir string
	now func() time.Time
}

func NewFlatfile(dir string, now func() time.Time) *Flatfile {
	if now == nil {
		now = time.Now
	}
	return &Flatfile{dir: dir, now: now}
}

func (f *Flatfile) Format() string { return models.FormatFlatfile }

func (f *Flatfile) Close() error { return nil }

// Path of the artifact for entityType
func (f *Flatfile) Path(entityType string) string {
	return filepath.Join(f.dir, entityType+".yaml")
}

// Write replaces the artifact of entityType. With no entries the stale
// artifact, if any, is removed.
func (f *Flatfile) Write(ctx context.Context, entityType string, entries []models.Entry) error {
	log := logging.From(ctx)
	path := f.Path(entityType)

	if len(entries) == 0 {
		err := os.Remove(path)
		switch {
		case err == nil:
			log.Info("store", "deleting stale metadata file", "file", path)
		case !os.IsNotExist(err):
			return fmt.Errorf("failed to remove stale %s: %w", path, err)
		}
		return nil
	}

	data, err := Render(entries, f.now())
	if err != nil {
		return err
	}
	log.Debug("store", "writing metadata file", "file", path, "entities", len(entries))
	return generated.WriteFile(path, data, 0644)
}

// MetadataSet reads the artifact of entityType back in file order.
func (f *Flatfile) MetadataSet(_ context.Context, entityType string) ([]models.Record, error) {
	data, err := os.ReadFile(f.Path(entityType))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata set: %w", err)
	}
	return ParseTable(data)
}

// Render produces the generated table for entries. Duplicate entity ids
// collapse to the last record.
func Render(entries []models.Entry, now time.Time) ([]byte, error) {
	table := &yaml.Node{Kind: yaml.MappingNode}
	for _, rec := range dedupe(entries) {
		var value yaml.Node
		if err := value.Encode(map[string]any(rec)); err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", rec.EntityID(), err)
		}
		table.Content = append(table.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: rec.EntityID()},
			&value,
		)
	}

	var buf bytes.Buffer
	buf.WriteString(generated.Header(now))
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(table); err != nil {
		return nil, fmt.Errorf("failed to encode metadata table: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseTable decodes a generated table, keeping document order.
func ParseTable(data []byte) ([]models.Record, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata table: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	table := doc.Content[0]
	if table.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: metadata table must be a mapping", table.Line)
	}

	out := make([]models.Record, 0, len(table.Content)/2)
	for i := 0; i+1 < len(table.Content); i += 2 {
		var rec models.Record
		if err := table.Content[i+1].Decode(&rec); err != nil {
			return nil, fmt.Errorf("entity %q: %w", table.Content[i].Value, err)
		}
		rec = models.NormalizeRecord(rec)
		if rec == nil {
			rec = models.Record{}
		}
		if rec.EntityID() == "" {
			rec[models.KeyEntityID] = table.Content[i].Value
		}
		out = append(out, rec)
	}
	return out, nil
}
