// Package accumulator collects the entity records of one refresh set,
// partitioned by entity type.
package accumulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/metarefresh/metarefresh/internal/models"
)

// MetadataSource is a previous run's output, read back by type.
type MetadataSource interface {
	MetadataSet(ctx context.Context, entityType string) ([]models.Record, error)
}

// Accumulator is append-only for the lifetime of one set refresh.
type Accumulator struct {
	// ceiling is the global expiry in unix seconds; zero means none.
	ceiling int64

	mu      sync.Mutex
	entries map[string][]models.Entry
}

func New(ceiling int64) *Accumulator {
	return &Accumulator{ceiling: ceiling, entries: make(map[string][]models.Entry)}
}

// Ceiling returns the configured expiry ceiling (zero if none).
func (a *Accumulator) Ceiling() int64 {
	return a.ceiling
}

// Add appends rec under entityType after merging tmpl, tagging provenance
// and reconciling expiry. rec itself is not modified.
func (a *Accumulator) Add(source string, rec models.Record, entityType string, tmpl models.Record) {
	out := rec.Merge(tmpl)
	out[models.KeySource] = source
	if exp, ok := MergeExpiry(a.ceiling, out); ok {
		out[models.KeyExpire] = exp
	}
	a.append(entityType, models.Entry{Source: source, Record: out})
}

// AddCached re-adds the records of the previous output whose provenance
// is source. Records are carried over unmodified. A previous output
// that does not exist yields nothing.
func (a *Accumulator) AddCached(ctx context.Context, source string, types []string, prev MetadataSource) (int, error) {
	if prev == nil {
		return 0, nil
	}
	added := 0
	for _, t := range types {
		records, err := prev.MetadataSet(ctx, t)
		if err != nil {
			return added, fmt.Errorf("failed to load cached %s metadata: %w", t, err)
		}
		for _, rec := range records {
			if rec.Source() != source {
				continue
			}
			a.append(t, models.Entry{Source: source, Record: rec.Clone()})
			added++
		}
	}
	return added, nil
}

func (a *Accumulator) append(entityType string, e models.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[entityType] = append(a.entries[entityType], e)
}

// Entries of one type in insertion order
func (a *Accumulator) Entries(entityType string) []models.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.entries[entityType]
	out := make([]models.Entry, len(list))
	copy(out, list)
	return out
}

// Records of one type in insertion order
func (a *Accumulator) Records(entityType string) []models.Record {
	entries := a.Entries(entityType)
	out := make([]models.Record, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out
}

// Types that hold at least one entry, in canonical order.
func (a *Accumulator) Types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, t := range models.AllTypes {
		if len(a.entries[t]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Counts per type
func (a *Accumulator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.entries))
	for t, list := range a.entries {
		out[t] = len(list)
	}
	return out
}

// Total number of entries across all types
func (a *Accumulator) Total() int {
	n := 0
	for _, c := range a.Counts() {
		n += c
	}
	return n
}

// MergeExpiry returns the effective expiry of rec under ceiling: the
// earlier of the two when both are present, otherwise whichever is
// present. ok is false when neither is.
func MergeExpiry(ceiling int64, rec models.Record) (int64, bool) {
	own, hasOwn := rec.Expire()
	switch {
	case ceiling > 0 && hasOwn:
		return min(ceiling, own), true
	case ceiling > 0:
		return ceiling, true
	case hasOwn:
		return own, true
	}
	return 0, false
}
