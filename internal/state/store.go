// Package state persists per-source cache validators between runs.
package state

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metarefresh/metarefresh/internal/generated"
	"github.com/metarefresh/metarefresh/internal/models"
)

// Store is the cache state of one refresh invocation. Safe for
// concurrent use; entries for distinct sources never interfere.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	entries models.CacheState
	changed bool
}

// Load reads the state file at path. A missing or unreadable file yields
// an empty store; the returned error is informational only and the
// store is always usable.
func Load(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now, entries: models.CacheState{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read state file: %w", err)
	}

	var entries models.CacheState
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return s, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if entries != nil {
		s.entries = entries
	}
	return s, nil
}

// Path of the backing file
func (s *Store) Path() string {
	return s.path
}

// Get returns the validators stored for src.
func (s *Store) Get(src string) models.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[src]
}

// Record merges the validators of a successful response for src into
// its entry. An empty validator keeps the stored one, since a server that
// omits a header this time has not invalidated the previous value. Any
// non-empty entry is stamped with the request time. Callers only record
// sources with conditional GET enabled.
func (s *Store) Record(src, lastModified, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entries[src]
	if lastModified != "" {
		entry.LastModified = lastModified
	}
	if etag != "" {
		entry.ETag = etag
	}
	if entry.IsZero() {
		return
	}
	entry.RequestedAt = generated.Timestamp(s.now())
	s.entries[src] = entry
	s.changed = true
}

// Changed reports whether Save would write.
func (s *Store) Changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Save writes the state file if anything was recorded since the last
// save. It reports whether the file was written.
func (s *Store) Save() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.changed || s.path == "" {
		return false, nil
	}

	body, err := yaml.Marshal(s.entries)
	if err != nil {
		return false, fmt.Errorf("failed to marshal state: %w", err)
	}
	data := append([]byte(generated.Header(s.now())), body...)
	if err := generated.WriteFile(s.path, data, 0644); err != nil {
		return false, err
	}
	s.changed = false
	return true, nil
}

// Sources lists the stored source identifiers in sorted order.
func (s *Store) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for src := range s.entries {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() models.CacheState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(models.CacheState, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
