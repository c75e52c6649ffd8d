package refresh

import (
	"github.com/metarefresh/metarefresh/internal/differ"
	"github.com/metarefresh/metarefresh/internal/fetcher"
	"github.com/metarefresh/metarefresh/internal/filter"
	"github.com/metarefresh/metarefresh/internal/models"
)

// SourceResult describes what one source contributed.
type SourceResult struct {
	Src     string
	Outcome fetcher.Outcome
	// Entities accumulated from the fetched document.
	Entities int
	// Cached records carried over from the previous output.
	Cached  int
	Dropped map[filter.Gate]int
	Err     error
}

// SetStatus of a set after Run
type SetStatus string

const (
	StatusWritten SetStatus = "written"
	StatusSkipped SetStatus = "skipped"
	StatusFailed  SetStatus = "failed"
)

// SetResult of one set
type SetResult struct {
	Name    string
	Status  SetStatus
	Format  string
	Counts  map[string]int
	Sources []SourceResult
	Drift   *differ.Result
	Policy  []models.PolicyResult
	Err     error
}

// Total accumulated entities
func (r SetResult) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Result of one invocation
type Result struct {
	Sets       []SetResult
	StateFile  string
	StateSaved bool
}

// Failed reports whether any set failed.
func (r *Result) Failed() bool {
	for _, s := range r.Sets {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}
