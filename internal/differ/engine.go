// Package differ reports entity-level drift between two generations of
// refresh output.
package differ

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/wI2L/jsondiff"

	"github.com/metarefresh/metarefresh/internal/models"
)

// DiffType indicates what kind of difference was detected
type DiffType string

const (
	DiffTypeAdded   DiffType = "added"
	DiffTypeRemoved DiffType = "removed"
	DiffTypeChanged DiffType = "changed"
)

// EntityDiff is the difference for one entity of one type.
type EntityDiff struct {
	EntityType   string
	EntityID     string
	DiffType     DiffType
	Patch        jsondiff.Patch
	Translations []string
	Severity     SeverityLevel
}

// Result of Compare
type Result struct {
	HasChanges bool
	Diffs      []EntityDiff
}

// Counts by diff type
func (r *Result) Counts() map[DiffType]int {
	out := map[DiffType]int{}
	for _, d := range r.Diffs {
		out[d.DiffType]++
	}
	return out
}

// MaxSeverity over all diffs
func (r *Result) MaxSeverity() SeverityLevel {
	max := SeveritySafe
	for _, d := range r.Diffs {
		if d.Severity > max {
			max = d.Severity
		}
	}
	return max
}

// IgnoredPaths never count as drift: expiry moves on every run with a
// relative ceiling.
var IgnoredPaths = []string{"/" + models.KeyExpire}

// Compare matches records by entity id within each type. Duplicate ids
// collapse to the last record, as in the written output.
func Compare(previous, current map[string][]models.Record) (*Result, error) {
	result := &Result{}

	for _, t := range typesOf(previous, current) {
		before := byID(previous[t])
		after := byID(current[t])

		for id := range before {
			if _, ok := after[id]; !ok {
				result.Diffs = append(result.Diffs, EntityDiff{
					EntityType:   t,
					EntityID:     id,
					DiffType:     DiffTypeRemoved,
					Translations: []string{"Entity removed."},
					Severity:     SeverityCritical,
				})
			}
		}

		for id, rec := range after {
			old, ok := before[id]
			if !ok {
				result.Diffs = append(result.Diffs, EntityDiff{
					EntityType:   t,
					EntityID:     id,
					DiffType:     DiffTypeAdded,
					Translations: []string{"New entity."},
					Severity:     SeverityModerate,
				})
				continue
			}

			patch, err := ComputeRecordDiff(old, rec)
			if err != nil {
				return nil, fmt.Errorf("failed to compare %s %q: %w", t, id, err)
			}
			if len(patch) == 0 {
				continue
			}
			translations, severity := Translate(patch)
			result.Diffs = append(result.Diffs, EntityDiff{
				EntityType:   t,
				EntityID:     id,
				DiffType:     DiffTypeChanged,
				Patch:        patch,
				Translations: translations,
				Severity:     severity,
			})
		}
	}

	sort.SliceStable(result.Diffs, func(i, j int) bool {
		a, b := result.Diffs[i], result.Diffs[j]
		if a.EntityType != b.EntityType {
			return typeRank(a.EntityType) < typeRank(b.EntityType)
		}
		return a.EntityID < b.EntityID
	})
	result.HasChanges = len(result.Diffs) > 0
	return result, nil
}

// ComputeRecordDiff returns the JSON patch turning old into current,
// ignoring IgnoredPaths.
func ComputeRecordDiff(old, current models.Record) (jsondiff.Patch, error) {
	oldJSON, err := json.Marshal(old)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal previous record: %w", err)
	}
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal current record: %w", err)
	}

	patch, err := jsondiff.CompareJSON(oldJSON, currentJSON, jsondiff.Ignores(IgnoredPaths...))
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff: %w", err)
	}
	return patch, nil
}

func byID(records []models.Record) map[string]models.Record {
	out := make(map[string]models.Record, len(records))
	for _, r := range records {
		out[r.EntityID()] = r
	}
	return out
}

func typesOf(maps ...map[string][]models.Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range maps {
		for t := range m {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if typeRank(out[i]) != typeRank(out[j]) {
			return typeRank(out[i]) < typeRank(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func typeRank(t string) int {
	for i, v := range models.AllTypes {
		if v == t {
			return i
		}
	}
	return len(models.AllTypes)
}
