package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/metarefresh/metarefresh/internal/differ"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/observability/receipt"
	"github.com/metarefresh/metarefresh/internal/policy"
	"github.com/metarefresh/metarefresh/internal/refresh"
)

// ANSI color codes
const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorReset  = "\033[0m"
)

// FailOnLevel threshold for failure
type FailOnLevel string

const (
	FailOnCritical FailOnLevel = "critical"
	FailOnModerate FailOnLevel = "moderate"
	FailOnInfo     FailOnLevel = "info"
)

// ParseFailOnLevel from string
func ParseFailOnLevel(s string) (FailOnLevel, error) {
	switch strings.ToLower(s) {
	case "critical":
		return FailOnCritical, nil
	case "moderate":
		return FailOnModerate, nil
	case "info":
		return FailOnInfo, nil
	default:
		return "", fmt.Errorf("invalid fail-on level: %s (use critical, moderate, or info)", s)
	}
}

// ShouldFail checks limits
func (f FailOnLevel) ShouldFail(severity differ.SeverityLevel) bool {
	switch f {
	case FailOnCritical:
		return severity == differ.SeverityCritical
	case FailOnModerate:
		return severity >= differ.SeverityModerate
	case FailOnInfo:
		return true
	default:
		return severity == differ.SeverityCritical
	}
}

func colorForSeverity(severity differ.SeverityLevel) string {
	switch severity {
	case differ.SeverityCritical:
		return colorRed
	case differ.SeverityModerate:
		return colorYellow
	default:
		return colorGreen
	}
}

// summarize maps a refresh result onto receipt summaries.
func summarize(cfg *models.Config, res *refresh.Result) []receipt.SetSummary {
	presets := map[string]string{}
	if cfg != nil {
		for _, s := range cfg.Sets {
			presets[s.Name] = s.PolicyPreset
		}
	}

	out := make([]receipt.SetSummary, 0, len(res.Sets))
	for _, sr := range res.Sets {
		sum := receipt.SetSummary{
			Name:     sr.Name,
			Status:   string(sr.Status),
			Format:   sr.Format,
			Entities: sr.Counts,
		}
		if sr.Err != nil {
			sum.Error = sr.Err.Error()
		}
		for _, src := range sr.Sources {
			ss := receipt.SourceSummary{
				Src:      src.Src,
				Outcome:  src.Outcome.String(),
				Entities: src.Entities,
				Cached:   src.Cached,
			}
			if src.Err != nil {
				ss.Error = src.Err.Error()
			}
			sum.Sources = append(sum.Sources, ss)
		}
		if sr.Drift != nil {
			counts := sr.Drift.Counts()
			d := &receipt.DriftSummary{
				Added:   counts[differ.DiffTypeAdded],
				Removed: counts[differ.DiffTypeRemoved],
				Changed: counts[differ.DiffTypeChanged],
			}
			for _, diff := range sr.Drift.Diffs {
				if diff.Severity == differ.SeverityCritical {
					d.Critical++
				}
			}
			sum.Drift = d
		}
		if len(sr.Policy) > 0 {
			ps := &receipt.PolicySummary{Preset: presets[sr.Name], Status: "pass"}
			for _, r := range models.FailedRules(sr.Policy) {
				ps.Status = "fail"
				ps.Failed = append(ps.Failed, r.RuleName)
			}
			sum.Policy = ps
		}
		out = append(out, sum)
	}
	return out
}

// printResult writes a human readable run summary.
func printResult(w io.Writer, res *refresh.Result) {
	for _, sr := range res.Sets {
		switch sr.Status {
		case refresh.StatusSkipped:
			fmt.Fprintf(w, "- %s: skipped\n", sr.Name)
			continue
		case refresh.StatusFailed:
			fmt.Fprintf(w, "%s✗ %s: %v%s\n", colorRed, sr.Name, sr.Err, colorReset)
		default:
			fmt.Fprintf(w, "%s✓ %s%s (%s, %d entities)\n", colorGreen, sr.Name, colorReset, sr.Format, sr.Total())
		}

		types := make([]string, 0, len(sr.Counts))
		for t := range sr.Counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "    %-28s %d\n", t, sr.Counts[t])
		}
		for _, src := range sr.Sources {
			line := fmt.Sprintf("    %s [%s] %d", receipt.RedactURL(src.Src), src.Outcome, src.Entities)
			if src.Cached > 0 {
				line += fmt.Sprintf(" (+%d cached)", src.Cached)
			}
			if src.Err != nil {
				line += fmt.Sprintf(": %v", src.Err)
			}
			fmt.Fprintln(w, line)
		}
		if sr.Drift != nil && sr.Drift.HasChanges {
			c := sr.Drift.Counts()
			color := colorForSeverity(sr.Drift.MaxSeverity())
			fmt.Fprintf(w, "    %sdrift: +%d -%d ~%d%s\n", color,
				c[differ.DiffTypeAdded], c[differ.DiffTypeRemoved], c[differ.DiffTypeChanged], colorReset)
		}
		if errors.Is(sr.Err, policy.ErrGuardFailed) {
			for _, r := range models.FailedRules(sr.Policy) {
				fmt.Fprintf(w, "    %spolicy %s%s\n", colorRed, r, colorReset)
			}
		}
	}
}

// printEntityDiff writes one entity diff with colored translations.
func printEntityDiff(w io.Writer, d differ.EntityDiff) {
	icon := "~"
	headerColor := colorYellow
	switch d.DiffType {
	case differ.DiffTypeAdded:
		icon = "+"
	case differ.DiffTypeRemoved:
		icon = "-"
		headerColor = colorRed
	}
	fmt.Fprintf(w, "%s[%s] %s %s%s\n", headerColor, icon, d.EntityType, d.EntityID, colorReset)
	for _, t := range d.Translations {
		fmt.Fprintf(w, "  %s• %s%s\n", colorForSeverity(d.Severity), t, colorReset)
	}
}
