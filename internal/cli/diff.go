package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metarefresh/metarefresh/internal/differ"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/store"
)

var diffCmd = &cobra.Command{
	Use:   "diff <old-dir> <new-dir>",
	Short: "Compare two generations of flatfile output",
	Long: `Diff compares the flatfile output of two refresh runs and reports which
entities were added, removed or changed, in human-readable terms.

Expiry changes are ignored. The command fails when a change reaches the
--fail-on severity.

Example:
  metarefresh diff ./metadata.previous ./metadata`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE:         runDiff,
}

var (
	diffFailOnFlag string
	diffJSONFlag   bool
)

func init() {
	diffCmd.Flags().StringVar(&diffFailOnFlag, "fail-on", string(FailOnCritical), "Fail on drift of this severity: critical, moderate or info")
	diffCmd.Flags().BoolVar(&diffJSONFlag, "json", false, "Print the diff as JSON")
}

// GetDiffCmd returns the diff command
func GetDiffCmd() *cobra.Command {
	return diffCmd
}

// DiffOutputItem is one entity change in JSON output.
type DiffOutputItem struct {
	Type         string               `json:"type"`
	EntityID     string               `json:"entityid"`
	Diff         string               `json:"diff"`
	Severity     differ.SeverityLevel `json:"severity"`
	Translations []string             `json:"translations,omitempty"`
}

// loadOutputDir reads every flatfile table in dir.
func loadOutputDir(ctx context.Context, dir string) (map[string][]models.Record, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	ff := store.NewFlatfile(dir, nil)
	out := map[string][]models.Record{}
	for _, t := range models.AllTypes {
		recs, err := ff.MetadataSet(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ff.Path(t), err)
		}
		out[t] = recs
	}
	return out, nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	failOn, err := ParseFailOnLevel(diffFailOnFlag)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	previous, err := loadOutputDir(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to read previous output: %w", err)
	}
	current, err := loadOutputDir(ctx, args[1])
	if err != nil {
		return fmt.Errorf("failed to read current output: %w", err)
	}

	result, err := differ.Compare(previous, current)
	if err != nil {
		return fmt.Errorf("diff failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if diffJSONFlag {
		items := make([]DiffOutputItem, 0, len(result.Diffs))
		for _, d := range result.Diffs {
			items = append(items, DiffOutputItem{
				Type:         d.EntityType,
				EntityID:     d.EntityID,
				Diff:         string(d.DiffType),
				Severity:     d.Severity,
				Translations: d.Translations,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return err
		}
	} else if !result.HasChanges {
		fmt.Fprintf(out, "%s✓ No changes detected%s\n", colorGreen, colorReset)
	} else {
		c := result.Counts()
		fmt.Fprintf(out, "%s%d added, %d removed, %d changed%s\n\n", colorBold,
			c[differ.DiffTypeAdded], c[differ.DiffTypeRemoved], c[differ.DiffTypeChanged], colorReset)
		for _, d := range result.Diffs {
			printEntityDiff(out, d)
		}
	}

	if result.HasChanges && failOn.ShouldFail(result.MaxSeverity()) {
		return fmt.Errorf("drift at or above %s severity", failOn)
	}
	return nil
}
