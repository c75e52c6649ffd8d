package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/refresh"
	"github.com/metarefresh/metarefresh/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the cached conditional GET validators",
	Long: `State prints the Last-Modified and ETag validators kept for each source
between runs.

Example:
  metarefresh state --config config-metarefresh.yaml`,
	SilenceUsage: true,
	RunE:         runState,
}

var (
	stateConfigFlag string
	stateFileFlag   string
)

func init() {
	stateCmd.Flags().StringVarP(&stateConfigFlag, "config", "c", defaultConfigPath, "Path to the configuration file")
	stateCmd.Flags().StringVar(&stateFileFlag, "state-file", "", "State file to read (overrides the configuration)")
}

// GetStateCmd returns the state command
func GetStateCmd() *cobra.Command {
	return stateCmd
}

func runState(cmd *cobra.Command, args []string) error {
	path := stateFileFlag
	if path == "" {
		cfg, err := models.LoadConfig(stateConfigFlag)
		if err != nil {
			return err
		}
		path = refresh.StateFilePath(cfg, "", filepath.Dir(stateConfigFlag))
	}
	if path == "" {
		return fmt.Errorf("no state file configured (set stateFile or datadir)")
	}

	st, err := state.Load(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	srcs := st.Sources()
	if len(srcs) == 0 {
		fmt.Fprintf(out, "%s: no cached validators\n", path)
		return nil
	}
	fmt.Fprintf(out, "%s%s%s\n", colorBold, path, colorReset)
	for _, src := range srcs {
		e := st.Get(src)
		fmt.Fprintf(out, "  %s\n", src)
		if e.ETag != "" {
			fmt.Fprintf(out, "    etag:          %s\n", e.ETag)
		}
		if e.LastModified != "" {
			fmt.Fprintf(out, "    last-modified: %s\n", e.LastModified)
		}
		if e.RequestedAt != "" {
			fmt.Fprintf(out, "    requested at:  %s\n", e.RequestedAt)
		}
	}
	return nil
}
