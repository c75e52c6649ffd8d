package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/metarefresh/metarefresh/internal/fetcher"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/netutil"
	"github.com/metarefresh/metarefresh/internal/observability/logging"
	"github.com/metarefresh/metarefresh/internal/observability/receipt"
	"github.com/metarefresh/metarefresh/internal/refresh"
	"github.com/metarefresh/metarefresh/internal/version"
)

const defaultConfigPath = "config-metarefresh.yaml"

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run the configured refresh sets",
	Long: `Refresh fetches every source of the configured sets, filters the
entities and writes each set's output.

A failing source falls back to the records it contributed last time.
A misconfigured set is skipped and the remaining sets still run.

Examples:
  # Run every set
  metarefresh refresh --config config-metarefresh.yaml

  # Run only the sets tagged for the hourly cron job
  metarefresh refresh --cron hourly`,
	SilenceUsage: true,
	RunE:         runRefresh,
}

var (
	refreshConfigFlag       string
	refreshCronFlag         string
	refreshStateFileFlag    string
	refreshStrictFlag       bool
	refreshQuietFlag        bool
	refreshBlockPrivateFlag bool
)

func init() {
	refreshCmd.Flags().StringVarP(&refreshConfigFlag, "config", "c", defaultConfigPath, "Path to the configuration file")
	refreshCmd.Flags().StringVar(&refreshCronFlag, "cron", "", "Only run sets tagged with this cron tag")
	refreshCmd.Flags().StringVar(&refreshStateFileFlag, "state-file", "", "Override the cache state file location")
	refreshCmd.Flags().BoolVar(&refreshStrictFlag, "strict", false, "Exit non-zero when any set fails")
	refreshCmd.Flags().BoolVarP(&refreshQuietFlag, "quiet", "q", false, "Do not print the run summary")
	refreshCmd.Flags().BoolVar(&refreshBlockPrivateFlag, "block-private-hosts", false,
		"Refuse sources resolving to private or reserved addresses")
}

// GetRefreshCmd returns the refresh command
func GetRefreshCmd() *cobra.Command {
	return refreshCmd
}

func runRefresh(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "metarefresh refresh", os.Args[1:])
	var receiptOpts []receipt.Option
	defer func() {
		_ = sess.Finish(err, receiptOpts...)
	}()

	log := logging.From(ctx)
	start := time.Now()
	log.Event(ctx, "refresh.start", map[string]any{"config": refreshConfigFlag, "cron": refreshCronFlag})

	var resultStatus string
	defer func() {
		log.Event(ctx, "refresh.complete", map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      resultStatus,
		})
	}()

	cfg, err := models.LoadConfig(refreshConfigFlag)
	if err != nil {
		resultStatus = "fail"
		return err
	}
	receiptOpts = append(receiptOpts, receipt.WithConfig(refreshConfigFlag))

	orch := refresh.New(cfg, refresh.Options{
		Cron:      refreshCronFlag,
		StateFile: refreshStateFileFlag,
		BaseDir:   filepath.Dir(refreshConfigFlag),
		Fetcher:   newFetcher(cfg, refreshBlockPrivateFlag),
	})
	res, err := orch.Run(ctx)
	if err != nil {
		resultStatus = "fail"
		return err
	}
	receiptOpts = append(receiptOpts, receipt.WithSets(summarize(cfg, res)))

	if !refreshQuietFlag {
		printResult(cmd.OutOrStdout(), res)
	}

	resultStatus = "success"
	if res.Failed() {
		resultStatus = "partial"
		if refreshStrictFlag {
			resultStatus = "fail"
			return fmt.Errorf("one or more sets failed")
		}
	}
	return nil
}

// newFetcher builds the HTTP fetcher from the configured timeout and
// technical contact.
func newFetcher(cfg *models.Config, blockPrivate bool) *fetcher.Fetcher {
	cc := netutil.DefaultClientConfig()
	cc.BlockPrivateHosts = blockPrivate
	if cfg.Timeout > 0 {
		cc.Timeout = cfg.Timeout
	}
	return fetcher.New(netutil.NewClient(cc),
		fetcher.WithUserAgent(version.UserAgent(cfg.TechnicalContact.Name, cfg.TechnicalContact.Email)),
		fetcher.WithMaxSize(cc.MaxSize),
	)
}
