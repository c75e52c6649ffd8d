package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/metarefresh/metarefresh/internal/observability"
	"github.com/metarefresh/metarefresh/internal/observability/logging"
	otelobs "github.com/metarefresh/metarefresh/internal/observability/otel"
	"github.com/metarefresh/metarefresh/internal/observability/receipt"
	"github.com/metarefresh/metarefresh/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "metarefresh",
	Short: "Federation metadata refresh",
	Long: `metarefresh downloads federation metadata, filters and validates the
entities it contains and writes them to local metadata stores.`,
	Version:            version.BuildVersion(),
	PersistentPreRunE:  setupObservability,
	PersistentPostRunE: teardownObservability,
}

var (
	logFormatFlag       string
	logLevelFlag        string
	logOutputFlag       string
	receiptFlag         string
	receiptModeFlag     string
	otelFlag            bool
	otelEndpointFlag    string
	otelProtocolFlag    string
	otelInsecureFlag    bool
	otelSampleRatioFlag float64
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logFormatFlag, "log-format", logging.FormatText, "Log format: text, jsonl or none")
	pf.StringVar(&logLevelFlag, "log-level", logging.LevelInfo, "Minimum level: debug, info, notice, warn or error")
	pf.StringVar(&logOutputFlag, "log-output", "stderr", "Log destination: stderr, stdout or a file path")
	pf.StringVar(&receiptFlag, "receipt", "", "Write a JSON receipt of the invocation to this path")
	pf.StringVar(&receiptModeFlag, "receipt-mode", string(receipt.ModeOverwrite), "Receipt mode: overwrite or append")
	pf.BoolVar(&otelFlag, "otel", false, "Export OpenTelemetry traces")
	pf.StringVar(&otelEndpointFlag, "otel-endpoint", "", "OTLP endpoint (default from OTEL_EXPORTER_OTLP_ENDPOINT)")
	pf.StringVar(&otelProtocolFlag, "otel-protocol", otelobs.ProtocolHTTP, "OTLP protocol: otlphttp or otlpgrpc")
	pf.BoolVar(&otelInsecureFlag, "otel-insecure", false, "Disable TLS for the OTLP exporter")
	pf.Float64Var(&otelSampleRatioFlag, "otel-sample-ratio", 1.0, "Trace sample ratio between 0 and 1")

	rootCmd.AddCommand(GetRefreshCmd())
	rootCmd.AddCommand(GetFetchCmd())
	rootCmd.AddCommand(GetDiffCmd())
	rootCmd.AddCommand(GetStateCmd())
	rootCmd.AddCommand(GetPolicyCmd())
}

// Execute the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupObservability puts the op id, logger, tracer and receipt writer
// into the command context.
func setupObservability(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithOpID(ctx)

	log, err := logging.NewLogger(logging.Config{
		Format: logFormatFlag,
		Level:  logLevelFlag,
		Output: logOutputFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	ctx = logging.WithLogger(ctx, log)

	if otelFlag {
		cfg := otelobs.DefaultConfig()
		cfg.Enabled = true
		cfg.Endpoint = otelEndpointFlag
		cfg.Protocol = otelProtocolFlag
		cfg.Insecure = otelInsecureFlag
		cfg.SampleRatio = otelSampleRatioFlag
		h, err := otelobs.Init(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		ctx = otelobs.WithHandle(ctx, h)
	}

	if receiptFlag != "" {
		w, err := receipt.NewWriter(receiptFlag, receiptModeFlag)
		if err != nil {
			return fmt.Errorf("failed to open receipt file: %w", err)
		}
		ctx = receipt.WithWriter(ctx, w)
	}

	cmd.SetContext(ctx)
	return nil
}

func teardownObservability(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if w := receipt.From(ctx); w != nil {
		_ = w.Close()
	}
	if h := otelobs.From(ctx); h != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(sctx)
	}
	return logging.From(ctx).Close()
}
