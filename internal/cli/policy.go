package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy management commands",
	Long:  `Inspect built-in policy presets and validate the guard rules of a configuration.`,
}

var policyPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in policy presets",
	Args:  cobra.NoArgs,
	RunE:  runPolicyPresets,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile the guard rules of every set",
	Long: `Check compiles the preset and custom CEL rules of each set without
fetching anything.

Example:
  metarefresh policy check --config config-metarefresh.yaml`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runPolicyCheck,
}

var policyConfigFlag string

func init() {
	policyCheckCmd.Flags().StringVarP(&policyConfigFlag, "config", "c", defaultConfigPath, "Path to the configuration file")
	policyCmd.AddCommand(policyPresetsCmd)
	policyCmd.AddCommand(policyCheckCmd)
}

// GetPolicyCmd export
func GetPolicyCmd() *cobra.Command {
	return policyCmd
}

func runPolicyPresets(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range policy.PresetNames() {
		rules, err := policy.Preset(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s%s%s\n", colorBold, name, colorReset)
		for _, r := range rules {
			fmt.Fprintf(out, "  %-24s %s\n", r.Name, r.Expr)
		}
	}
	return nil
}

// checkSetPolicies compiles the rules of every set and returns the
// number of sets with rules.
func checkSetPolicies(engine *policy.Engine, cfg *models.Config) (int, error) {
	checked := 0
	for _, set := range cfg.Sets {
		rules, err := policy.Rules(set)
		if err != nil {
			return checked, fmt.Errorf("set %q: %w", set.Name, err)
		}
		if len(rules) == 0 {
			continue
		}
		if err := engine.CompileAndValidate(rules); err != nil {
			return checked, fmt.Errorf("set %q: %w", set.Name, err)
		}
		checked++
	}
	return checked, nil
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	cfg, err := models.LoadConfig(policyConfigFlag)
	if err != nil {
		return err
	}
	engine, err := policy.NewEngine()
	if err != nil {
		return err
	}
	n, err := checkSetPolicies(engine, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s✓ %d set(s) with valid guard rules%s\n", colorGreen, n, colorReset)
	return nil
}
