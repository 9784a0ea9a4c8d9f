package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cfdeploy",
		Short: "cfdeploy - resumable multi-application deployments",
		Long: `cfdeploy deploys multi-module applications to a Cloud Foundry style
platform as a flow of small, resumable steps.

Every step persists its progress, so an interrupted deployment continues
where it stopped when it is started again with the same deployment ID.

Features:
  - Binding decisions that only touch what changed
  - Lifecycle hooks resolved per deployment strategy
  - Shared, cached controller clients per user and space
  - Binding policies written in Rego`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newHooksCommand())
	rootCmd.AddCommand(newStepsCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
