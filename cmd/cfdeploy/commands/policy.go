package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cfdeploy/cfdeploy/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage binding policies",
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyValidateCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and loaded policies",
		Example: `  cfdeploy policy list
  cfdeploy policy list --path ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := policy.NewEngine(zerolog.Nop())
			if err != nil {
				return err
			}
			if len(paths) > 0 {
				if err := eng.LoadPolicies(cmd.Context(), paths); err != nil {
					return err
				}
			}

			policies := eng.ListPolicies()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, policies)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tTAGS")
			for _, p := range policies {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, strings.Join(p.Tags, ","))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "policy files or directories to load")

	return cmd
}

func newPolicyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Check that policy files load and compile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			policies, err := policy.NewLoader(zerolog.Nop()).LoadFromPaths(ctx, args)
			if err != nil {
				return err
			}

			eng, err := policy.NewEngine(zerolog.Nop())
			if err != nil {
				return err
			}
			if err := eng.AddPolicies(ctx, policies); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d policies valid\n", len(policies))
			return nil
		},
	}
}
