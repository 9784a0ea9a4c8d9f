package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the steps of a deployment",
		Long: `Plan a deployment without running it.

The plan reads the live applications of the target space and prints the
ordered steps a deploy would run, hooks and undeploy steps included.`,
		Example: `  # Show the steps of a deployment
  cfdeploy plan -f deployment.yaml -u admin -o acme -s prod

  # Machine readable output
  cfdeploy plan -f deployment.yaml -u admin --space-id 0c5a... --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Failed to shut down cleanly")
				}
			}()

			p, err := prepare(ctx, a, &target)
			if err != nil {
				return err
			}
			p.registry.Release(p.flow.Deployment.Key)

			names := p.flow.StepNames()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]any{
					"deployment_id": p.flow.Deployment.ID,
					"steps":         names,
				})
			}

			fmt.Fprintf(out, "Deployment %s: %d steps\n", p.flow.Deployment.ID, len(names))
			for i, name := range names {
				fmt.Fprintf(out, "%4d  %s\n", i+1, name)
			}
			return nil
		},
	}

	target.register(cmd)

	return cmd
}
