package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cfdeploy/cfdeploy/pkg/stores"
)

func newStepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Inspect recorded deployments",
	}

	cmd.AddCommand(newStepsListCommand())
	cmd.AddCommand(newStepsShowCommand())
	cmd.AddCommand(newStepsForgetCommand())

	return cmd
}

// withStore runs fn against the configured state database.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *stores.SQLiteStore) error) error {
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

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, store)
}

func newStepsListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				deployments, err := store.ListDeployments(ctx, limit, offset)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, deployments)
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tFAILED STEP")
				for _, d := range deployments {
					failed := ""
					if d.FailedStep != nil {
						failed = *d.FailedStep
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Status, d.StartedAt.Format(time.RFC3339), failed)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of deployments")
	cmd.Flags().IntVar(&offset, "offset", 0, "deployments to skip")

	return cmd
}

func newStepsShowCommand() *cobra.Command {
	var events int

	cmd := &cobra.Command{
		Use:   "show DEPLOYMENT_ID",
		Short: "Show the steps and events of a deployment",
		Example: `  cfdeploy steps show deploy-001
  cfdeploy steps show deploy-001 --events 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				deployment, err := store.GetDeployment(ctx, id)
				if err != nil {
					return err
				}
				records, err := store.ListStepRecords(ctx, id)
				if err != nil {
					return err
				}
				history, err := store.ListEvents(ctx, id, events, 0)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, map[string]any{
						"deployment": deployment,
						"steps":      records,
						"events":     history,
					})
				}

				fmt.Fprintf(out, "Deployment %s: %s (%d ms in controller calls)\n\n",
					deployment.ID, deployment.Status, deployment.PlatformTimeMS)

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STEP\tPHASE\tSTARTED")
				for _, r := range records {
					started := "-"
					if !r.StartTimestamp.IsZero() {
						started = r.StartTimestamp.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.StepName, r.Phase, started)
				}
				if err := tw.Flush(); err != nil {
					return err
				}

				if len(history) == 0 {
					return nil
				}
				fmt.Fprintln(out)
				for _, e := range history {
					fmt.Fprintf(out, "%s  %-18s %s %s\n",
						e.Timestamp.Format(time.RFC3339), e.Type, e.StepName, e.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&events, "events", 20, "number of events to show")

	return cmd
}

func newStepsForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget DEPLOYMENT_ID",
		Short: "Delete the recorded state of a deployment",
		Long: `Delete the variables, events and bookkeeping row of a deployment.
A forgotten deployment starts from its first step when deployed again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				if err := store.DeleteDeployment(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deployment %s forgotten\n", args[0])
				return nil
			})
		},
	}
}
