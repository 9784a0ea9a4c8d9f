package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cfdeploy/cfdeploy/pkg/hooks"
)

func newHooksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect hook phases",
	}

	cmd.AddCommand(newHooksResolveCommand())
	cmd.AddCommand(newHooksPhasesCommand())

	return cmd
}

func newHooksResolveCommand() *cobra.Command {
	var strategy, subject string

	cmd := &cobra.Command{
		Use:   "resolve PHASE...",
		Short: "Resolve hook phases for a deployment strategy",
		Long: `Resolve canonical hook phases into the phases hooks are matched against
for the given deployment strategy and subject.`,
		Example: `  cfdeploy hooks resolve application.before-stop --strategy blue-green --subject idle`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := hooks.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			sub, err := hooks.ParseSubject(subject)
			if err != nil {
				return err
			}

			phases := make([]hooks.Phase, 0, len(args))
			for _, arg := range args {
				p, err := hooks.ParsePhase(arg)
				if err != nil {
					return err
				}
				phases = append(phases, p)
			}

			resolved := hooks.NewResolver().Resolve(phases, hooks.Context{Strategy: s, Subject: sub})

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, resolved)
			}
			for _, p := range resolved {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "deployment strategy (default, blue-green, zero-downtime)")
	cmd.Flags().StringVar(&subject, "subject", "", "blue-green subject (live, idle)")

	return cmd
}

func newHooksPhasesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List known hook phases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, hooks.Phases())
			}
			for _, p := range hooks.Phases() {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
}
