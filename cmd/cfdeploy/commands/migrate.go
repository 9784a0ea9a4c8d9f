package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the state database",
		Args:  cobra.NoArgs,
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

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.HealthCheck(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date\n", a.cfg.Store.Path)
			return nil
		},
	}
}
