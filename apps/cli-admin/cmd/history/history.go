package historycmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// Command groups query-history maintenance helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query history maintenance (retention purge)",
	}

	cmd.AddCommand(purgeCommand())
	return cmd
}

func purgeCommand() *cobra.Command {
	var (
		databaseURL string
		retention   time.Duration
	)

	c := &cobra.Command{
		Use:   "purge",
		Short: "Delete history records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if retention <= 0 {
				return fmt.Errorf("retention must be positive")
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			store, err := persistence.NewQueryHistoryStore(pool)
			if err != nil {
				return fmt.Errorf("init history store: %w", err)
			}

			removed, err := store.PurgeOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				return fmt.Errorf("purge history: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history records.\n", removed)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().DurationVar(&retention, "retention", 720*time.Hour, "Retention window (e.g. 720h)")
	_ = c.MarkFlagRequired("database-url")

	return c
}
