package bootstrapcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// Command creates the control-plane tables on an empty database.
func Command() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the control-plane tables (tenants, schema_definitions, query_history)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapControlSchema(ctx, pool); err != nil {
				return fmt.Errorf("bootstrap control schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Control plane bootstrap complete.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")

	return c
}
