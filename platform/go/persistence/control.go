package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/schemaloom/schemaloom/database"
)

// BootstrapControlSchema applies the control-plane DDL (tenants,
// schema_definitions, query_history) in a single transaction. The SQL is
// embedded at build time so binaries stay self-contained. The helper is
// idempotent and intended for CLI bootstrap, server startup, and tests.
func BootstrapControlSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap control schema: pool is required")
	}

	var statements []string
	statements = append(statements, SplitStatements(sqlassets.TenantsSQL)...)
	statements = append(statements, SplitStatements(sqlassets.SchemaDefinitionsSQL)...)
	statements = append(statements, SplitStatements(sqlassets.QueryHistorySQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS pgcrypto"); err != nil {
		return fmt.Errorf("enable pgcrypto: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply control ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}
