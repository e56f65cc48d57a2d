package persistence

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaloom/schemaloom/platform/go/dsl"
)

// ListBaseTables enumerates the base tables in the given namespace of the
// connection the transaction runs on. The reconciler uses this to drop the
// current table set dynamically instead of trusting a stored list.
func ListBaseTables(ctx context.Context, tx pgx.Tx, namespace string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT tablename FROM pg_tables WHERE schemaname = $1 ORDER BY tablename
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list base tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate base tables: %w", err)
	}

	return tables, nil
}

// IntrospectModel rebuilds a structural model from the live
// information_schema of a tenant database. It exists to bootstrap a first
// overview for tenants without a schema-of-record; once a definition is
// saved, its DSL takes priority over live introspection.
func IntrospectModel(ctx context.Context, pool *pgxpool.Pool, namespace string) (dsl.Model, error) {
	model := dsl.Model{
		Tables:        []dsl.Table{},
		Relationships: []dsl.Relationship{},
	}

	rows, err := pool.Query(ctx, `
		SELECT c.table_name,
		       c.column_name,
		       c.data_type,
		       c.is_nullable = 'YES',
		       c.column_default,
		       pk.column_name IS NOT NULL AS is_primary_key
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		LEFT JOIN (
			SELECT kcu.table_name, kcu.column_name
			FROM information_schema.key_column_usage kcu
			JOIN information_schema.table_constraints tc
			  ON tc.constraint_name = kcu.constraint_name
			 AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
		) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position
	`, namespace)
	if err != nil {
		return dsl.Model{}, fmt.Errorf("introspect columns: %w", err)
	}
	defer rows.Close()

	byTable := map[string]*dsl.Table{}
	var order []string
	for rows.Next() {
		var (
			tableName, columnName, dataType string
			columnDefault                   *string
			nullable, primaryKey            bool
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &columnDefault, &primaryKey); err != nil {
			return dsl.Model{}, fmt.Errorf("scan column row: %w", err)
		}

		table, ok := byTable[tableName]
		if !ok {
			table = &dsl.Table{Name: tableName, Columns: []dsl.Column{}}
			byTable[tableName] = table
			order = append(order, tableName)
		}

		col := dsl.Column{
			Name:       columnName,
			Type:       dataType,
			Nullable:   nullable,
			PrimaryKey: primaryKey,
		}
		if columnDefault != nil {
			col.Default = *columnDefault
		}
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return dsl.Model{}, fmt.Errorf("iterate column rows: %w", err)
	}

	sort.Strings(order)
	for _, name := range order {
		model.Tables = append(model.Tables, *byTable[name])
	}

	relationships, err := introspectForeignKeys(ctx, pool, namespace)
	if err != nil {
		return dsl.Model{}, err
	}
	model.Relationships = relationships

	return model, nil
}

func introspectForeignKeys(ctx context.Context, pool *pgxpool.Pool, namespace string) ([]dsl.Relationship, error) {
	rows, err := pool.Query(ctx, `
		SELECT kcu.table_name,
		       kcu.column_name,
		       ccu.table_name,
		       ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		 AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
		ORDER BY kcu.table_name, kcu.column_name
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	defer rows.Close()

	relationships := []dsl.Relationship{}
	for rows.Next() {
		var rel dsl.Relationship
		if err := rows.Scan(&rel.FromTable, &rel.FromColumn, &rel.ToTable, &rel.ToColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		relationships = append(relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	return relationships, nil
}
