package dsl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DDL is the compiled output of a DSL document: table creation statements in
// document order, followed by best-effort constraint and trigger statements.
type DDL struct {
	CreateStatements     []string
	ConstraintStatements []string
}

// typeLookup maps declared DSL type tokens to concrete PostgreSQL types.
// Unmapped tokens fall back to the declared token uppercased.
var typeLookup = map[string]string{
	"string":      "VARCHAR(255)",
	"varchar":     "VARCHAR(255)",
	"char":        "CHAR(1)",
	"text":        "TEXT",
	"int":         "INTEGER",
	"integer":     "INTEGER",
	"smallint":    "SMALLINT",
	"bigint":      "BIGINT",
	"float":       "DOUBLE PRECISION",
	"double":      "DOUBLE PRECISION",
	"real":        "REAL",
	"decimal":     "NUMERIC",
	"numeric":     "NUMERIC",
	"money":       "NUMERIC(19,4)",
	"bool":        "BOOLEAN",
	"boolean":     "BOOLEAN",
	"timestamp":   "TIMESTAMP",
	"timestamptz": "TIMESTAMPTZ",
	"datetime":    "TIMESTAMP",
	"date":        "DATE",
	"time":        "TIME",
	"uuid":        "UUID",
	"json":        "JSONB",
	"jsonb":       "JSONB",
	"bytea":       "BYTEA",
	"serial":      "SERIAL",
	"bigserial":   "BIGSERIAL",
}

// lengthQualified lists base types that keep a parenthesized qualifier from
// the declaration, e.g. varchar(100) or numeric(10,2).
var lengthQualified = map[string]string{
	"string":  "VARCHAR",
	"varchar": "VARCHAR",
	"char":    "CHAR",
	"decimal": "NUMERIC",
	"numeric": "NUMERIC",
}

// reservedTables names control-plane tables that relationship statements must
// never touch; references to them produce no constraint statement.
var reservedTables = map[string]struct{}{
	"tenants":            {},
	"schema_definitions": {},
	"query_history":      {},
}

var (
	numericLiteralPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	typeQualifierPattern  = regexp.MustCompile(`^([a-z_]+)(\(\s*\d+(?:\s*,\s*\d+)?\s*\))$`)
)

// CompileDDL parses the document and renders CREATE TABLE statements plus
// foreign-key and update-trigger statements for the given namespace. Tables
// with zero parsed columns are silently skipped.
func CompileDDL(dslText, namespace string) DDL {
	model := ParseModel(dslText)

	out := DDL{
		CreateStatements:     []string{},
		ConstraintStatements: []string{},
	}

	for _, table := range model.Tables {
		if len(table.Columns) == 0 {
			continue
		}
		out.CreateStatements = append(out.CreateStatements, renderCreateTable(table, namespace))
		if tableHasColumn(table, "updated_at") {
			out.ConstraintStatements = append(out.ConstraintStatements, renderUpdateTrigger(table.Name, namespace)...)
		}
	}

	for _, rel := range model.Relationships {
		if isReservedTable(rel.FromTable) || isReservedTable(rel.ToTable) {
			continue
		}
		out.ConstraintStatements = append(out.ConstraintStatements, renderForeignKey(rel, namespace))
	}

	return out
}

// IsReservedTable reports whether the table name belongs to the fixed set of
// system tables excluded from relationship compilation.
func IsReservedTable(name string) bool {
	return isReservedTable(name)
}

func isReservedTable(name string) bool {
	_, ok := reservedTables[strings.ToLower(name)]
	return ok
}

func renderCreateTable(table Table, namespace string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualifiedName(namespace, table.Name))

	for i, col := range table.Columns {
		fmt.Fprintf(&b, "  %s %s", pgx.Identifier{col.Name}.Sanitize(), columnType(col))

		if clause := defaultClause(col); clause != "" {
			b.WriteString(" DEFAULT " + clause)
		}
		if col.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		} else if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.Unique && !col.PrimaryKey {
			b.WriteString(" UNIQUE")
		}

		if i < len(table.Columns)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}

	b.WriteString(")")
	return b.String()
}

// columnType resolves the declared type token into a concrete column type.
// Auto-increment columns become serial types instead of carrying a sequence
// default.
func columnType(col Column) string {
	token := strings.ToLower(col.Type)

	if col.AutoIncrement {
		if token == "bigint" || token == "bigserial" {
			return "BIGSERIAL"
		}
		return "SERIAL"
	}

	if m := typeQualifierPattern.FindStringSubmatch(token); m != nil {
		if base, ok := lengthQualified[m[1]]; ok {
			return base + strings.ReplaceAll(m[2], " ", "")
		}
		return strings.ToUpper(token)
	}

	if mapped, ok := typeLookup[token]; ok {
		return mapped
	}
	return strings.ToUpper(token)
}

// defaultClause renders the DEFAULT expression for a column, or "" when the
// column gets none. Explicit default attributes always win; the identifier
// conventions for id/created_at/updated_at apply only in their absence.
func defaultClause(col Column) string {
	if col.Default != "" {
		return translateDefault(col.Default)
	}

	switch {
	case col.PrimaryKey && col.Name == "id" && columnType(col) == "UUID":
		return "gen_random_uuid()"
	case col.Name == "created_at" || col.Name == "updated_at":
		return "CURRENT_TIMESTAMP"
	}

	return ""
}

// translateDefault maps recognized default-value tokens to native clauses and
// falls back to a quoted string literal for anything unrecognized.
func translateDefault(token string) string {
	trimmed := strings.TrimSpace(token)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "now", "now()", "current_timestamp", "current_timestamp()":
		return "CURRENT_TIMESTAMP"
	case "uuid", "gen_random_uuid()", "uuid_generate_v4()":
		return "gen_random_uuid()"
	case "true", "false":
		return strings.ToUpper(lower)
	case "null":
		return "NULL"
	}

	if numericLiteralPattern.MatchString(trimmed) {
		return trimmed
	}

	if len(trimmed) >= 2 {
		if (trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'') ||
			(trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"') {
			return quoteLiteral(trimmed[1 : len(trimmed)-1])
		}
	}

	return quoteLiteral(trimmed)
}

func renderForeignKey(rel Relationship, namespace string) string {
	constraint := fmt.Sprintf("fk_%s_%s", rel.FromTable, rel.FromColumn)
	return fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE ON UPDATE CASCADE",
		qualifiedName(namespace, rel.FromTable),
		pgx.Identifier{constraint}.Sanitize(),
		pgx.Identifier{rel.FromColumn}.Sanitize(),
		qualifiedName(namespace, rel.ToTable),
		pgx.Identifier{rel.ToColumn}.Sanitize(),
	)
}

// renderUpdateTrigger emits the drop-if-exists guard and the trigger creation
// so re-application stays idempotent within one recreation pass.
func renderUpdateTrigger(tableName, namespace string) []string {
	trigger := pgx.Identifier{fmt.Sprintf("trg_%s_updated_at", tableName)}.Sanitize()
	qualified := qualifiedName(namespace, tableName)
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, qualified),
		fmt.Sprintf("CREATE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION set_updated_at()", trigger, qualified),
	}
}

func tableHasColumn(table Table, name string) bool {
	for _, col := range table.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

func qualifiedName(namespace, table string) string {
	if namespace == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{namespace, table}.Sanitize()
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
