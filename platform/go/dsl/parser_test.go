package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModelTablesAndColumns(t *testing.T) {
	t.Parallel()

	model := ParseModel(`
Table users {
  id uuid [pk]
  email varchar(120) [not null, unique]
  name string
  age int [default: 18]
  created_at timestamp
}
`)

	require.Len(t, model.Tables, 1)
	users := model.Tables[0]
	require.Equal(t, "users", users.Name)
	require.Len(t, users.Columns, 5)

	id := users.Columns[0]
	require.True(t, id.PrimaryKey)
	require.False(t, id.Nullable)
	require.Equal(t, "uuid", id.Type)

	email := users.Columns[1]
	require.Equal(t, "varchar(120)", email.Type)
	require.False(t, email.Nullable)
	require.True(t, email.Unique)

	name := users.Columns[2]
	require.True(t, name.Nullable)
	require.False(t, name.PrimaryKey)

	age := users.Columns[3]
	require.Equal(t, "18", age.Default)
}

func TestParseModelRelationships(t *testing.T) {
	t.Parallel()

	model := ParseModel(`
Table posts {
  id uuid [pk]
  author_id uuid
}

Ref: posts.author_id > users.id
`)

	// Relationships are collected independently of table blocks; users is not
	// declared in this document and that is not an error.
	require.Len(t, model.Relationships, 1)
	rel := model.Relationships[0]
	require.Equal(t, "posts", rel.FromTable)
	require.Equal(t, "author_id", rel.FromColumn)
	require.Equal(t, "users", rel.ToTable)
	require.Equal(t, "id", rel.ToColumn)
}

func TestParseModelSkipsMalformedFragments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        string
		expectTables int
		expectCols   int
	}{
		{
			name:         "garbage lines inside block are skipped",
			input:        "Table t {\n  id uuid [pk]\n  ???not a column\n}",
			expectTables: 1,
			expectCols:   1,
		},
		{
			name:         "unterminated block keeps parsed columns",
			input:        "Table t {\n  id uuid [pk]\n",
			expectTables: 1,
			expectCols:   1,
		},
		{
			name:         "free text produces empty model",
			input:        "this is not a schema at all",
			expectTables: 0,
		},
		{
			name:         "empty document",
			input:        "",
			expectTables: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			model := ParseModel(tt.input)
			require.Len(t, model.Tables, tt.expectTables)
			if tt.expectTables > 0 {
				require.Len(t, model.Tables[0].Columns, tt.expectCols)
			}
		})
	}
}

func TestParseModelIgnoresComments(t *testing.T) {
	t.Parallel()

	model := ParseModel(`
// catalog tables
Table items {
  id uuid [pk] // identifier
  label text
}
`)

	require.Len(t, model.Tables, 1)
	require.Len(t, model.Tables[0].Columns, 2)
}

func TestParseModelAttributeVariants(t *testing.T) {
	t.Parallel()

	model := ParseModel(`
Table t {
  a int [primary key]
  b int [increment]
  c text [default: 'hello, world']
  d int [note: 'ignored attribute']
}
`)

	require.Len(t, model.Tables, 1)
	cols := model.Tables[0].Columns
	require.Len(t, cols, 4)
	require.True(t, cols[0].PrimaryKey)
	require.True(t, cols[1].AutoIncrement)
	require.Equal(t, "'hello, world'", cols[2].Default)
	require.Empty(t, cols[3].Default)
}
