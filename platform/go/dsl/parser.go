package dsl

import (
	"regexp"
	"strings"
)

var (
	tableHeaderPattern  = regexp.MustCompile(`(?i)^\s*table\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{\s*$`)
	columnLinePattern   = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s+([A-Za-z_][A-Za-z0-9_]*(?:\(\s*\d+(?:\s*,\s*\d+)?\s*\))?)\s*(?:\[([^\]]*)\])?\s*$`)
	relationshipPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\s*>\s*([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)`)
)

// ParseModel extracts the structural model from a DSL document. The function
// is total: malformed fragments are skipped, never reported, because the model
// feeds best-effort visualization. Relationships are collected independently
// of table blocks and may reference tables absent from the document.
func ParseModel(dslText string) Model {
	model := Model{
		Tables:        []Table{},
		Relationships: []Relationship{},
	}

	lines := strings.Split(dslText, "\n")
	var current *Table

	for _, raw := range lines {
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		if current == nil {
			if m := tableHeaderPattern.FindStringSubmatch(line); m != nil {
				current = &Table{Name: m[1], Columns: []Column{}}
			}
			continue
		}

		if line == "}" {
			model.Tables = append(model.Tables, *current)
			current = nil
			continue
		}

		if col, ok := parseColumnLine(line); ok {
			current.Columns = append(current.Columns, col)
		}
	}

	// An unterminated table block still contributes what it declared.
	if current != nil {
		model.Tables = append(model.Tables, *current)
	}

	for _, m := range relationshipPattern.FindAllStringSubmatch(dslText, -1) {
		model.Relationships = append(model.Relationships, Relationship{
			FromTable:  m[1],
			FromColumn: m[2],
			ToTable:    m[3],
			ToColumn:   m[4],
		})
	}

	return model
}

func parseColumnLine(line string) (Column, bool) {
	m := columnLinePattern.FindStringSubmatch(line)
	if m == nil {
		return Column{}, false
	}

	col := Column{
		Name:     m[1],
		Type:     strings.ToLower(strings.ReplaceAll(m[2], " ", "")),
		Nullable: true,
	}

	// Relationship lines such as "users.id > ..." never match the column
	// pattern, so only genuine attribute lists reach this point.
	for _, attr := range splitAttributes(m[3]) {
		applyAttribute(&col, attr)
	}

	if col.PrimaryKey {
		col.Nullable = false
	}

	return col, true
}

func applyAttribute(col *Column, attr string) {
	normalized := strings.ToLower(strings.TrimSpace(attr))
	switch {
	case normalized == "pk" || normalized == "primary key":
		col.PrimaryKey = true
	case normalized == "not null":
		col.Nullable = false
	case normalized == "null":
		col.Nullable = true
	case normalized == "unique":
		col.Unique = true
	case normalized == "increment":
		col.AutoIncrement = true
	case strings.HasPrefix(normalized, "default:"):
		col.Default = strings.TrimSpace(attr[strings.Index(attr, ":")+1:])
	default:
		// Unrecognized attributes (note:, ref:, ...) are skipped.
	}
}

// splitAttributes splits a bracketed attribute list on commas outside quotes,
// so `default: 'a,b'` stays one attribute.
func splitAttributes(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}

	var (
		parts   []string
		current strings.Builder
		quote   rune
	)
	for _, r := range list {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ',':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, current.String())
	return parts
}

func stripComment(line string) string {
	if idx := strings.Index(line, "//"); idx >= 0 {
		return line[:idx]
	}
	return line
}
