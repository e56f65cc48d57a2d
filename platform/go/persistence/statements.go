package persistence

import "strings"

// SplitStatements splits an embedded SQL asset into individual statements on
// semicolons, honoring dollar-quoted bodies so plpgsql function definitions
// survive intact. Callers execute the pieces one by one because pgx's
// extended protocol rejects multi-statement strings.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		dollarTag  string
	)

	i := 0
	for i < len(script) {
		ch := script[i]

		if dollarTag == "" && ch == '$' {
			if tag, ok := readDollarTag(script[i:]); ok {
				dollarTag = tag
				current.WriteString(tag)
				i += len(tag)
				continue
			}
		} else if dollarTag != "" && ch == '$' && strings.HasPrefix(script[i:], dollarTag) {
			current.WriteString(dollarTag)
			i += len(dollarTag)
			dollarTag = ""
			continue
		}

		if ch == ';' && dollarTag == "" {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			i++
			continue
		}

		current.WriteByte(ch)
		i++
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}

// readDollarTag reads a dollar-quote opener ($$, $body$, ...) from the start
// of s, returning the full tag and whether one was present.
func readDollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		switch {
		case s[i] == '$':
			return s[:i+1], true
		case (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') || s[i] == '_':
			continue
		default:
			return "", false
		}
	}
	return "", false
}
