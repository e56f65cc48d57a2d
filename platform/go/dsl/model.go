package dsl

// Column is one parsed column declaration inside a table block.
type Column struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Nullable      bool   `json:"nullable"`
	PrimaryKey    bool   `json:"isPrimaryKey"`
	Unique        bool   `json:"isUnique"`
	AutoIncrement bool   `json:"isAutoIncrement"`
	// Default holds the raw default-value token from the attribute list,
	// empty when the column declares none.
	Default string `json:"default,omitempty"`
}

// Table is a parsed table block.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Relationship is a directional many-to-one reference (DBML `>` semantics).
type Relationship struct {
	FromTable  string `json:"fromTable"`
	FromColumn string `json:"fromColumn"`
	ToTable    string `json:"toTable"`
	ToColumn   string `json:"toColumn"`
}

// Model is the structural view of a DSL document, derived on every parse and
// never persisted independently of the owning document text.
type Model struct {
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// Table returns the named table and whether it exists in the model.
func (m Model) Table(name string) (Table, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
