package storage

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between backends that the statement
// builder needs.
type Dialect interface {
	// Placeholder returns the bind marker for the n-th (1-based) parameter.
	Placeholder(n int) string

	// CreateTable wraps a column definition list into an idempotent
	// create-if-missing statement.
	CreateTable(table string, defs string) string
}

// StandardDialect uses "?" placeholders and CREATE TABLE IF NOT EXISTS
// (SQLite, MySQL-like engines).
type StandardDialect struct{}

func (StandardDialect) Placeholder(int) string { return "?" }

func (StandardDialect) CreateTable(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, defs)
}

// Statements are the SQL texts for one table, built once per run and reused
// for every row.
type Statements struct {
	Create string
	Insert string
	Select string
}

// BuildStatements renders the DDL and DML for t.
//
// Identifiers are interpolated unquoted; they must have passed
// ValidateTableName/ValidateIdent (ParseTables guarantees this). Leaving them
// unquoted keeps the store's case folding consistent with hand-written
// conflict clauses.
func BuildStatements(t TableSpec, d Dialect) Statements {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = c.Name + " " + c.Type
	}

	cols := strings.Join(t.ColumnNames(), ", ")

	var ins strings.Builder
	ins.WriteString("INSERT INTO ")
	ins.WriteString(t.Name)
	ins.WriteString(" (")
	ins.WriteString(cols)
	ins.WriteString(") VALUES (")
	for i := range t.Columns {
		if i > 0 {
			ins.WriteString(", ")
		}
		ins.WriteString(d.Placeholder(i + 1))
	}
	ins.WriteString(")")
	if t.Conflict != "" {
		ins.WriteString(" ")
		ins.WriteString(t.Conflict)
	}

	return Statements{
		Create: d.CreateTable(t.Name, strings.Join(defs, ", ")),
		Insert: ins.String(),
		Select: fmt.Sprintf("SELECT %s FROM %s", cols, t.Name),
	}
}

// ValidateIdent accepts [A-Za-z_][A-Za-z0-9_]* only.
func ValidateIdent(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return fmt.Errorf("invalid identifier %q: only letters, digits and underscore are allowed", s)
		}
	}
	return nil
}

// ValidateTableName accepts an identifier optionally qualified by a schema
// ("public.tracks").
func ValidateTableName(s string) error {
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid table name %q: at most one schema qualifier", s)
	}
	for _, p := range parts {
		if err := ValidateIdent(p); err != nil {
			return err
		}
	}
	return nil
}

// ValidateType accepts column type declarations such as "TEXT",
// "varchar(100)", "numeric(10, 2)" or "TEXT PRIMARY KEY NOT NULL".
func ValidateType(s string) error {
	if s == "" {
		return fmt.Errorf("empty type")
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c == ' ', c == ',', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("invalid type %q: unbalanced parentheses", s)
			}
		default:
			return fmt.Errorf("invalid type %q: character %q not allowed", s, c)
		}
	}
	if depth != 0 {
		return fmt.Errorf("invalid type %q: unbalanced parentheses", s)
	}
	return nil
}
