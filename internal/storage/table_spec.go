// The TableSpec types live here so that multitable and the backend packages can both import them without circular deps.
package storage

import (
	"fmt"
	"strings"

	"trackload/internal/extract"
)

// RawTable is one entry of the configuration's `tables` list.
//
// Example (YAML):
//
//	tables:
//	  - table_name: tracks
//	    columns:
//	      - "id:id:TEXT PRIMARY KEY"
//	      - "name:name:TEXT"
//	      - "release_date:album.release_date:TEXT"
//	      - "loaded_on:{current_date}:DATE"
//	    upsert: "ON CONFLICT(id) DO UPDATE SET name=excluded.name"
type RawTable struct {
	TableName string   `yaml:"table_name" json:"table_name"`
	Columns   []string `yaml:"columns" json:"columns"`
	Upsert    string   `yaml:"upsert,omitempty" json:"upsert,omitempty"`
}

// ColumnSpec is one destination column and the path its value comes from.
type ColumnSpec struct {
	Name string
	Path extract.Path
	Type string
}

// TableSpec describes one destination table. Column order is significant: it
// is the order of the DDL, of the insert's column list and of every row.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec

	// Conflict is appended verbatim to the insert statement (e.g.
	// "ON CONFLICT(id) DO NOTHING"). Empty means a plain insert.
	Conflict string
}

// ColumnNames returns the column names in spec order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// columnDelimiter separates name, extraction path and type in a column string.
const columnDelimiter = ":"

// ParseColumn parses "name:extraction_path:type".
//
// Errors:
//   - The string must split into exactly three non-empty fields.
//   - name must be a plain identifier, type must pass the type allow-list.
//   - The extraction path must compile.
func ParseColumn(s string) (ColumnSpec, error) {
	parts := strings.Split(s, columnDelimiter)
	if len(parts) != 3 {
		return ColumnSpec{}, fmt.Errorf("column %q: want name%sextraction_path%stype, got %d field(s)", s, columnDelimiter, columnDelimiter, len(parts))
	}

	name := strings.TrimSpace(parts[0])
	expr := strings.TrimSpace(parts[1])
	typ := strings.TrimSpace(parts[2])

	if err := ValidateIdent(name); err != nil {
		return ColumnSpec{}, fmt.Errorf("column %q: name: %w", s, err)
	}
	if err := ValidateType(typ); err != nil {
		return ColumnSpec{}, fmt.Errorf("column %q: type: %w", s, err)
	}
	path, err := extract.Compile(expr)
	if err != nil {
		return ColumnSpec{}, fmt.Errorf("column %q: %w", s, err)
	}

	return ColumnSpec{Name: name, Path: path, Type: typ}, nil
}

// ParseTables converts raw configuration tables into TableSpecs.
//
// Errors are descriptive and point at the offending table/column; nothing is
// truncated or skipped silently.
func ParseTables(raw []RawTable) ([]TableSpec, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("tables: at least one table is required")
	}

	out := make([]TableSpec, 0, len(raw))
	seenTables := make(map[string]bool, len(raw))

	for i, rt := range raw {
		name := strings.TrimSpace(rt.TableName)
		if err := ValidateTableName(name); err != nil {
			return nil, fmt.Errorf("tables[%d]: table_name: %w", i, err)
		}
		key := strings.ToLower(name)
		if seenTables[key] {
			return nil, fmt.Errorf("tables[%d]: duplicate table %q", i, name)
		}
		seenTables[key] = true

		if len(rt.Columns) == 0 {
			return nil, fmt.Errorf("tables[%d] %s: no columns", i, name)
		}

		spec := TableSpec{
			Name:     name,
			Columns:  make([]ColumnSpec, 0, len(rt.Columns)),
			Conflict: strings.TrimSpace(rt.Upsert),
		}
		seenCols := make(map[string]bool, len(rt.Columns))
		for j, raw := range rt.Columns {
			col, err := ParseColumn(raw)
			if err != nil {
				return nil, fmt.Errorf("tables[%d] %s: columns[%d]: %w", i, name, j, err)
			}
			ck := strings.ToLower(col.Name)
			if seenCols[ck] {
				return nil, fmt.Errorf("tables[%d] %s: columns[%d]: duplicate column %q", i, name, j, col.Name)
			}
			seenCols[ck] = true
			spec.Columns = append(spec.Columns, col)
		}

		out = append(out, spec)
	}
	return out, nil
}
