package etl

import (
	"fmt"
	"math"
)

// ── Table ──────────────────────────────────────────────────
// The common in-memory format every stage reads and produces.
// Cells are int64, float64, string or nil. Float columns use NaN as
// their missing marker; other columns use nil.

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeText    ColumnType = "text"
)

// Numeric reports whether the type is integer or float.
func (t ColumnType) Numeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// Column is a named, typed sequence of cells.
type Column struct {
	Name   string     `json:"name"`
	Type   ColumnType `json:"type"`
	Values []any      `json:"values"`
}

// Len returns the number of cells in the column.
func (c *Column) Len() int { return len(c.Values) }

// Table is an ordered set of equally long columns.
type Table struct {
	Columns []Column `json:"columns"`
}

// NewTable builds a table, rejecting duplicate names and ragged columns.
func NewTable(cols ...Column) (*Table, error) {
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if i > 0 && c.Len() != cols[0].Len() {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), cols[0].Len())
		}
	}
	return &Table{Columns: cols}, nil
}

// EmptyTable returns a zero-row table with text columns named after names.
func EmptyTable(names []string) *Table {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: TypeText, Values: []any{}}
	}
	return &Table{Columns: cols}
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumCols returns the column count.
func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Schema returns the table's fields.
func (t *Table) Schema() *Schema {
	s := &Schema{Fields: make([]Field, len(t.Columns))}
	for i, c := range t.Columns {
		s.Fields[i] = Field{Name: c.Name, Type: c.Type}
	}
	return s
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = c.Values[i]
	}
	return row
}

// Select returns a new table holding only the named columns, in the given order.
// Unknown names are skipped.
func (t *Table) Select(names ...string) *Table {
	out := &Table{}
	for _, n := range names {
		if c, ok := t.Column(n); ok {
			out.Columns = append(out.Columns, c.clone())
		}
	}
	return out
}

// Drop returns a new table without the named columns.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := &Table{}
	for _, c := range t.Columns {
		if !skip[c.Name] {
			out.Columns = append(out.Columns, c.clone())
		}
	}
	return out
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var idx []int
	for i := 0; i < t.NumRows(); i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Take returns a new table made of the given rows, in the given order.
func (t *Table) Take(rows []int) *Table {
	out := &Table{Columns: make([]Column, len(t.Columns))}
	for j, c := range t.Columns {
		vals := make([]any, len(rows))
		for k, i := range rows {
			vals[k] = c.Values[i]
		}
		out.Columns[j] = Column{Name: c.Name, Type: c.Type, Values: vals}
	}
	return out
}

// WithColumn returns a new table where the column named c.Name is replaced,
// or appended when absent.
func (t *Table) WithColumn(c Column) *Table {
	out := &Table{Columns: make([]Column, 0, len(t.Columns)+1)}
	replaced := false
	for _, existing := range t.Columns {
		if existing.Name == c.Name {
			out.Columns = append(out.Columns, c)
			replaced = true
			continue
		}
		out.Columns = append(out.Columns, existing.clone())
	}
	if !replaced {
		out.Columns = append(out.Columns, c)
	}
	return out
}

// Equal compares names, types and cells. NaN equals NaN.
func (t *Table) Equal(o *Table) bool {
	if t.NumCols() != o.NumCols() || t.NumRows() != o.NumRows() {
		return false
	}
	for j := range t.Columns {
		a, b := t.Columns[j], o.Columns[j]
		if a.Name != b.Name || a.Type != b.Type {
			return false
		}
		for i := range a.Values {
			if !cellEqual(a.Values[i], b.Values[i]) {
				return false
			}
		}
	}
	return true
}

func (c Column) clone() Column {
	vals := make([]any, len(c.Values))
	copy(vals, c.Values)
	return Column{Name: c.Name, Type: c.Type, Values: vals}
}

// IsMissing reports whether a cell holds no value.
func IsMissing(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(n)
	}
	return false
}

func cellEqual(a, b any) bool {
	if IsMissing(a) || IsMissing(b) {
		return IsMissing(a) && IsMissing(b)
	}
	return a == b
}
