package etl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers reshape a table between stages. Each returns a new
// table; the input is never modified. They compose in order.

// Transformer processes a whole table.
type Transformer interface {
	Apply(*Table) (*Table, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(*Table) (*Table, error)

func (f TransformerFunc) Apply(t *Table) (*Table, error) { return f(t) }

// TransformConfig is a declarative transform definition.
type TransformConfig struct {
	Type   string         `json:"type" koanf:"type"` // "filter" | "rename" | "select" | "drop" | "sort" | "limit"
	Config map[string]any `json:"config" koanf:"config"`
}

// ── Built-in Transforms ────────────────────────────────────

// FilterTransform keeps rows where the given field matches the value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains"
	Value any
}

func (f *FilterTransform) Apply(t *Table) (*Table, error) {
	col, ok := t.Column(f.Field)
	if !ok {
		return nil, fmt.Errorf("filter: unknown column %q", f.Field)
	}
	want := fmt.Sprint(f.Value)
	return t.Filter(func(i int) bool {
		v := col.Values[i]
		if IsMissing(v) {
			return f.Op == "neq"
		}
		got := FormatCell(v)
		switch f.Op {
		case "eq", "":
			return matches(v, got, f.Value, want)
		case "neq":
			return !matches(v, got, f.Value, want)
		case "contains":
			return strings.Contains(got, want)
		case "gt":
			return toFloat(v) > toFloat(f.Value)
		case "lt":
			return toFloat(v) < toFloat(f.Value)
		default:
			return true
		}
	}), nil
}

// matches compares numerically when both sides are numbers, textually otherwise.
func matches(v any, got string, value any, want string) bool {
	a, aOk := toFloatSafe(v)
	b, bOk := toFloatSafe(value)
	if aOk && bOk {
		return a == b
	}
	return got == want
}

// RenameTransform renames columns.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (r *RenameTransform) Apply(t *Table) (*Table, error) {
	out := t.Select(t.ColumnNames()...)
	for i := range out.Columns {
		if n, ok := r.Mapping[out.Columns[i].Name]; ok {
			out.Columns[i].Name = n
		}
	}
	return NewTable(out.Columns...)
}

// SelectTransform keeps only the specified columns.
type SelectTransform struct {
	Fields []string
}

func (s *SelectTransform) Apply(t *Table) (*Table, error) { return t.Select(s.Fields...), nil }

// DropTransform removes the specified columns.
type DropTransform struct {
	Fields []string
}

func (d *DropTransform) Apply(t *Table) (*Table, error) { return t.Drop(d.Fields...), nil }

// SortTransform orders rows by a column. Missing cells sort last.
type SortTransform struct {
	Field     string
	Direction string // "asc" | "desc"
}

func (s *SortTransform) Apply(t *Table) (*Table, error) {
	col, ok := t.Column(s.Field)
	if !ok {
		return nil, fmt.Errorf("sort: unknown column %q", s.Field)
	}
	idx := make([]int, t.NumRows())
	for i := range idx {
		idx[i] = i
	}
	dir := 1
	if s.Direction == "desc" {
		dir = -1
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := col.Values[idx[a]], col.Values[idx[b]]
		if IsMissing(va) || IsMissing(vb) {
			return !IsMissing(va) && IsMissing(vb)
		}
		return compareValues(va, vb)*dir < 0
	})
	return t.Take(idx), nil
}

// LimitTransform caps the number of rows.
type LimitTransform struct {
	Count int
}

func (l *LimitTransform) Apply(t *Table) (*Table, error) { return Head(t, l.Count), nil }

// Head returns the first n rows of t. A non-positive n returns all rows.
func Head(t *Table, n int) *Table {
	if n <= 0 || n >= t.NumRows() {
		return t.Select(t.ColumnNames()...)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return t.Take(idx)
}

// ── Helpers ────────────────────────────────────────────────

// ApplyTransformers runs a chain of transformers on a table.
func ApplyTransformers(t *Table, ts []Transformer) (*Table, error) {
	var err error
	for _, tr := range ts {
		t, err = tr.Apply(t)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// BuildTransformers converts declarative configs into Transformer instances.
// Incomplete configs are skipped.
func BuildTransformers(configs []TransformConfig) []Transformer {
	var ts []Transformer

	for _, tc := range configs {
		switch tc.Type {
		case "filter":
			field, _ := tc.Config["field"].(string)
			op, _ := tc.Config["op"].(string)
			if field != "" {
				ts = append(ts, &FilterTransform{Field: field, Op: op, Value: tc.Config["value"]})
			}

		case "rename":
			if mapping, ok := tc.Config["mapping"].(map[string]any); ok {
				m := make(map[string]string, len(mapping))
				for k, v := range mapping {
					m[k] = fmt.Sprint(v)
				}
				ts = append(ts, &RenameTransform{Mapping: m})
			}

		case "select", "drop":
			fields := stringList(tc.Config["fields"])
			if len(fields) == 0 {
				continue
			}
			if tc.Type == "select" {
				ts = append(ts, &SelectTransform{Fields: fields})
			} else {
				ts = append(ts, &DropTransform{Fields: fields})
			}

		case "sort":
			field, _ := tc.Config["field"].(string)
			direction, _ := tc.Config["direction"].(string)
			if direction == "" {
				direction = "asc"
			}
			if field != "" {
				ts = append(ts, &SortTransform{Field: field, Direction: direction})
			}

		case "limit":
			if count := int(toFloat(tc.Config["count"])); count > 0 {
				ts = append(ts, &LimitTransform{Count: count})
			}
		}
	}

	return ts
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, f := range l {
			out = append(out, fmt.Sprint(f))
		}
		return out
	default:
		return nil
	}
}

func compareValues(a, b any) int {
	fa, aOk := toFloatSafe(a)
	fb, bOk := toFloatSafe(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(FormatCell(a), FormatCell(b))
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatSafe(v)
	return f
}
