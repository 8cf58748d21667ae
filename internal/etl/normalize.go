package etl

import "math"

// ── Payload Normalizer ─────────────────────────────────────
// Converts table rows into JSON-safe records. Rules apply in order:
// missing → nil, integer column → int64, float column → float64,
// anything else → string. The text "nan" is never produced.

// NormalizeRow builds the record for row i of t.
func NormalizeRow(t *Table, i int) Record {
	data := make(map[string]any, len(t.Columns))
	for _, c := range t.Columns {
		data[c.Name] = normalizeCell(c.Type, c.Values[i])
	}
	return Record{Data: data}
}

// Payloads normalizes every row of t, in order.
func Payloads(t *Table) []Record {
	out := make([]Record, t.NumRows())
	for i := range out {
		out[i] = NormalizeRow(t, i)
	}
	return out
}

func normalizeCell(typ ColumnType, v any) any {
	if IsMissing(v) {
		return nil
	}
	switch typ {
	case TypeInteger:
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(math.Trunc(n))
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	return FormatCell(v)
}
