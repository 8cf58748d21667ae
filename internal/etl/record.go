package etl

// ── Record ─────────────────────────────────────────────────
// A Record is one row of a Table rendered as a flat key → scalar map.
// It is the unit the telemetry publisher sends and the dead-letter store keeps.

// Field describes a single column in a dataset.
type Field struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema describes the shape of a table.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Record is a single row of data flowing through the pipeline.
type Record struct {
	Data map[string]any `json:"data"`
}
