package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"hotelpipe/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads an array of flat objects from a local JSON file.
// Columns are sorted by name; scalar values go through the same
// type inference as CSV cells.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Path to the JSON file"},
			{Key: "dataPath", Label: "Data Path", Required: false, Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	t, err := s.Read(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return t.Schema(), nil
}

func (s *jsonFileSource) Read(_ context.Context, cfg etl.SourceConfig) (*etl.Table, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, etl.KindError(etl.ErrSourceNotFound, fmt.Errorf("read file: %w", err))
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, etl.KindError(etl.ErrSourceParse, fmt.Errorf("parse json: %w", err))
	}

	// Navigate to dataPath if specified.
	if dataPath := cfg.String("dataPath"); dataPath != "" {
		current := raw
		for _, part := range strings.Split(dataPath, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, etl.KindError(etl.ErrSourceParse, fmt.Errorf("invalid data path: %q not found", part))
			}
			current = m[part]
		}
		raw = current
	}

	return objectsToTable(raw)
}

// objectsToTable turns an array of flat objects into a table.
func objectsToTable(raw any) (*etl.Table, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, etl.KindError(etl.ErrSourceParse, fmt.Errorf("expected a JSON array, got %T", raw))
	}

	seen := map[string]bool{}
	var names []string
	rows := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, etl.KindError(etl.ErrSourceParse, fmt.Errorf("item %d is not an object", i))
		}
		rows[i] = obj
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	cols := make([]etl.Column, len(names))
	cells := make([]string, len(rows))
	for j, name := range names {
		for i, obj := range rows {
			s, err := scalarString(obj[name])
			if err != nil {
				return nil, etl.KindError(etl.ErrSourceParse, fmt.Errorf("item %d field %q: %w", i, name, err))
			}
			cells[i] = s
		}
		cols[j] = etl.InferColumn(name, cells)
	}
	return etl.NewTable(cols...)
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("nested value of type %T", v)
	}
}
