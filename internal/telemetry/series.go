package telemetry

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Point is one stored telemetry value.
type Point struct {
	TS    int64  `json:"ts"`
	Value string `json:"value"`
}

// SeriesSet maps each key to its ordered points. Keys keeps the order
// in which the service listed them.
type SeriesSet struct {
	Keys   []string
	Series map[string][]Point
}

// UnmarshalJSON decodes {"key": [{"ts": 1, "value": "x"}, ...], ...}
// keeping key order. Scalar values of any JSON type are kept as text.
func (s *SeriesSet) UnmarshalJSON(data []byte) error {
	dec := stdjson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(stdjson.Delim); !ok || d != '{' {
		return fmt.Errorf("timeseries: expected object, got %v", tok)
	}

	s.Keys = nil
	s.Series = map[string][]Point{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw []struct {
			TS    int64 `json:"ts"`
			Value any   `json:"value"`
		}
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("timeseries %q: %w", key, err)
		}
		points := make([]Point, len(raw))
		for i, r := range raw {
			points[i] = Point{TS: r.TS, Value: scalarText(r.Value)}
		}
		if _, seen := s.Series[key]; !seen {
			s.Keys = append(s.Keys, key)
		}
		s.Series[key] = points
	}

	_, err = dec.Token()
	return err
}

func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case stdjson.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
