package etl

import (
	"math"
	"strconv"
	"strings"
)

// ── Type inference ─────────────────────────────────────────
// Raw string cells (CSV fields, telemetry values) become typed columns.
// An empty cell or a missing marker (NaN, NULL, NA, None...) is missing.
// A column is integer when every cell parses as an integer and none is
// missing; float when every present cell parses as a number; text
// otherwise. An all-missing column is float.

// missingMarkers are the cell texts read as missing, the same set pandas
// treats as NA by default. Matching is case-sensitive.
var missingMarkers = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {},
	"n/a": {}, "nan": {}, "null": {},
}

// IsMissingCell reports whether a raw cell stands for a missing value.
func IsMissingCell(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" {
		return true
	}
	_, ok := missingMarkers[s]
	return ok
}

// InferColumn builds a typed column from raw string cells.
func InferColumn(name string, cells []string) Column {
	allInt, allNum, anyMissing := true, true, false
	for _, raw := range cells {
		if IsMissingCell(raw) {
			anyMissing = true
			continue
		}
		s := strings.TrimSpace(raw)
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			allInt = false
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				allNum = false
				break
			}
		}
	}

	vals := make([]any, len(cells))
	switch {
	case allInt && allNum && !anyMissing && len(cells) > 0:
		for i, raw := range cells {
			n, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			vals[i] = n
		}
		return Column{Name: name, Type: TypeInteger, Values: vals}
	case allNum:
		for i, raw := range cells {
			if IsMissingCell(raw) {
				vals[i] = math.NaN()
				continue
			}
			f, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			vals[i] = f
		}
		return Column{Name: name, Type: TypeFloat, Values: vals}
	default:
		for i, raw := range cells {
			if IsMissingCell(raw) {
				vals[i] = nil
				continue
			}
			vals[i] = raw
		}
		return Column{Name: name, Type: TypeText, Values: vals}
	}
}

// FormatCell renders a cell for a flat file. Missing cells render empty;
// floats always carry a decimal point so they re-infer as float.
func FormatCell(v any) string {
	if IsMissing(v) {
		return ""
	}
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case float32:
		return FormatCell(float64(n))
	case float64:
		s := strconv.FormatFloat(n, 'f', -1, 64)
		if math.IsInf(n, 0) || strings.ContainsAny(s, ".eE") {
			return s
		}
		return s + ".0"
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	default:
		return ""
	}
}
