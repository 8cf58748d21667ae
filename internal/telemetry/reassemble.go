package telemetry

import (
	"fmt"
	"sort"

	"hotelpipe/internal/etl"
)

// Alignment selects how per-key series are joined into rows.
type Alignment string

const (
	// AlignIndex joins the i-th point of every series into row i. Rows are
	// shaped by the first non-empty series in response order; shorter
	// series leave missing cells. A key that skipped a row shifts all of
	// its later values up by one.
	AlignIndex Alignment = "index"

	// AlignTimestamp makes one row per distinct timestamp, ascending.
	AlignTimestamp Alignment = "timestamp"
)

// ParseAlignment validates an alignment name. The empty string means index.
func ParseAlignment(s string) (Alignment, error) {
	switch Alignment(s) {
	case "", AlignIndex:
		return AlignIndex, nil
	case AlignTimestamp:
		return AlignTimestamp, nil
	default:
		return "", fmt.Errorf("unknown alignment %q", s)
	}
}

// Reassemble joins the series for keys into a table with one column per
// requested key, in request order. When keys is empty the response's
// keys are used. A set with no points yields zero rows.
func Reassemble(keys []string, set *SeriesSet, align Alignment) (*etl.Table, error) {
	if set == nil {
		set = &SeriesSet{}
	}
	if len(keys) == 0 {
		keys = set.Keys
	}

	switch align {
	case "", AlignIndex:
		return reassembleByIndex(keys, set)
	case AlignTimestamp:
		return reassembleByTimestamp(keys, set)
	default:
		return nil, fmt.Errorf("unknown alignment %q", align)
	}
}

func reassembleByIndex(keys []string, set *SeriesSet) (*etl.Table, error) {
	ref := ""
	for _, k := range set.Keys {
		if len(set.Series[k]) > 0 {
			ref = k
			break
		}
	}
	if ref == "" {
		return etl.EmptyTable(keys), nil
	}

	n := len(set.Series[ref])
	cols := make([]etl.Column, len(keys))
	for j, k := range keys {
		series := set.Series[k]
		cells := make([]string, n)
		for i := 0; i < n && i < len(series); i++ {
			cells[i] = series[i].Value
		}
		cols[j] = etl.InferColumn(k, cells)
	}
	return etl.NewTable(cols...)
}

func reassembleByTimestamp(keys []string, set *SeriesSet) (*etl.Table, error) {
	byTS := make(map[string]map[int64]string, len(keys))
	seen := map[int64]bool{}
	var stamps []int64
	for _, k := range keys {
		m := make(map[int64]string, len(set.Series[k]))
		for _, p := range set.Series[k] {
			m[p.TS] = p.Value
			if !seen[p.TS] {
				seen[p.TS] = true
				stamps = append(stamps, p.TS)
			}
		}
		byTS[k] = m
	}
	if len(stamps) == 0 {
		return etl.EmptyTable(keys), nil
	}
	sort.Slice(stamps, func(a, b int) bool { return stamps[a] < stamps[b] })

	cols := make([]etl.Column, len(keys))
	for j, k := range keys {
		cells := make([]string, len(stamps))
		for i, ts := range stamps {
			cells[i] = byTS[k][ts]
		}
		cols[j] = etl.InferColumn(k, cells)
	}
	return etl.NewTable(cols...)
}
