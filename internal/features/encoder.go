package features

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"hotelpipe/internal/etl"
)

// Encoder scales numeric columns to [0, 1] and one-hot encodes categorical
// columns. The first category (in sorted order) of each column is dropped;
// categories unseen during Fit encode as all zeros.
type Encoder struct {
	numeric     []numericScale
	categorical []categoryLevels
}

type numericScale struct {
	name     string
	min, max float64
	fill     float64 // training mean, used for missing cells
}

type categoryLevels struct {
	name   string
	levels []string // encoded levels, first level already dropped
}

// Fit learns scaling ranges and category levels from a training set.
func Fit(fs *FeatureSet) (*Encoder, error) {
	e := &Encoder{}
	for _, name := range fs.Numeric {
		col, ok := fs.Predictors.Column(name)
		if !ok {
			return nil, fmt.Errorf("numeric column %q not found", name)
		}
		s := numericScale{name: name, min: math.Inf(1), max: math.Inf(-1)}
		sum, n := 0.0, 0
		for _, v := range col.Values {
			f, ok := number(v)
			if !ok {
				continue
			}
			s.min = math.Min(s.min, f)
			s.max = math.Max(s.max, f)
			sum += f
			n++
		}
		if n == 0 {
			s.min, s.max = 0, 0
		} else {
			s.fill = sum / float64(n)
		}
		e.numeric = append(e.numeric, s)
	}

	for _, name := range fs.Categorical {
		col, ok := fs.Predictors.Column(name)
		if !ok {
			return nil, fmt.Errorf("categorical column %q not found", name)
		}
		present := lo.Filter(col.Values, func(v any, _ int) bool { return !etl.IsMissing(v) })
		levels := lo.Uniq(lo.Map(present, func(v any, _ int) string { return etl.FormatCell(v) }))
		slices.Sort(levels)
		if len(levels) > 0 {
			levels = levels[1:]
		}
		e.categorical = append(e.categorical, categoryLevels{name: name, levels: levels})
	}
	return e, nil
}

// FeatureNames names the output matrix columns.
func (e *Encoder) FeatureNames() []string {
	var names []string
	for _, s := range e.numeric {
		names = append(names, s.name)
	}
	for _, c := range e.categorical {
		for _, l := range c.levels {
			names = append(names, c.name+"_"+l)
		}
	}
	return names
}

// Transform encodes fs into one row per sample.
func (e *Encoder) Transform(fs *FeatureSet) ([][]float64, error) {
	width := len(e.FeatureNames())
	out := make([][]float64, fs.Rows())
	for i := range out {
		out[i] = make([]float64, 0, width)
	}

	for _, s := range e.numeric {
		col, ok := fs.Predictors.Column(s.name)
		if !ok {
			return nil, fmt.Errorf("numeric column %q not found", s.name)
		}
		span := s.max - s.min
		for i, v := range col.Values {
			f, ok := number(v)
			if !ok {
				f = s.fill
			}
			x := 0.0
			if span > 0 {
				x = (f - s.min) / span
			}
			out[i] = append(out[i], x)
		}
	}

	for _, c := range e.categorical {
		col, ok := fs.Predictors.Column(c.name)
		if !ok {
			return nil, fmt.Errorf("categorical column %q not found", c.name)
		}
		for i, v := range col.Values {
			cell := etl.FormatCell(v)
			for _, l := range c.levels {
				if !etl.IsMissing(v) && cell == l {
					out[i] = append(out[i], 1)
				} else {
					out[i] = append(out[i], 0)
				}
			}
		}
	}
	return out, nil
}

// Table renders an encoded matrix with its label column, for export.
func (e *Encoder) Table(matrix [][]float64, labels []int64, labelName string) (*etl.Table, error) {
	names := e.FeatureNames()
	cols := make([]etl.Column, 0, len(names)+1)
	for j, n := range names {
		vals := make([]any, len(matrix))
		for i := range matrix {
			vals[i] = matrix[i][j]
		}
		cols = append(cols, etl.Column{Name: n, Type: etl.TypeFloat, Values: vals})
	}
	ys := make([]any, len(labels))
	for i, y := range labels {
		ys[i] = y
	}
	cols = append(cols, etl.Column{Name: labelName, Type: etl.TypeInteger, Values: ys})
	return etl.NewTable(cols...)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x)
	default:
		return 0, false
	}
}
