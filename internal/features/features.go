// Package features turns a loaded booking table into model-ready feature
// sets: one partition, label separated, leakage columns removed and
// high-cardinality date text turned into day-of-year numbers.
package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
)

// Options configures Build.
type Options struct {
	PartitionKey   string
	PartitionValue string
	Label          string
	Drop           []string
	// Text columns with more distinct values than this are either
	// converted to day-of-year or dropped.
	DistinctThreshold int
}

// DefaultOptions matches the booking dataset.
func DefaultOptions(partition string) Options {
	return Options{
		PartitionKey:      "hotel",
		PartitionValue:    partition,
		Label:             "is_canceled",
		Drop:              []string{"reservation_status", "reservation_status_date"},
		DistinctThreshold: 20,
	}
}

// FeatureSet is a partition's predictors and labels.
type FeatureSet struct {
	Predictors  *etl.Table
	Label       []int64
	Numeric     []string
	Categorical []string
	Converted   []string // text columns replaced by day-of-year
	Dropped     []string // high-cardinality text columns that were not dates
}

// Rows returns the number of samples.
func (fs *FeatureSet) Rows() int { return len(fs.Label) }

// Take returns the samples at the given row indices.
func (fs *FeatureSet) Take(rows []int) *FeatureSet {
	out := *fs
	out.Predictors = fs.Predictors.Take(rows)
	out.Label = make([]int64, len(rows))
	for i, r := range rows {
		out.Label[i] = fs.Label[r]
	}
	return &out
}

var ErrNoRows = errors.New("partition has no rows")

// Build filters t to one partition and prepares its predictors.
func Build(ctx context.Context, t *etl.Table, opts Options) (*FeatureSet, error) {
	if opts.DistinctThreshold <= 0 {
		opts.DistinctThreshold = 20
	}
	log := logging.Ctx(ctx)

	if opts.PartitionKey != "" {
		key, ok := t.Column(opts.PartitionKey)
		if !ok {
			return nil, fmt.Errorf("partition column %q not found", opts.PartitionKey)
		}
		t = t.Filter(func(i int) bool { return etl.FormatCell(key.Values[i]) == opts.PartitionValue })
		if t.NumRows() == 0 {
			return nil, fmt.Errorf("%s=%q: %w", opts.PartitionKey, opts.PartitionValue, ErrNoRows)
		}
	}

	labelCol, ok := t.Column(opts.Label)
	if !ok {
		return nil, fmt.Errorf("label column %q not found", opts.Label)
	}
	labels, err := labelValues(labelCol)
	if err != nil {
		return nil, err
	}

	predictors := t.Drop(append([]string{opts.Label}, opts.Drop...)...)

	fs := &FeatureSet{Label: labels}
	for _, c := range predictors.Columns {
		if c.Type != etl.TypeText || distinct(c.Values) <= opts.DistinctThreshold {
			continue
		}
		if conv, ok := dayOfYear(c); ok {
			predictors = predictors.WithColumn(conv)
			fs.Converted = append(fs.Converted, c.Name)
			log.Info().Str("column", c.Name).Msg("converted date column to day of year")
			continue
		}
		predictors = predictors.Drop(c.Name)
		fs.Dropped = append(fs.Dropped, c.Name)
		log.Info().Str("column", c.Name).Int("distinct", distinct(c.Values)).Msg("dropped high-cardinality text column")
	}

	for _, c := range predictors.Columns {
		if c.Type.Numeric() {
			fs.Numeric = append(fs.Numeric, c.Name)
		} else {
			fs.Categorical = append(fs.Categorical, c.Name)
		}
	}
	fs.Predictors = predictors

	log.Debug().
		Str("partition", opts.PartitionValue).
		Int("rows", fs.Rows()).
		Int("numeric", len(fs.Numeric)).
		Int("categorical", len(fs.Categorical)).
		Msg("feature set built")
	return fs, nil
}

func labelValues(c *etl.Column) ([]int64, error) {
	out := make([]int64, c.Len())
	for i, v := range c.Values {
		switch x := v.(type) {
		case int64:
			out[i] = x
		case float64:
			if math.IsNaN(x) || x != math.Trunc(x) {
				return nil, fmt.Errorf("label %q row %d: %v is not a class", c.Name, i, x)
			}
			out[i] = int64(x)
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("label %q row %d: %q is not a class", c.Name, i, x)
			}
			out[i] = n
		default:
			return nil, fmt.Errorf("label %q row %d is missing", c.Name, i)
		}
	}
	return out, nil
}

func distinct(vals []any) int {
	present := lo.Filter(vals, func(v any, _ int) bool { return !etl.IsMissing(v) })
	return len(lo.Uniq(lo.Map(present, func(v any, _ int) string { return etl.FormatCell(v) })))
}

var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dayOfYear converts a text column when every present value is a date.
func dayOfYear(c etl.Column) (etl.Column, bool) {
	days := make([]any, c.Len())
	missing := false
	for i, v := range c.Values {
		if etl.IsMissing(v) {
			missing = true
			continue
		}
		t, ok := parseDate(v.(string))
		if !ok {
			return etl.Column{}, false
		}
		days[i] = int64(t.YearDay())
	}

	if !missing {
		return etl.Column{Name: c.Name, Type: etl.TypeInteger, Values: days}, true
	}
	for i, v := range days {
		if v == nil {
			days[i] = math.NaN()
		} else {
			days[i] = float64(v.(int64))
		}
	}
	return etl.Column{Name: c.Name, Type: etl.TypeFloat, Values: days}, true
}

// Classes returns the distinct labels in ascending order.
func (fs *FeatureSet) Classes() []int64 {
	classes := lo.Uniq(fs.Label)
	slices.Sort(classes)
	return classes
}
