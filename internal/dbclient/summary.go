package dbclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
)

// Arrival date columns of the booking dataset.
const (
	arrivalYear  = "arrival_date_year"
	arrivalMonth = "arrival_date_month"
	arrivalDay   = "arrival_date_day_of_month"
)

const defaultSampleSize = 100

func (s *sqlSink) Summarize(ctx context.Context, name string, opts SummaryOptions) (*domain.TableSummary, error) {
	total, err := s.Count(ctx, name)
	if err != nil {
		return nil, err
	}
	sum := &domain.TableSummary{Table: name, TotalRows: total, Label: opts.Label, Partition: opts.Partition}

	if opts.Label != "" {
		if sum.LabelCounts, err = s.groupCount(ctx, name, opts.Label); err != nil {
			return nil, err
		}
	}
	if opts.Partition != "" {
		if sum.PartitionCounts, err = s.groupCount(ctx, name, opts.Partition); err != nil {
			return nil, err
		}
	}

	if opts.Label != "" {
		cols := []string{arrivalYear, arrivalMonth, arrivalDay, opts.Label}
		quoted := lo.Map(cols, func(c string, _ int) string { return s.d.quote(c) })
		// Datasets without arrival columns simply have no daily series.
		if t, err := s.query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), s.d.quote(name))); err == nil {
			sum.DailyPositives = dailyPositives(t, opts.Label)
		}
	}

	size := opts.SampleSize
	if size <= 0 {
		size = defaultSampleSize
	}
	sample, err := s.query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", s.d.quote(name), size))
	if err != nil {
		return nil, err
	}
	sum.Sample = rowMaps(sample)
	return sum, nil
}

func (s *sqlSink) groupCount(ctx context.Context, name, col string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s",
		s.d.quote(col), s.d.quote(name), s.d.quote(col)))
	if err != nil {
		return nil, fmt.Errorf("group by %s: %w", col, err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key any
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[cellText(key)] += n
	}
	return out, rows.Err()
}

// SummarizeTable computes the same summary over an in-memory table.
func SummarizeTable(name string, t *etl.Table, opts SummaryOptions) *domain.TableSummary {
	sum := &domain.TableSummary{Table: name, TotalRows: t.NumRows(), Label: opts.Label, Partition: opts.Partition}
	if opts.Label != "" {
		sum.LabelCounts = valueCounts(t, opts.Label)
		sum.DailyPositives = dailyPositives(t, opts.Label)
	}
	if opts.Partition != "" {
		sum.PartitionCounts = valueCounts(t, opts.Partition)
	}
	size := opts.SampleSize
	if size <= 0 {
		size = defaultSampleSize
	}
	sum.Sample = rowMaps(etl.Head(t, size))
	return sum
}

func valueCounts(t *etl.Table, name string) map[string]int {
	col, ok := t.Column(name)
	if !ok {
		return nil
	}
	return lo.CountValuesBy(col.Values, etl.FormatCell)
}

// dailyPositives counts rows with label 1 per arrival date. Month may be
// a name ("July") or a number.
func dailyPositives(t *etl.Table, label string) map[string]int {
	year, ok1 := t.Column(arrivalYear)
	month, ok2 := t.Column(arrivalMonth)
	day, ok3 := t.Column(arrivalDay)
	lbl, ok4 := t.Column(label)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	out := map[string]int{}
	for i := 0; i < t.NumRows(); i++ {
		if etl.FormatCell(lbl.Values[i]) != "1" && etl.FormatCell(lbl.Values[i]) != "1.0" {
			continue
		}
		y, err1 := strconv.Atoi(strings.TrimSuffix(etl.FormatCell(year.Values[i]), ".0"))
		d, err2 := strconv.Atoi(strings.TrimSuffix(etl.FormatCell(day.Values[i]), ".0"))
		m, ok := monthNumber(etl.FormatCell(month.Values[i]))
		if err1 != nil || err2 != nil || !ok {
			continue
		}
		date := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		out[date.Format(time.DateOnly)]++
	}
	return out
}

func monthNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(strings.TrimSuffix(s, ".0")); err == nil {
		return n, n >= 1 && n <= 12
	}
	if m, err := time.Parse("January", s); err == nil {
		return int(m.Month()), true
	}
	return 0, false
}

func rowMaps(t *etl.Table) []map[string]any {
	out := make([]map[string]any, t.NumRows())
	for i := range out {
		row := make(map[string]any, t.NumCols())
		for _, c := range t.Columns {
			if etl.IsMissing(c.Values[i]) {
				row[c.Name] = nil
			} else {
				row[c.Name] = c.Values[i]
			}
		}
		out[i] = row
	}
	return out
}
