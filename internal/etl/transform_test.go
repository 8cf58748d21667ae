package etl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/etl"
)

func bookings(t *testing.T) *etl.Table {
	t.Helper()
	tbl, err := etl.NewTable(
		etl.Column{Name: "hotel", Type: etl.TypeText, Values: []any{"City Hotel", "Resort Hotel", "City Hotel", nil}},
		etl.Column{Name: "lead_time", Type: etl.TypeInteger, Values: []any{int64(30), int64(5), int64(120), int64(1)}},
	)
	require.NoError(t, err)
	return tbl
}

func TestFilterTransform(t *testing.T) {
	tbl := bookings(t)

	out, err := (&etl.FilterTransform{Field: "hotel", Op: "eq", Value: "City Hotel"}).Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())

	out, err = (&etl.FilterTransform{Field: "lead_time", Op: "gt", Value: 10}).Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(30), int64(120)}, out.Columns[1].Values)

	out, err = (&etl.FilterTransform{Field: "lead_time", Op: "eq", Value: 5}).Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	_, err = (&etl.FilterTransform{Field: "nope", Op: "eq", Value: 1}).Apply(tbl)
	assert.Error(t, err)
}

func TestSortTransform_MissingLast(t *testing.T) {
	out, err := (&etl.SortTransform{Field: "hotel", Direction: "asc"}).Apply(bookings(t))
	require.NoError(t, err)
	assert.Equal(t, []any{"City Hotel", "City Hotel", "Resort Hotel", nil}, out.Columns[0].Values)

	out, err = (&etl.SortTransform{Field: "lead_time", Direction: "desc"}).Apply(bookings(t))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(120), int64(30), int64(5), int64(1)}, out.Columns[1].Values)
}

func TestBuildTransformers_Chain(t *testing.T) {
	ts := etl.BuildTransformers([]etl.TransformConfig{
		{Type: "filter", Config: map[string]any{"field": "hotel", "op": "eq", "value": "City Hotel"}},
		{Type: "rename", Config: map[string]any{"mapping": map[string]any{"lead_time": "lead"}}},
		{Type: "select", Config: map[string]any{"fields": []any{"lead"}}},
		{Type: "limit", Config: map[string]any{"count": 1.0}},
		{Type: "select", Config: map[string]any{}},
	})
	require.Len(t, ts, 4)

	out, err := etl.ApplyTransformers(bookings(t), ts)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead"}, out.ColumnNames())
	assert.Equal(t, []any{int64(30)}, out.Columns[0].Values)
}

func TestParseWriteMode(t *testing.T) {
	m, err := etl.ParseWriteMode("")
	require.NoError(t, err)
	assert.Equal(t, etl.ModeReplace, m)

	m, err = etl.ParseWriteMode("swap")
	require.NoError(t, err)
	assert.Equal(t, etl.ModeSwap, m)

	_, err = etl.ParseWriteMode("append")
	assert.Error(t, err)
}
