package etl_test

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/etl"
)

// ── Table ──────────────────────────────────────────────────

func TestNewTable_RejectsRaggedAndDuplicateColumns(t *testing.T) {
	_, err := etl.NewTable(
		etl.Column{Name: "a", Type: etl.TypeInteger, Values: []any{int64(1), int64(2)}},
		etl.Column{Name: "b", Type: etl.TypeInteger, Values: []any{int64(1)}},
	)
	require.Error(t, err)

	_, err = etl.NewTable(
		etl.Column{Name: "a", Type: etl.TypeInteger, Values: []any{int64(1)}},
		etl.Column{Name: "a", Type: etl.TypeInteger, Values: []any{int64(1)}},
	)
	require.Error(t, err)
}

func TestTable_SelectDropFilterDoNotMutate(t *testing.T) {
	tbl, err := etl.NewTable(
		etl.Column{Name: "hotel", Type: etl.TypeText, Values: []any{"City Hotel", "Resort Hotel", "City Hotel"}},
		etl.Column{Name: "adr", Type: etl.TypeFloat, Values: []any{10.5, 20.0, math.NaN()}},
	)
	require.NoError(t, err)

	city := tbl.Filter(func(i int) bool { return tbl.Columns[0].Values[i] == "City Hotel" })
	assert.Equal(t, 2, city.NumRows())
	assert.Equal(t, 3, tbl.NumRows())

	dropped := tbl.Drop("hotel")
	assert.Equal(t, []string{"adr"}, dropped.ColumnNames())
	assert.Equal(t, []string{"hotel", "adr"}, tbl.ColumnNames())

	sel := tbl.Select("adr", "missing", "hotel")
	assert.Equal(t, []string{"adr", "hotel"}, sel.ColumnNames())
	assert.True(t, tbl.Equal(tbl.Select("hotel", "adr")))
}

func TestTable_EqualTreatsNaNAsEqual(t *testing.T) {
	a := &etl.Table{Columns: []etl.Column{{Name: "x", Type: etl.TypeFloat, Values: []any{math.NaN(), 1.5}}}}
	b := &etl.Table{Columns: []etl.Column{{Name: "x", Type: etl.TypeFloat, Values: []any{math.NaN(), 1.5}}}}
	assert.True(t, a.Equal(b))

	b.Columns[0].Values[1] = 2.5
	assert.False(t, a.Equal(b))
}

// ── CSV codec ──────────────────────────────────────────────

func TestReadCSV_InfersColumnTypes(t *testing.T) {
	in := "hotel,is_canceled,adr,agent,country\n" +
		"Resort Hotel,0,75.5,9,PRT\n" +
		"City Hotel,1,100,,\n"

	tbl, err := etl.ReadCSV(strings.NewReader(in), 0)
	require.NoError(t, err)

	want := &etl.Table{Columns: []etl.Column{
		{Name: "hotel", Type: etl.TypeText, Values: []any{"Resort Hotel", "City Hotel"}},
		{Name: "is_canceled", Type: etl.TypeInteger, Values: []any{int64(0), int64(1)}},
		{Name: "adr", Type: etl.TypeFloat, Values: []any{75.5, 100.0}},
		{Name: "agent", Type: etl.TypeFloat, Values: []any{9.0, math.NaN()}},
		{Name: "country", Type: etl.TypeText, Values: []any{"PRT", nil}},
	}}
	if diff := cmp.Diff(want, tbl, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSV_InconsistentColumnCount(t *testing.T) {
	_, err := etl.ReadCSV(strings.NewReader("a,b\n1,2\n3\n"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, etl.ErrSourceParse))
}

func TestReadCSV_EmptyInput(t *testing.T) {
	_, err := etl.ReadCSV(strings.NewReader(""), 0)
	assert.ErrorIs(t, err, etl.ErrSourceParse)
}

func TestReadCSV_InvalidUTF8(t *testing.T) {
	_, err := etl.ReadCSV(bytes.NewReader([]byte("a\n\xff\xfe\n")), 0)
	assert.ErrorIs(t, err, etl.ErrSourceParse)
}

func TestWriteCSV_RoundTripKeepsTypes(t *testing.T) {
	tbl, err := etl.NewTable(
		etl.Column{Name: "n", Type: etl.TypeInteger, Values: []any{int64(3), int64(-1)}},
		etl.Column{Name: "f", Type: etl.TypeFloat, Values: []any{2.0, math.NaN()}},
		etl.Column{Name: "s", Type: etl.TypeText, Values: []any{"a, quoted \"b\"", nil}},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, etl.WriteCSV(&buf, tbl))

	got, err := etl.ReadCSV(&buf, 0)
	require.NoError(t, err)
	assert.True(t, tbl.Equal(got), "round trip changed the table: %+v", got)
}

func TestReadCSV_CustomDelimiter(t *testing.T) {
	tbl, err := etl.ReadCSV(strings.NewReader("a;b\n1;x\n"), ';')
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.ColumnNames())
	assert.Equal(t, etl.TypeInteger, tbl.Columns[0].Type)
}
