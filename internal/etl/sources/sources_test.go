package sources_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/etl/sources"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// ── CSV ────────────────────────────────────────────────────

func TestReadCSVFile(t *testing.T) {
	p := writeFile(t, "hotel_bookings.csv", "hotel,is_canceled,lead_time\nResort Hotel,0,342\nCity Hotel,1,7\n")

	tbl, err := sources.ReadCSVFile(p, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, []string{"hotel", "is_canceled", "lead_time"}, tbl.ColumnNames())
	assert.Equal(t, []any{int64(0), int64(1)}, tbl.Columns[1].Values)
}

func TestReadCSVFile_NotFound(t *testing.T) {
	_, err := sources.ReadCSVFile(filepath.Join(t.TempDir(), "absent.csv"), 0)
	assert.ErrorIs(t, err, etl.ErrSourceNotFound)
}

func TestReadCSVFile_ParseError(t *testing.T) {
	p := writeFile(t, "bad.csv", "a,b\n1,2,3\n")
	_, err := sources.ReadCSVFile(p, 0)
	assert.ErrorIs(t, err, etl.ErrSourceParse)
}

func TestRegistry_CSVSource(t *testing.T) {
	p := writeFile(t, "semi.csv", "a;b\n1;2\n")

	src, err := etl.GetSource("csv_file")
	require.NoError(t, err)

	schema, err := src.Discover(context.Background(), etl.SourceConfig{"filePath": p, "delimiter": ";"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, schema.FieldNames())

	types := map[string]bool{}
	for _, s := range etl.ListSources() {
		types[s.Type] = true
	}
	for _, want := range []string{"csv_file", "json_file", "telemetry", "database"} {
		assert.True(t, types[want], "source %s not registered", want)
	}
}

// ── JSON ───────────────────────────────────────────────────

func TestJSONFileSource(t *testing.T) {
	p := writeFile(t, "rows.json", `{"data":{"items":[{"b":"x","a":1},{"a":2.5,"b":null}]}}`)

	src, err := etl.GetSource("json_file")
	require.NoError(t, err)

	tbl, err := src.Read(context.Background(), etl.SourceConfig{"filePath": p, "dataPath": "data.items"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.ColumnNames())
	assert.Equal(t, etl.TypeFloat, tbl.Columns[0].Type)
	assert.Equal(t, []any{"x", nil}, tbl.Columns[1].Values)
}

func TestJSONFileSource_Errors(t *testing.T) {
	src, err := etl.GetSource("json_file")
	require.NoError(t, err)

	_, err = src.Read(context.Background(), etl.SourceConfig{"filePath": writeFile(t, "obj.json", `{"a":1}`)})
	assert.ErrorIs(t, err, etl.ErrSourceParse)

	_, err = src.Read(context.Background(), etl.SourceConfig{"filePath": filepath.Join(t.TempDir(), "nope.json")})
	assert.ErrorIs(t, err, etl.ErrSourceNotFound)
}

// ── Telemetry / Database ───────────────────────────────────

type stubProvider struct {
	q etl.TelemetryQuery
}

func (s *stubProvider) Keys(context.Context) ([]string, error) { return []string{"hotel", "adr"}, nil }

func (s *stubProvider) Reassemble(_ context.Context, q etl.TelemetryQuery) (*etl.Table, error) {
	s.q = q
	return etl.EmptyTable(q.Keys), nil
}

func (s *stubProvider) Load(_ context.Context, name string) (*etl.Table, error) {
	return etl.EmptyTable([]string{name}), nil
}

func TestTelemetrySource(t *testing.T) {
	p := &stubProvider{}
	sources.SetTelemetryProvider(p)
	defer sources.SetTelemetryProvider(nil)

	src, err := etl.GetSource("telemetry")
	require.NoError(t, err)

	schema, err := src.Discover(context.Background(), etl.SourceConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hotel", "adr"}, schema.FieldNames())

	_, err = src.Read(context.Background(), etl.SourceConfig{"keys": "hotel, adr", "window": "1h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hotel", "adr"}, p.q.Keys)
	assert.Equal(t, time.Hour, p.q.End.Sub(p.q.Start))
}

func TestQueryFromConfig(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	q, err := sources.QueryFromConfig(etl.SourceConfig{}, now)
	require.NoError(t, err)
	assert.Equal(t, now, q.End)
	assert.Equal(t, now.Add(-24*time.Hour), q.Start)

	q, err = sources.QueryFromConfig(etl.SourceConfig{"start": "2024-02-01T00:00:00Z", "end": "2024-02-02T00:00:00Z"}, now)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, q.End.Sub(q.Start))

	_, err = sources.QueryFromConfig(etl.SourceConfig{"start": "2024-03-02T00:00:00Z"}, now)
	assert.Error(t, err)
}

func TestDatabaseSource(t *testing.T) {
	sources.SetTableLoader(&stubProvider{})
	defer sources.SetTableLoader(nil)

	src, err := etl.GetSource("database")
	require.NoError(t, err)
	tbl, err := src.Read(context.Background(), etl.SourceConfig{"table": "hotel_bookings"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hotel_bookings"}, tbl.ColumnNames())

	_, err = src.Read(context.Background(), etl.SourceConfig{})
	assert.Error(t, err)
}
