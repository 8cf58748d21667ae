package app_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/api"
	"hotelpipe/internal/app"
	"hotelpipe/internal/config"
	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/service"
	"hotelpipe/internal/telemetry/telemetrytest"
)

const bookingsCSV = `hotel,is_canceled,lead_time,adr
Resort Hotel,0,342,0.5
City Hotel,1,7,75.25
Resort Hotel,0,13,98.5
`

// writeConfig writes a config pointing every component at test doubles.
func writeConfig(t *testing.T, telemetryURL string, withDatabase bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hotelpipe.yaml")
	yaml := `
telemetry:
  url: ` + telemetryURL + `
  device_token: ` + telemetrytest.DeviceToken + `
  device_id: ` + telemetrytest.DeviceID + `
  username: ` + telemetrytest.Username + `
  password: ` + telemetrytest.Password + `
  publish_delay: 1ms
  keys: [hotel, is_canceled, lead_time, adr]
storage:
  backend: memory
staging:
  dir: ` + filepath.Join(dir, "staging") + `
state:
  path: ` + filepath.Join(dir, "state.db") + `
`
	if withDatabase {
		yaml += "database:\n  url: sqlite://" + filepath.Join(dir, "bookings.db") + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := app.NewRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunCommand_EndToEnd(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	cfgPath := writeConfig(t, srv.URL, true)

	csvPath := filepath.Join(t.TempDir(), "bookings.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(bookingsCSV), 0o644))

	out, err := execute(t, "--config", cfgPath, "--log-level", "warn", "run", csvPath)
	require.NoError(t, err)

	var results []etl.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, 3, results[0].RowsWritten)
	assert.Equal(t, 3, results[1].RowsWritten)
	assert.Equal(t, 3, srv.Published())

	out, err = execute(t, "--config", cfgPath, "--log-level", "warn", "summary")
	require.NoError(t, err)
	var summary domain.TableSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.TotalRows)
	assert.Equal(t, map[string]int{"0": 2, "1": 1}, summary.LabelCounts)
	assert.Equal(t, map[string]int{"Resort Hotel": 2, "City Hotel": 1}, summary.PartitionCounts)

	out, err = execute(t, "--config", cfgPath, "--log-level", "warn", "runs", "--stage", "sync")
	require.NoError(t, err)
	var runs []etl.SyncRunLog
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)

	out, err = execute(t, "--config", cfgPath, "--log-level", "warn",
		"preview", "--source", "database", "--set", "table=hotel_bookings", "--rows", "2")
	require.NoError(t, err)
	var preview struct {
		Schema etl.Schema       `json:"schema"`
		Rows   []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Len(t, preview.Rows, 2)
	assert.Len(t, preview.Schema.Fields, 4)
}

func TestStageCommand_MissingSettings(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1", false)

	_, err := execute(t, "--config", cfgPath, "--log-level", "disabled", "features")
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrConfigMissing)
}

func TestStageCommand_FailureExitsWithError(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1", false)

	_, err := execute(t, "--config", cfgPath, "--log-level", "disabled", "fetch")
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrObjectNotFound)
}

func TestSourcesCommand(t *testing.T) {
	t.Setenv(config.ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	out, err := execute(t, "sources")
	require.NoError(t, err)
	var specs []etl.SourceSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	var types []string
	for _, s := range specs {
		types = append(types, s.Type)
	}
	assert.Subset(t, types, []string{"csv_file", "json_file", "telemetry", "database"})
}

func TestUploadFile(t *testing.T) {
	cfg := &config.Config{Staging: config.StagingConfig{Dir: t.TempDir()}}
	svc := service.NewPipelineService(cfg, service.Deps{})
	srv := httptest.NewServer(api.NewHandler(svc, 0).Routes())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "bookings.csv")
	require.NoError(t, os.WriteFile(path, []byte(bookingsCSV), 0o644))

	name, err := app.UploadFile(context.Background(), srv.URL, path, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bookings.csv", name)

	saved, err := os.ReadFile(filepath.Join(svc.UploadDir(), "bookings.csv"))
	require.NoError(t, err)
	assert.Equal(t, bookingsCSV, string(saved))

	_, err = app.UploadFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "missing.csv"), time.Second)
	assert.Error(t, err)
}
