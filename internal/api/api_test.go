package api_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/api"
	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/service"
)

// fakePipeline records calls and returns canned results.
type fakePipeline struct {
	mu        sync.Mutex
	dir       string
	published []string
	stage     etl.Stage
	runErr    error
	pingErr   error
}

func (f *fakePipeline) set(runErr, pingErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr, f.pingErr = runErr, pingErr
}

func (f *fakePipeline) errs() (runErr, pingErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runErr, f.pingErr
}

func (f *fakePipeline) calls() ([]string, etl.Stage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...), f.stage
}

func (f *fakePipeline) UploadDir() string { return f.dir }

func (f *fakePipeline) Publish(_ context.Context, path string) (*etl.SyncResult, error) {
	runErr, _ := f.errs()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, path)
	return &etl.SyncResult{Stage: etl.StagePublish, Status: "success", RowsWritten: 3}, runErr
}

func (f *fakePipeline) Sync(context.Context) (*etl.SyncResult, error) {
	if runErr, _ := f.errs(); runErr != nil {
		return &etl.SyncResult{Stage: etl.StageSync, Status: "error", Error: runErr.Error()}, runErr
	}
	return &etl.SyncResult{Stage: etl.StageSync, Status: "success", RowsWritten: 3}, nil
}

func (f *fakePipeline) Load(context.Context) (*etl.SyncResult, error) {
	runErr, _ := f.errs()
	return &etl.SyncResult{Stage: etl.StageLoad, Status: "success"}, runErr
}

func (f *fakePipeline) Features(context.Context) (*service.FeatureReport, error) {
	runErr, _ := f.errs()
	return &service.FeatureReport{Table: "hotel_bookings", Rows: 80}, runErr
}

func (f *fakePipeline) Replay(_ context.Context, limit int) (*etl.SyncResult, error) {
	runErr, _ := f.errs()
	return &etl.SyncResult{Stage: etl.StageReplay, Status: "success", RowsRead: limit}, runErr
}

func (f *fakePipeline) ListRuns(_ context.Context, stage etl.Stage, _ int) ([]etl.SyncRunLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stage = stage
	return []etl.SyncRunLog{{ID: "r1", Stage: etl.StageSync, Status: "success"}}, nil
}

func (f *fakePipeline) Summary(_ context.Context, name string) (*domain.TableSummary, error) {
	if name != "hotel_bookings" {
		return nil, etl.KindError(etl.ErrSourceNotFound, fmt.Errorf("table %s", name))
	}
	return &domain.TableSummary{Table: name, TotalRows: 3, LabelCounts: map[string]int{"0": 2, "1": 1}}, nil
}

func (f *fakePipeline) Ping(context.Context) error {
	_, pingErr := f.errs()
	return pingErr
}

func newServer(t *testing.T, f *fakePipeline, maxUpload int64) *httptest.Server {
	t.Helper()
	if f.dir == "" {
		f.dir = t.TempDir()
	}
	srv := httptest.NewServer(api.NewHandler(f, maxUpload).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func upload(t *testing.T, url, filename string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/upload-csv/", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUploadCSV_SavesUnderBaseName(t *testing.T) {
	f := &fakePipeline{}
	srv := newServer(t, f, 0)

	content := []byte("hotel,is_canceled\nResort Hotel,0\n")
	resp := upload(t, srv.URL, "../../etc/bookings.csv", content)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var out struct {
		Filename string `json:"filename"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "bookings.csv", out.Filename)

	saved, err := os.ReadFile(filepath.Join(f.dir, "bookings.csv"))
	require.NoError(t, err)
	assert.Equal(t, content, saved)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUploadCSV_Errors(t *testing.T) {
	srv := newServer(t, &fakePipeline{}, 16)

	resp, err := http.Post(srv.URL+"/upload-csv/", "text/plain", bytes.NewBufferString("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := upload(t, srv.URL, "big.csv", bytes.Repeat([]byte("a"), 1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, big.StatusCode)
}

func TestHealth(t *testing.T) {
	f := &fakePipeline{}
	srv := newServer(t, f, 0)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.set(nil, errors.New("connection refused"))
	resp2, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestListRuns(t *testing.T) {
	f := &fakePipeline{}
	srv := newServer(t, f, 0)

	resp, err := http.Get(srv.URL + "/api/v1/runs?stage=sync&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []etl.SyncRunLog
	decode(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)
	_, stage := f.calls()
	assert.Equal(t, etl.StageSync, stage)

	bad, err := http.Get(srv.URL + "/api/v1/runs?stage=bogus")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRunStage(t *testing.T) {
	f := &fakePipeline{}
	srv := newServer(t, f, 0)

	post := func(path string) *http.Response {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("/api/v1/stages/sync")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Result etl.SyncResult `json:"result"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 3, out.Result.RowsWritten)

	resp = post("/api/v1/stages/publish?file=bookings.csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	published, _ := f.calls()
	assert.Equal(t, []string{filepath.Join(f.dir, "bookings.csv")}, published)

	assert.Equal(t, http.StatusBadRequest, post("/api/v1/stages/publish?file=../secret.csv").StatusCode)
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/stages/replay?limit=-1").StatusCode)
	assert.Equal(t, http.StatusOK, post("/api/v1/stages/features").StatusCode)
	assert.Equal(t, http.StatusNotFound, post("/api/v1/stages/reassemble").StatusCode)

	f.set(fmt.Errorf("sync: %w", service.ErrAlreadyRunning), nil)
	resp = post("/api/v1/stages/sync")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var failed struct {
		Result etl.SyncResult `json:"result"`
		Error  string         `json:"error"`
	}
	decode(t, resp, &failed)
	assert.Equal(t, "error", failed.Result.Status)
	assert.Contains(t, failed.Error, "already running")
}

func TestTableSummary(t *testing.T) {
	srv := newServer(t, &fakePipeline{}, 0)

	resp, err := http.Get(srv.URL + "/api/v1/tables/hotel_bookings/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s domain.TableSummary
	decode(t, resp, &s)
	assert.Equal(t, 3, s.TotalRows)
	assert.Equal(t, map[string]int{"0": 2, "1": 1}, s.LabelCounts)

	missing, err := http.Get(srv.URL + "/api/v1/tables/nope/summary")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, &fakePipeline{}, 0)
	upload(t, srv.URL, "a.csv", []byte("x\n1\n"))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "hotelpipe_uploads_total")
}
