package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
	"hotelpipe/internal/metrics"
	"hotelpipe/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Filename string `json:"filename"`
}

type stageResponse struct {
	Result *etl.SyncResult `json:"result,omitempty"`
	Report any             `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Warn().Err(err).Msg("write response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	logging.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg("request failed")
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, etl.ErrSourceNotFound), errors.Is(err, etl.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, etl.ErrConfigMissing):
		return http.StatusBadRequest
	case errors.Is(err, etl.ErrAuthentication), errors.Is(err, etl.ErrBucketUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ── Upload ─────────────────────────────────────────────────

// UploadCSV saves the multipart field "file" into the upload directory
// under its base name.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		respondError(w, r, http.StatusBadRequest, fmt.Errorf("multipart field \"file\": %w", err))
		return
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + filepath.ToSlash(header.Filename)))
	if name == "" || name == "/" || name == "." || name == ".." {
		respondError(w, r, http.StatusBadRequest, fmt.Errorf("invalid filename %q", header.Filename))
		return
	}

	dir := h.pipeline.UploadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}

	// Written under a temporary name and renamed, so the upload watcher
	// only ever sees complete files.
	tmp, err := os.CreateTemp(dir, ".upload-*.part")
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	n, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		respondError(w, r, http.StatusInternalServerError, fmt.Errorf("save upload: %w", err))
		return
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		respondError(w, r, http.StatusInternalServerError, fmt.Errorf("save upload: %w", err))
		return
	}

	metrics.UploadsReceived.Inc()
	logging.Ctx(r.Context()).Info().Str("filename", name).Int64("bytes", n).Msg("upload saved")
	respondJSON(w, http.StatusOK, uploadResponse{Filename: name})
}

// ── Health ─────────────────────────────────────────────────

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Runs ───────────────────────────────────────────────────

// ListRuns returns run history, optionally filtered by ?stage= and capped
// by ?limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var stage etl.Stage
	if s := r.URL.Query().Get("stage"); s != "" {
		st, err := etl.ParseStage(s)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err)
			return
		}
		stage = st
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err)
		return
	}

	runs, err := h.pipeline.ListRuns(r.Context(), stage, limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []etl.SyncRunLog{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// RunStage triggers one stage synchronously. publish takes ?file=, the name
// of a previously uploaded file; replay takes an optional ?limit=.
func (h *Handler) RunStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		result *etl.SyncResult
		report any
		err    error
	)

	switch etl.Stage(chi.URLParam(r, "stage")) {
	case etl.StagePublish:
		name := r.URL.Query().Get("file")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			respondError(w, r, http.StatusBadRequest, fmt.Errorf("file must name an uploaded file"))
			return
		}
		result, err = h.pipeline.Publish(ctx, filepath.Join(h.pipeline.UploadDir(), name))
	case etl.StageSync:
		result, err = h.pipeline.Sync(ctx)
	case etl.StageLoad:
		result, err = h.pipeline.Load(ctx)
	case etl.StageReplay:
		limit, perr := intParam(r, "limit", 0)
		if perr != nil {
			respondError(w, r, http.StatusBadRequest, perr)
			return
		}
		result, err = h.pipeline.Replay(ctx, limit)
	case etl.StageFeatures:
		var fr *service.FeatureReport
		fr, err = h.pipeline.Features(ctx)
		if fr != nil {
			report = fr
		}
	default:
		respondError(w, r, http.StatusNotFound, fmt.Errorf("stage %q cannot be triggered", chi.URLParam(r, "stage")))
		return
	}

	resp := stageResponse{Result: result, Report: report}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("triggered stage failed")
		resp.Error = err.Error()
		respondJSON(w, statusFor(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Tables ─────────────────────────────────────────────────

// TableSummary returns counts and a sample of a loaded table.
func (h *Handler) TableSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.pipeline.Summary(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
