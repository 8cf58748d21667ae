// Package api serves the upload endpoint and the pipeline's inspection and
// trigger endpoints over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hotelpipe/internal/config"
	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/service"
)

// Pipeline is the part of the pipeline service the API drives.
type Pipeline interface {
	UploadDir() string
	Publish(ctx context.Context, path string) (*etl.SyncResult, error)
	Sync(ctx context.Context) (*etl.SyncResult, error)
	Load(ctx context.Context) (*etl.SyncResult, error)
	Features(ctx context.Context) (*service.FeatureReport, error)
	Replay(ctx context.Context, limit int) (*etl.SyncResult, error)
	ListRuns(ctx context.Context, stage etl.Stage, limit int) ([]etl.SyncRunLog, error)
	Summary(ctx context.Context, name string) (*domain.TableSummary, error)
	Ping(ctx context.Context) error
}

var _ Pipeline = (*service.PipelineService)(nil)

const defaultMaxUploadBytes = 256 << 20

// Handler holds the HTTP handlers.
type Handler struct {
	pipeline       Pipeline
	maxUploadBytes int64
}

// NewHandler creates a Handler. maxUploadBytes <= 0 uses 256 MiB.
func NewHandler(p Pipeline, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{pipeline: p, maxUploadBytes: maxUploadBytes}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/upload-csv/", h.UploadCSV)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/runs", h.ListRuns)
		r.Post("/stages/{stage}", h.RunStage)
		r.Get("/tables/{name}/summary", h.TableSummary)
	})
	return r
}

// NewServer returns an http.Server for the pipeline API.
func NewServer(cfg config.ServerConfig, p Pipeline) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewHandler(p, cfg.MaxUploadBytes).Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
