// Package app assembles the pipeline from configuration and exposes it as
// the hotelpipe command line.
package app

import (
	"context"
	"fmt"
	"os"

	"hotelpipe/internal/config"
	"hotelpipe/internal/dbclient"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
	"hotelpipe/internal/objectstore"
	"hotelpipe/internal/service"
	"hotelpipe/internal/storage"
	"hotelpipe/internal/telemetry"
)

// need names the components a command uses. Only those are opened, so
// each command asks only for the settings it depends on.
type need uint8

const (
	needPublish need = 1 << iota
	needReassemble
	needStorage
	needDatabase

	needAll = needPublish | needReassemble | needStorage | needDatabase
)

// App owns the opened components and the service running stages on them.
type App struct {
	cfg *config.Config

	db          *storage.DB
	deadLetters *storage.DeadLetterStore
	publisher   *telemetry.Publisher
	reader      *telemetry.Reader
	objects     *objectstore.Bridge
	sink        dbclient.Sink

	svc *service.PipelineService
}

// Startup opens the state database and every component in needs.
func Startup(ctx context.Context, cfg *config.Config, needs need) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.open(ctx, needs); err != nil {
		a.Shutdown()
		return nil, err
	}

	engine := &etl.Engine{
		Transforms: etl.BuildTransformers(cfg.Database.Transforms),
	}
	if a.publisher != nil {
		engine.Publisher = a.publisher
	}
	if a.reader != nil {
		engine.Telemetry = a.reader
	}
	if a.objects != nil {
		engine.Objects = a.objects
	}
	if a.sink != nil {
		engine.Dest = a.sink
	}
	setupETLAdapters(a)

	deps := service.Deps{
		Engine:  engine,
		Runs:    storage.NewRunStore(a.db),
		Emitter: service.LogEmitter{},
	}
	if a.sink != nil {
		deps.Sink = a.sink
	}
	if a.publisher != nil {
		deps.Replayer = a.publisher
	}
	a.svc = service.NewPipelineService(cfg, deps)
	return a, nil
}

func (a *App) open(ctx context.Context, needs need) error {
	cfg := a.cfg
	if err := os.MkdirAll(cfg.Staging.Dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	db, err := storage.New(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	a.db = db
	a.deadLetters = storage.NewDeadLetterStore(db)

	if needs&needPublish != 0 {
		if err := cfg.RequirePublish(); err != nil {
			return err
		}
		t := cfg.Telemetry
		a.publisher = telemetry.NewPublisher(telemetry.PublisherConfig{
			BaseURL:      t.URL,
			DeviceToken:  t.DeviceToken,
			Delay:        t.PublishDelay,
			MaxRows:      t.MaxRows,
			RetryMax:     t.RetryMax,
			RetryWaitMin: t.RetryWaitMin,
			RetryWaitMax: t.RetryWaitMax,
			Timeout:      t.Timeout,
		}, a.deadLetters)
	}

	if needs&needReassemble != 0 {
		if err := cfg.RequireReassemble(); err != nil {
			return err
		}
		t := cfg.Telemetry
		alignment, err := telemetry.ParseAlignment(t.Alignment)
		if err != nil {
			return err
		}
		api := telemetry.NewBreakerClient(telemetry.NewClient(t.URL, t.Timeout), telemetry.BreakerConfig{
			Name:             "telemetry",
			MaxRequests:      t.Breaker.MaxRequests,
			Interval:         t.Breaker.Interval,
			Timeout:          t.Breaker.Timeout,
			FailureThreshold: t.Breaker.FailureThreshold,
		})
		a.reader = telemetry.NewReader(api, telemetry.ReaderConfig{
			DeviceID:  t.DeviceID,
			Username:  t.Username,
			Password:  t.Password,
			Alignment: alignment,
			Limit:     t.QueryLimit,
		})
	}

	if needs&needStorage != 0 {
		if err := cfg.RequireStorage(); err != nil {
			return err
		}
		s := cfg.Storage
		bridge, err := objectstore.Open(objectstore.Config{
			Backend: s.Backend,
			S3: objectstore.S3Config{
				Endpoint:  s.Endpoint,
				AccessKey: s.AccessKey,
				SecretKey: s.SecretKey,
				Region:    s.Region,
				UseSSL:    s.UseSSL,
			},
			Directory:  s.Directory,
			StagingDir: cfg.Staging.Dir,
		})
		if err != nil {
			return fmt.Errorf("open object store: %w", err)
		}
		a.objects = bridge
	}

	if needs&needDatabase != 0 {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		mode, err := etl.ParseWriteMode(cfg.Database.Mode)
		if err != nil {
			return err
		}
		sink, err := dbclient.Open(ctx, cfg.Database.URL, dbclient.Options{
			Mode:      mode,
			BatchSize: cfg.Database.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.sink = sink
	}
	return nil
}

// Service returns the pipeline service.
func (a *App) Service() *service.PipelineService { return a.svc }

// Shutdown stops background work and closes everything Startup opened.
func (a *App) Shutdown() {
	if a.svc != nil {
		a.svc.Stop()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			logging.Warn().Err(err).Msg("close database")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Warn().Err(err).Msg("close state database")
		}
	}
}
