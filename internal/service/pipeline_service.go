package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"hotelpipe/internal/config"
	"hotelpipe/internal/dbclient"
	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/etl/sources"
	"hotelpipe/internal/features"
	"hotelpipe/internal/logging"
	"hotelpipe/internal/metrics"
)

// ─────────────────────────────────────────────────────────────
// Pipeline Service: runs stages, records history, schedules syncs
// ─────────────────────────────────────────────────────────────

// ErrAlreadyRunning is returned when a stage is started while a previous
// run of the same stage has not finished.
var ErrAlreadyRunning = errors.New("stage is already running")

// RunRecorder persists stage run history.
type RunRecorder interface {
	CreateRunLog(ctx context.Context, log *etl.SyncRunLog) error
	ListRunLogs(ctx context.Context, stage etl.Stage, limit int) ([]etl.SyncRunLog, error)
}

// Replayer re-sends dead-lettered publishes.
type Replayer interface {
	Replay(ctx context.Context, limit int) (*etl.PublishResult, error)
}

// Deps are the collaborators a PipelineService drives. Sink, Replayer and
// Runs may be nil; the operations needing them then fail.
type Deps struct {
	Engine   *etl.Engine
	Sink     dbclient.Sink
	Replayer Replayer
	Runs     RunRecorder
	Emitter  EventEmitter
}

// PipelineService runs pipeline stages one at a time per stage, records
// each run and owns the background triggers of serve mode.
type PipelineService struct {
	cfg      *config.Config
	engine   *etl.Engine
	sink     dbclient.Sink
	replayer Replayer
	runs     RunRecorder
	emitter  EventEmitter

	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewPipelineService creates a PipelineService ready for use.
func NewPipelineService(cfg *config.Config, deps Deps) *PipelineService {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = LogEmitter{}
	}
	engine := deps.Engine
	if engine == nil {
		engine = &etl.Engine{}
	}
	return &PipelineService{
		cfg:      cfg,
		engine:   engine,
		sink:     deps.Sink,
		replayer: deps.Replayer,
		runs:     deps.Runs,
		emitter:  emitter,
	}
}

// UploadDir is where uploaded CSV files land and where the watcher looks.
func (s *PipelineService) UploadDir() string {
	return filepath.Join(s.cfg.Staging.Dir, "uploads")
}

// OutputDir holds files the stages write for inspection.
func (s *PipelineService) OutputDir() string {
	return filepath.Join(s.cfg.Staging.Dir, "out")
}

// Query is the telemetry window the reassemble and sync stages read,
// ending now.
func (s *PipelineService) Query(now time.Time) etl.TelemetryQuery {
	window := s.cfg.Telemetry.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return etl.TelemetryQuery{
		Keys:  s.cfg.Telemetry.Keys,
		Start: now.Add(-window),
		End:   now,
	}
}

// ── Stages ─────────────────────────────────────────────────

// Publish sends every row of the CSV file at path to the telemetry service.
func (s *PipelineService) Publish(ctx context.Context, path string) (*etl.SyncResult, error) {
	return s.track(ctx, etl.StagePublish, func(ctx context.Context) (*etl.SyncResult, error) {
		logging.Ctx(ctx).Info().Str("file", path).Msg("publishing file")
		return s.engine.PublishSource(ctx, "csv_file", etl.SourceConfig{"filePath": path})
	})
}

// Reassemble pulls the telemetry window back into a table and writes it
// as CSV to out. An empty out writes under OutputDir.
func (s *PipelineService) Reassemble(ctx context.Context, out string) (*etl.SyncResult, error) {
	if out == "" {
		out = filepath.Join(s.OutputDir(), "reassembled.csv")
	}
	return s.track(ctx, etl.StageReassemble, func(ctx context.Context) (*etl.SyncResult, error) {
		start := time.Now()
		result := &etl.SyncResult{Stage: etl.StageReassemble}
		t, err := s.engine.Reassemble(ctx, s.Query(start))
		if err != nil {
			return result, err
		}
		result.RowsRead = t.NumRows()
		if err := writeCSVFile(out, t); err != nil {
			return result, err
		}
		result.RowsWritten = t.NumRows()
		return result, nil
	})
}

// Store uploads the CSV file at path to the configured object.
func (s *PipelineService) Store(ctx context.Context, path string) (*etl.SyncResult, error) {
	return s.track(ctx, etl.StageStore, func(ctx context.Context) (*etl.SyncResult, error) {
		result := &etl.SyncResult{Stage: etl.StageStore}
		t, err := sources.ReadCSVFile(path, ',')
		if err != nil {
			return result, err
		}
		result.RowsRead = t.NumRows()
		if err := s.engine.Store(ctx, s.cfg.Dataset(), t); err != nil {
			return result, err
		}
		result.RowsWritten = t.NumRows()
		return result, nil
	})
}

// Fetch downloads the configured object and writes it as CSV to out. An
// empty out writes under OutputDir.
func (s *PipelineService) Fetch(ctx context.Context, out string) (*etl.SyncResult, error) {
	ds := s.cfg.Dataset()
	if out == "" {
		out = filepath.Join(s.OutputDir(), filepath.Base(ds.Object))
	}
	return s.track(ctx, etl.StageFetch, func(ctx context.Context) (*etl.SyncResult, error) {
		result := &etl.SyncResult{Stage: etl.StageFetch}
		t, err := s.engine.Fetch(ctx, ds)
		if err != nil {
			return result, err
		}
		result.RowsRead = t.NumRows()
		if err := writeCSVFile(out, t); err != nil {
			return result, err
		}
		result.RowsWritten = t.NumRows()
		return result, nil
	})
}

// Load fetches the configured object and replaces the relational table
// with it, after the configured transforms.
func (s *PipelineService) Load(ctx context.Context) (*etl.SyncResult, error) {
	return s.track(ctx, etl.StageLoad, func(ctx context.Context) (*etl.SyncResult, error) {
		ds := s.cfg.Dataset()
		result := &etl.SyncResult{Stage: etl.StageLoad}
		t, err := s.engine.Fetch(ctx, ds)
		if err != nil {
			return result, err
		}
		result.RowsRead = t.NumRows()
		t, err = etl.ApplyTransformers(t, s.engine.Transforms)
		if err != nil {
			return result, fmt.Errorf("transform: %w", err)
		}
		n, err := s.engine.Load(ctx, ds, t)
		result.RowsWritten = n
		return result, err
	})
}

// Sync chains reassemble, store, fetch and load.
func (s *PipelineService) Sync(ctx context.Context) (*etl.SyncResult, error) {
	return s.track(ctx, etl.StageSync, func(ctx context.Context) (*etl.SyncResult, error) {
		return s.engine.RunSync(ctx, s.Query(time.Now()), s.cfg.Dataset())
	})
}

// Run publishes the file at path and then syncs it through to the database.
func (s *PipelineService) Run(ctx context.Context, path string) ([]*etl.SyncResult, error) {
	var results []*etl.SyncResult
	pub, err := s.Publish(ctx, path)
	if pub != nil {
		results = append(results, pub)
	}
	if err != nil {
		return results, err
	}
	synced, err := s.Sync(ctx)
	if synced != nil {
		results = append(results, synced)
	}
	return results, err
}

// Replay re-sends up to limit dead-lettered publishes.
func (s *PipelineService) Replay(ctx context.Context, limit int) (*etl.SyncResult, error) {
	return s.track(ctx, etl.StageReplay, func(ctx context.Context) (*etl.SyncResult, error) {
		result := &etl.SyncResult{Stage: etl.StageReplay}
		if s.replayer == nil {
			return result, fmt.Errorf("no replayer configured")
		}
		pr, err := s.replayer.Replay(ctx, limit)
		if pr != nil {
			result.RowsRead = pr.Attempted
			result.RowsWritten = pr.Sent
			result.RowsFailed = pr.Failed
		}
		return result, err
	})
}

// ── Features ───────────────────────────────────────────────

// PartitionReport describes the feature files built for one partition.
type PartitionReport struct {
	Partition string            `json:"partition"`
	TrainRows int               `json:"trainRows"`
	TestRows  int               `json:"testRows"`
	Features  []string          `json:"features"`
	Converted []string          `json:"converted,omitempty"`
	Dropped   []string          `json:"dropped,omitempty"`
	TrainPath string            `json:"trainPath"`
	TestPath  string            `json:"testPath"`
	Baseline  *features.Metrics `json:"baseline,omitempty"`
}

// FeatureReport is the outcome of the features stage.
type FeatureReport struct {
	Table      string            `json:"table"`
	Rows       int               `json:"rows"`
	Partitions []PartitionReport `json:"partitions"`
}

// Features loads the relational table and, per configured partition,
// builds encoded train and test files plus a majority-class baseline.
func (s *PipelineService) Features(ctx context.Context) (*FeatureReport, error) {
	report := &FeatureReport{Table: s.cfg.Database.Table}
	_, err := s.track(ctx, etl.StageFeatures, func(ctx context.Context) (*etl.SyncResult, error) {
		result := &etl.SyncResult{Stage: etl.StageFeatures}
		if s.sink == nil {
			return result, fmt.Errorf("no database configured")
		}
		t, err := s.sink.Load(ctx, report.Table)
		if err != nil {
			return result, err
		}
		report.Rows = t.NumRows()
		result.RowsRead = t.NumRows()

		fc := s.cfg.Features
		dir := filepath.Join(s.cfg.Staging.Dir, "features")
		for _, partition := range fc.Partitions {
			pr, err := s.buildPartition(ctx, t, partition, dir)
			if err != nil {
				return result, fmt.Errorf("partition %q: %w", partition, err)
			}
			report.Partitions = append(report.Partitions, *pr)
			result.RowsWritten += pr.TrainRows + pr.TestRows
		}
		return result, nil
	})
	return report, err
}

func (s *PipelineService) buildPartition(ctx context.Context, t *etl.Table, partition, dir string) (*PartitionReport, error) {
	fc := s.cfg.Features
	opts := features.Options{
		PartitionKey:      fc.PartitionKey,
		PartitionValue:    partition,
		Label:             fc.Label,
		Drop:              fc.Drop,
		DistinctThreshold: fc.DistinctThreshold,
	}
	fs, err := features.Build(ctx, t, opts)
	if err != nil {
		return nil, err
	}
	train, test, err := features.Split(fs, fc.TestFraction, fc.Seed)
	if err != nil {
		return nil, err
	}
	enc, err := features.Fit(train)
	if err != nil {
		return nil, err
	}

	pr := &PartitionReport{
		Partition: partition,
		TrainRows: train.Rows(),
		TestRows:  test.Rows(),
		Features:  enc.FeatureNames(),
		Converted: fs.Converted,
		Dropped:   fs.Dropped,
		TrainPath: filepath.Join(dir, slug(partition)+"_train.csv"),
		TestPath:  filepath.Join(dir, slug(partition)+"_test.csv"),
	}
	for _, part := range []struct {
		set  *features.FeatureSet
		path string
	}{{train, pr.TrainPath}, {test, pr.TestPath}} {
		m, err := enc.Transform(part.set)
		if err != nil {
			return nil, err
		}
		out, err := enc.Table(m, part.set.Label, fc.Label)
		if err != nil {
			return nil, err
		}
		if err := writeCSVFile(part.path, out); err != nil {
			return nil, err
		}
	}

	log := logging.Ctx(ctx)
	if test.Rows() == 0 {
		log.Warn().
			Str("partition", partition).
			Int("rows", fs.Rows()).
			Msg("partition too small for a test set; baseline skipped")
	} else {
		m, err := features.Evaluate(test.Label, features.MajorityBaseline(train.Label, test.Rows()))
		if err != nil {
			return nil, err
		}
		pr.Baseline = &m
	}
	ev := log.Info().
		Str("partition", partition).
		Int("train", pr.TrainRows).
		Int("test", pr.TestRows).
		Int("features", len(pr.Features))
	if pr.Baseline != nil {
		ev = ev.Float64("baseline_oa", pr.Baseline.OA)
	}
	ev.Msg("feature files written")
	return pr, nil
}

func slug(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "_"))
}

// ── Inspection ─────────────────────────────────────────────

// ListRuns returns recent run history, newest first. An empty stage lists
// every stage.
func (s *PipelineService) ListRuns(ctx context.Context, stage etl.Stage, limit int) ([]etl.SyncRunLog, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("no run history configured")
	}
	return s.runs.ListRunLogs(ctx, stage, limit)
}

// Summary returns counts and a sample of a loaded table.
func (s *PipelineService) Summary(ctx context.Context, name string) (*domain.TableSummary, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("no database configured")
	}
	if name == "" {
		name = s.cfg.Database.Table
	}
	return s.sink.Summarize(ctx, name, dbclient.SummaryOptions{
		Label:     s.cfg.Features.Label,
		Partition: s.cfg.Features.PartitionKey,
	})
}

// Ping checks the database connection, when one is configured.
func (s *PipelineService) Ping(ctx context.Context) error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Ping(ctx)
}

// ── Run bookkeeping ────────────────────────────────────────

// track runs fn as one run of stage: at most one at a time, with a run ID
// on the context, a history entry, metrics and a finished event.
func (s *PipelineService) track(ctx context.Context, stage etl.Stage, fn func(context.Context) (*etl.SyncResult, error)) (*etl.SyncResult, error) {
	if !s.runningJobs.TryLock(string(stage)) {
		return nil, fmt.Errorf("%s: %w", stage, ErrAlreadyRunning)
	}
	defer s.runningJobs.Unlock(string(stage))

	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.Ctx(ctx)
	log.Info().Str("stage", string(stage)).Msg("stage started")

	start := time.Now()
	result, runErr := fn(ctx)
	if result == nil {
		result = &etl.SyncResult{}
	}
	result.Stage = stage
	result.Duration = time.Since(start)
	if runErr != nil {
		result.Status = "error"
		result.Error = runErr.Error()
	} else {
		result.Status = "success"
		result.Error = ""
	}

	metrics.RecordStage(string(stage), result.Status, result.Duration, result.RowsRead, result.RowsWritten, result.RowsFailed)

	if s.runs != nil {
		runLog := &etl.SyncRunLog{
			ID:          runID,
			Stage:       stage,
			StartedAt:   start,
			FinishedAt:  start.Add(result.Duration),
			Status:      result.Status,
			RowsRead:    result.RowsRead,
			RowsWritten: result.RowsWritten,
			RowsFailed:  result.RowsFailed,
			Error:       result.Error,
		}
		// The caller's context may already be cancelled; history is still written.
		if err := s.runs.CreateRunLog(context.WithoutCancel(ctx), runLog); err != nil {
			log.Warn().Err(err).Msg("record run log")
		}
	}

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Str("stage", string(stage)).
		Str("status", result.Status).
		Int("rows_read", result.RowsRead).
		Int("rows_written", result.RowsWritten).
		Int("rows_failed", result.RowsFailed).
		Dur("duration", result.Duration).
		Msg("stage finished")

	s.emitter.Emit(ctx, "stage:finished", result)
	return result, runErr
}

func writeCSVFile(path string, t *etl.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := etl.WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ── Watchers (cron + upload watch) ────────────────────────

// StartSchedulers starts the sync schedule and the upload watcher, as
// configured. Running schedulers are replaced.
func (s *PipelineService) StartSchedulers(ctx context.Context) error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()

	sched := s.cfg.Schedule
	if sched.SyncCron != "" {
		c := cron.New()
		_, err := c.AddFunc(sched.SyncCron, func() {
			logging.Info().Msg("scheduled sync starting")
			if _, err := s.Sync(ctx); err != nil {
				logging.Error().Err(err).Msg("scheduled sync failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", sched.SyncCron, err)
		}
		c.Start()
		s.cronSched = c
		logging.Info().Str("schedule", sched.SyncCron).Msg("sync scheduled")
	}

	if !sched.WatchUploads {
		return nil
	}

	dir := s.UploadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.stopLocked()
		return fmt.Errorf("create upload dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.stopLocked()
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		s.stopLocked()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	go s.watchUploads(watchCtx, watcher)

	logging.Info().Str("dir", dir).Msg("watching uploads")
	return nil
}

// watchUploads publishes each CSV file that appears in the upload dir once
// writes to it have been quiet for a moment.
func (s *PipelineService) watchUploads(ctx context.Context, watcher *fsnotify.Watcher) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}
			path := event.Name
			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(500*time.Millisecond, func() {
				logging.Info().Str("file", path).Msg("upload detected")
				if _, err := s.Publish(ctx, path); err != nil {
					logging.Error().Err(err).Str("file", path).Msg("publish of upload failed")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("upload watcher error")
		}
	}
}

// WaitRunning blocks until all running stages finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *PipelineService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *PipelineService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *PipelineService) stopLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
