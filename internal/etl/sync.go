package etl

import (
	"context"
	"fmt"
	"time"
)

// ── Sync results ───────────────────────────────────────────

// Dataset names where a table lives in each store.
type Dataset struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
	Table  string `json:"table"`
}

// SyncResult is the outcome of running one stage or a chain of stages.
type SyncResult struct {
	Stage       Stage         `json:"stage"`
	Status      string        `json:"status"` // "success" | "error"
	RowsRead    int           `json:"rowsRead"`
	RowsWritten int           `json:"rowsWritten"`
	RowsFailed  int           `json:"rowsFailed"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// SyncRunLog is a historical record of a stage run.
type SyncRunLog struct {
	ID          string    `json:"id"`
	Stage       Stage     `json:"stage"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      string    `json:"status"`
	RowsRead    int       `json:"rowsRead"`
	RowsWritten int       `json:"rowsWritten"`
	RowsFailed  int       `json:"rowsFailed"`
	Error       string    `json:"error,omitempty"`
}

// ── Engine ─────────────────────────────────────────────────
// The Engine runs the pipeline stages against its collaborators.
// Each stage fully materializes its output before the next starts.
// Every entry point reports failures as a single *StageError.

// Engine wires the stage collaborators together. Unused ones may be nil.
type Engine struct {
	Publisher Publisher
	Telemetry Reassembler
	Objects   ObjectStore
	Dest      Destination

	// Transforms reshape the fetched table before it is loaded.
	Transforms []Transformer
}

// Extract reads a whole table from a registered source.
func (e *Engine) Extract(ctx context.Context, sourceType string, cfg SourceConfig) (*Table, error) {
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, err
	}
	return source.Read(ctx, cfg)
}

// Publish normalizes every row of t and hands the payloads to the publisher.
// Per-row failures are counted, not returned.
func (e *Engine) Publish(ctx context.Context, t *Table) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{Stage: StagePublish, RowsRead: t.NumRows()}
	if e.Publisher == nil {
		return e.fail(result, start, StagePublish, fmt.Errorf("no publisher configured"))
	}

	pr, err := e.Publisher.Publish(ctx, Payloads(t))
	if pr != nil {
		result.RowsWritten = pr.Sent
		result.RowsFailed = pr.Failed
	}
	if err != nil {
		return e.fail(result, start, StagePublish, err)
	}
	return e.ok(result, start), nil
}

// PublishSource extracts a table from a registered source and publishes it.
func (e *Engine) PublishSource(ctx context.Context, sourceType string, cfg SourceConfig) (*SyncResult, error) {
	t, err := e.Extract(ctx, sourceType, cfg)
	if err != nil {
		return e.fail(&SyncResult{Stage: StagePublish}, time.Now(), StagePublish, fmt.Errorf("read: %w", err))
	}
	return e.Publish(ctx, t)
}

// Reassemble pulls the queried telemetry back into a table.
func (e *Engine) Reassemble(ctx context.Context, q TelemetryQuery) (*Table, error) {
	if e.Telemetry == nil {
		return nil, stageErr(StageReassemble, fmt.Errorf("no telemetry reader configured"))
	}
	t, err := e.Telemetry.Reassemble(ctx, q)
	if err != nil {
		return nil, stageErr(StageReassemble, err)
	}
	return t, nil
}

// Store writes t to the dataset's object.
func (e *Engine) Store(ctx context.Context, ds Dataset, t *Table) error {
	if e.Objects == nil {
		return stageErr(StageStore, fmt.Errorf("no object store configured"))
	}
	return stageErr(StageStore, e.Objects.Put(ctx, ds.Bucket, ds.Object, t))
}

// Fetch reads the dataset's object back as a table.
func (e *Engine) Fetch(ctx context.Context, ds Dataset) (*Table, error) {
	if e.Objects == nil {
		return nil, stageErr(StageFetch, fmt.Errorf("no object store configured"))
	}
	t, err := e.Objects.Get(ctx, ds.Bucket, ds.Object)
	if err != nil {
		return nil, stageErr(StageFetch, err)
	}
	return t, nil
}

// Load replaces the dataset's relational table with t.
func (e *Engine) Load(ctx context.Context, ds Dataset, t *Table) (int, error) {
	if e.Dest == nil {
		return 0, stageErr(StageLoad, fmt.Errorf("no destination configured"))
	}
	n, err := e.Dest.Replace(ctx, ds.Table, t)
	if err != nil {
		return n, stageErr(StageLoad, err)
	}
	return n, nil
}

// RunSync chains reassemble → store → fetch → load.
func (e *Engine) RunSync(ctx context.Context, q TelemetryQuery, ds Dataset) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{Stage: StageLoad}

	t, err := e.Reassemble(ctx, q)
	if err != nil {
		return e.fail(result, start, StageReassemble, err)
	}
	result.RowsRead = t.NumRows()

	if err := e.Store(ctx, ds, t); err != nil {
		return e.fail(result, start, StageStore, err)
	}

	fetched, err := e.Fetch(ctx, ds)
	if err != nil {
		return e.fail(result, start, StageFetch, err)
	}

	fetched, err = ApplyTransformers(fetched, e.Transforms)
	if err != nil {
		return e.fail(result, start, StageLoad, fmt.Errorf("transform: %w", err))
	}

	written, err := e.Load(ctx, ds, fetched)
	result.RowsWritten = written
	if err != nil {
		return e.fail(result, start, StageLoad, err)
	}
	return e.ok(result, start), nil
}

// Preview reads a registered source and returns at most maxRows rows.
func (e *Engine) Preview(ctx context.Context, sourceType string, cfg SourceConfig, maxRows int) (*Table, *Schema, error) {
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, nil, err
	}

	schema, err := source.Discover(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("discover: %w", err)
	}

	t, err := source.Read(ctx, cfg)
	if err != nil {
		return nil, schema, fmt.Errorf("read: %w", err)
	}
	return Head(t, maxRows), schema, nil
}

func (e *Engine) ok(result *SyncResult, start time.Time) *SyncResult {
	result.Status = "success"
	result.Duration = time.Since(start)
	return result
}

func (e *Engine) fail(result *SyncResult, start time.Time, stage Stage, err error) (*SyncResult, error) {
	err = stageErr(stage, err)
	result.Status = "error"
	result.Error = err.Error()
	result.Duration = time.Since(start)
	return result, err
}
