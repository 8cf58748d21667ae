package etl

import (
	"errors"
	"fmt"
)

// ── Error kinds ────────────────────────────────────────────
// Components tag failures with one of these kinds; callers match them
// with errors.Is through any amount of wrapping.

var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrSourceParse       = errors.New("source parse error")
	ErrAuthentication    = errors.New("authentication failure")
	ErrObjectNotFound    = errors.New("object not found")
	ErrBucketUnavailable = errors.New("bucket unavailable")
	ErrSinkWrite         = errors.New("sink write failure")
	ErrConfigMissing     = errors.New("config missing")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// KindError tags err with kind. A nil err yields nil.
func KindError(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &kindError{kind: kind, err: err}
}

// ── Stage errors ───────────────────────────────────────────

// Stage names one step of the pipeline.
type Stage string

const (
	StagePublish    Stage = "publish"
	StageReassemble Stage = "reassemble"
	StageStore      Stage = "store"
	StageFetch      Stage = "fetch"
	StageLoad       Stage = "load"
	StageFeatures   Stage = "features"

	// Composite and maintenance runs, recorded in run history.
	StageSync   Stage = "sync"
	StageReplay Stage = "replay"
)

// ParseStage accepts a stage name as written in run history.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StagePublish, StageReassemble, StageStore, StageFetch, StageLoad,
		StageFeatures, StageSync, StageReplay:
		return st, nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// StageError is the single error a pipeline entry point reports.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %s", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
