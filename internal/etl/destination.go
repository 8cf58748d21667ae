package etl

import (
	"context"
	"fmt"
	"time"
)

// ── Destination ────────────────────────────────────────────
// A Destination holds named tables. Every write fully replaces the
// previous contents of the target.

// WriteMode determines how Replace swaps old contents for new.
type WriteMode string

const (
	ModeReplace WriteMode = "replace" // drop, recreate, insert; readers may see an empty table
	ModeSwap    WriteMode = "swap"    // fill a fresh backing table, then repoint atomically
)

// ParseWriteMode validates a mode name. The empty string means replace.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeSwap:
		return ModeSwap, nil
	default:
		return "", fmt.Errorf("unknown write mode %q", s)
	}
}

// Destination writes and reads whole tables.
type Destination interface {
	Replace(ctx context.Context, name string, t *Table) (int, error)
	Load(ctx context.Context, name string) (*Table, error)
}

// ── Stage collaborators ────────────────────────────────────

// PublishResult counts the outcome of one publish pass.
type PublishResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Publisher pushes records to the telemetry ingestion service.
type Publisher interface {
	Publish(ctx context.Context, records []Record) (*PublishResult, error)
}

// TelemetryQuery selects the keys and time window to pull back.
type TelemetryQuery struct {
	Keys  []string  `json:"keys"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Reassembler rebuilds a table from stored telemetry.
type Reassembler interface {
	Reassemble(ctx context.Context, q TelemetryQuery) (*Table, error)
}

// ObjectStore persists tables as named objects.
type ObjectStore interface {
	Put(ctx context.Context, bucket, object string, t *Table) error
	Get(ctx context.Context, bucket, object string) (*Table, error)
}
