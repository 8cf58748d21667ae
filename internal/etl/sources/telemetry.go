package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hotelpipe/internal/etl"
)

// ── Telemetry Source ───────────────────────────────────────
// Pulls a device's stored telemetry back as a table.

// TelemetryProvider abstracts the ingestion service client.
// The app layer implements this and injects it at startup.
type TelemetryProvider interface {
	Keys(ctx context.Context) ([]string, error)
	Reassemble(ctx context.Context, q etl.TelemetryQuery) (*etl.Table, error)
}

var telemetryProvider TelemetryProvider

// SetTelemetryProvider is called by the app at startup.
func SetTelemetryProvider(p TelemetryProvider) { telemetryProvider = p }

type telemetrySource struct{}

func init() { etl.RegisterSource(&telemetrySource{}) }

func (s *telemetrySource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "telemetry",
		Label: "Device Telemetry",
		ConfigFields: []etl.ConfigField{
			{Key: "keys", Label: "Keys", Required: false, Help: "Comma-separated telemetry keys; empty discovers all keys"},
			{Key: "start", Label: "Start", Required: false, Help: "RFC3339 window start (default: end minus window)"},
			{Key: "end", Label: "End", Required: false, Help: "RFC3339 window end (default: now)"},
			{Key: "window", Label: "Window", Required: false, Default: "24h", Help: "Window length when start is empty"},
		},
	}
}

func (s *telemetrySource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	if telemetryProvider == nil {
		return nil, fmt.Errorf("telemetry provider not initialized")
	}
	keys := splitKeys(cfg.String("keys"))
	if len(keys) == 0 {
		var err error
		if keys, err = telemetryProvider.Keys(ctx); err != nil {
			return nil, fmt.Errorf("discover keys: %w", err)
		}
	}
	schema := &etl.Schema{Fields: make([]etl.Field, len(keys))}
	for i, k := range keys {
		schema.Fields[i] = etl.Field{Name: k, Type: etl.TypeText}
	}
	return schema, nil
}

func (s *telemetrySource) Read(ctx context.Context, cfg etl.SourceConfig) (*etl.Table, error) {
	if telemetryProvider == nil {
		return nil, fmt.Errorf("telemetry provider not initialized")
	}
	q, err := QueryFromConfig(cfg, time.Now())
	if err != nil {
		return nil, err
	}
	return telemetryProvider.Reassemble(ctx, q)
}

// QueryFromConfig resolves the keys and time window in cfg relative to now.
func QueryFromConfig(cfg etl.SourceConfig, now time.Time) (etl.TelemetryQuery, error) {
	q := etl.TelemetryQuery{Keys: splitKeys(cfg.String("keys")), End: now}

	if v := cfg.String("end"); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("parse end: %w", err)
		}
		q.End = end
	}

	if v := cfg.String("start"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("parse start: %w", err)
		}
		q.Start = start
	} else {
		window := 24 * time.Hour
		if w := cfg.String("window"); w != "" {
			d, err := time.ParseDuration(w)
			if err != nil {
				return q, fmt.Errorf("parse window: %w", err)
			}
			window = d
		}
		q.Start = q.End.Add(-window)
	}

	if q.Start.After(q.End) {
		return q, fmt.Errorf("window start %s is after end %s", q.Start, q.End)
	}
	return q, nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
