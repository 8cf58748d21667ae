package app

// ─────────────────────────────────────────────────────────────
// ETL Adapter Bridge
// ─────────────────────────────────────────────────────────────
//
// The ETL sources package reaches the telemetry reader and the relational
// sink through interfaces so it does not import them. This file injects the
// App's opened components.

import (
	"context"
	"fmt"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/etl/sources"
)

// setupETLAdapters wires the ETL source adapters using the App's components.
func setupETLAdapters(a *App) {
	sources.SetTelemetryProvider(&appTelemetryProvider{app: a})
	sources.SetTableLoader(&appTableLoader{app: a})
}

// ── Telemetry Provider ─────────────────────────────────────

type appTelemetryProvider struct{ app *App }

func (p *appTelemetryProvider) Keys(ctx context.Context) ([]string, error) {
	if p.app.reader == nil {
		return nil, fmt.Errorf("telemetry reader not configured")
	}
	return p.app.reader.Keys(ctx)
}

func (p *appTelemetryProvider) Reassemble(ctx context.Context, q etl.TelemetryQuery) (*etl.Table, error) {
	if p.app.reader == nil {
		return nil, fmt.Errorf("telemetry reader not configured")
	}
	return p.app.reader.Reassemble(ctx, q)
}

// ── Table Loader ───────────────────────────────────────────

type appTableLoader struct{ app *App }

func (l *appTableLoader) Load(ctx context.Context, name string) (*etl.Table, error) {
	if l.app.sink == nil {
		return nil, fmt.Errorf("database not configured")
	}
	return l.app.sink.Load(ctx, name)
}
