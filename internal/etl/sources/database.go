package sources

import (
	"context"
	"fmt"

	"hotelpipe/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Reads a table back out of the relational sink. The feature builder
// consumes its input through this source.

// TableLoader abstracts how we get sink access.
// The app layer implements this and injects it at startup.
type TableLoader interface {
	Load(ctx context.Context, name string) (*etl.Table, error)
}

var tableLoader TableLoader

// SetTableLoader is called by the app at startup.
func SetTableLoader(l TableLoader) { tableLoader = l }

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Table",
		ConfigFields: []etl.ConfigField{
			{Key: "table", Label: "Table", Required: true, Help: "Name of the table or view to read"},
		},
	}
}

func (s *databaseSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	t, err := s.Read(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return t.Schema(), nil
}

func (s *databaseSource) Read(ctx context.Context, cfg etl.SourceConfig) (*etl.Table, error) {
	name := cfg.String("table")
	if name == "" {
		return nil, fmt.Errorf("table is required")
	}
	if tableLoader == nil {
		return nil, fmt.Errorf("table loader not initialized")
	}
	t, err := tableLoader.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return t, nil
}
