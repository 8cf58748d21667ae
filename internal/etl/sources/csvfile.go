package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"unicode/utf8"

	"hotelpipe/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads a local CSV file into a table: one column per header field,
// rows in file order.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Required: false, Default: ",", Help: "Column delimiter (default: comma)"},
		},
	}
}

func (s *csvFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	t, err := s.Read(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return t.Schema(), nil
}

func (s *csvFileSource) Read(_ context.Context, cfg etl.SourceConfig) (*etl.Table, error) {
	path := cfg.String("filePath")
	if path == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	var delim rune
	if d := cfg.String("delimiter"); d != "" {
		delim, _ = utf8.DecodeRuneInString(d)
	}
	return ReadCSVFile(path, delim)
}

// ReadCSVFile loads the CSV file at path. A zero delimiter means comma.
func ReadCSVFile(path string, delimiter rune) (*etl.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, etl.KindError(etl.ErrSourceNotFound, fmt.Errorf("open %s: %w", path, err))
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := etl.ReadCSV(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}
