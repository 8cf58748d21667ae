package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ── CSV codec ──────────────────────────────────────────────
// The flat-file format shared by the record source and the object-store bridge.

// ReadCSV parses a header row followed by data rows into a Table.
// A zero delimiter means comma.
func ReadCSV(r io.Reader, delimiter rune) (*Table, error) {
	reader := csv.NewReader(r)
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			return nil, KindError(ErrSourceParse, fmt.Errorf("row %d: inconsistent column count", perr.Line))
		}
		return nil, KindError(ErrSourceParse, fmt.Errorf("parse csv: %w", err))
	}
	if len(records) == 0 {
		return nil, KindError(ErrSourceParse, fmt.Errorf("empty csv: no header row"))
	}

	headers := records[0]
	rows := records[1:]
	for i, rec := range records {
		for _, cell := range rec {
			if !utf8.ValidString(cell) {
				return nil, KindError(ErrSourceParse, fmt.Errorf("row %d: invalid utf-8", i+1))
			}
		}
	}

	cols := make([]Column, len(headers))
	cells := make([]string, len(rows))
	for j, h := range headers {
		for i, row := range rows {
			cells[i] = row[j]
		}
		cols[j] = InferColumn(h, cells)
	}

	t, err := NewTable(cols...)
	if err != nil {
		return nil, KindError(ErrSourceParse, err)
	}
	return t, nil
}

// WriteCSV writes the header and rows of t.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.Columns {
			rec[j] = FormatCell(c.Values[i])
		}
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
