package dbclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
)

// aliasTable records which backing table each swap-mode view points at.
const aliasTable = "pipeline_aliases"

// maxParams keeps multi-row INSERTs under every engine's bind-variable limit.
const maxParams = 30000

// dialect captures the SQL differences between engines.
type dialect struct {
	driver      domain.DatabaseDriver
	quote       func(name string) string
	placeholder func(n int) string // 1-based
	columnTypes map[string]string
}

func (d dialect) columnType(t etl.ColumnType) string {
	return d.columnTypes[string(t)]
}

// sqlSink is the shared implementation for Postgres, MySQL and SQLite.
type sqlSink struct {
	d    dialect
	db   *sql.DB
	opts Options
}

var _ Sink = (*sqlSink)(nil)

func newSQLSink(ctx context.Context, d dialect, driverName, dsn string, opts Options) (*sqlSink, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if d.driver == domain.DatabaseDriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	s := &sqlSink{d: d, db: db, opts: opts}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, etl.KindError(etl.ErrSinkWrite, fmt.Errorf("connect %s: %w", driverName, err))
	}
	return s, nil
}

func (s *sqlSink) Driver() domain.DatabaseDriver { return s.d.driver }

func (s *sqlSink) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *sqlSink) Close() error { return s.db.Close() }

// ── Write ───────────────────────────────────────────────────

// Replace makes name hold exactly the rows of t.
//
// In replace mode the table is dropped, recreated and filled; readers can
// observe the table missing or partially filled. In swap mode rows go to a
// fresh backing table and the view called name is repointed in one
// transaction, then the previous backing table is dropped.
func (s *sqlSink) Replace(ctx context.Context, name string, t *etl.Table) (int, error) {
	if err := s.ensureAliasTable(ctx); err != nil {
		return 0, writeErr("create alias table", err)
	}

	start := time.Now()
	var (
		n   int
		err error
	)
	switch s.opts.Mode {
	case etl.ModeSwap:
		n, err = s.swap(ctx, name, t)
	default:
		n, err = s.replace(ctx, name, t)
	}
	if err != nil {
		return n, err
	}

	logging.Ctx(ctx).Info().
		Str("table", name).
		Str("driver", string(s.d.driver)).
		Str("mode", string(s.opts.Mode)).
		Int("rows", n).
		Dur("took", time.Since(start)).
		Msg("table written")
	return n, nil
}

func (s *sqlSink) replace(ctx context.Context, name string, t *etl.Table) (int, error) {
	alias, err := s.alias(ctx, s.db, name)
	if err != nil {
		return 0, writeErr("read alias", err)
	}
	if alias != nil {
		// The name is currently a swap-mode view.
		if _, err := s.db.ExecContext(ctx, "DROP VIEW IF EXISTS "+s.d.quote(name)); err != nil {
			return 0, writeErr("drop view", err)
		}
		if err := s.dropTable(ctx, alias.Backing); err != nil {
			return 0, writeErr("drop backing table", err)
		}
		if _, err := s.db.ExecContext(ctx, s.bind("DELETE FROM "+s.d.quote(aliasTable)+" WHERE name = ?"), name); err != nil {
			return 0, writeErr("delete alias", err)
		}
	}

	if err := s.dropTable(ctx, name); err != nil {
		return 0, writeErr("drop table", err)
	}
	return s.createAndFill(ctx, name, t)
}

func (s *sqlSink) swap(ctx context.Context, name string, t *etl.Table) (int, error) {
	backing := name + "__" + strings.ToLower(ulid.Make().String())
	n, err := s.createAndFill(ctx, backing, t)
	if err != nil {
		s.dropTable(ctx, backing)
		return n, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, writeErr("begin tx", err)
	}
	defer tx.Rollback()

	prev, err := s.alias(ctx, tx, name)
	if err != nil {
		return 0, writeErr("read alias", err)
	}
	if prev == nil {
		// A plain table from an earlier replace-mode write.
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.d.quote(name)); err != nil {
			return 0, writeErr("drop table", err)
		}
	} else if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+s.d.quote(name)); err != nil {
		return 0, writeErr("drop view", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s", s.d.quote(name), s.d.quote(backing))); err != nil {
		return 0, writeErr("create view", err)
	}
	if _, err := tx.ExecContext(ctx, s.bind("DELETE FROM "+s.d.quote(aliasTable)+" WHERE name = ?"), name); err != nil {
		return 0, writeErr("delete alias", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.bind("INSERT INTO "+s.d.quote(aliasTable)+" (name, backing, updated_at) VALUES (?, ?, ?)"),
		name, backing, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, writeErr("insert alias", err)
	}
	if err := tx.Commit(); err != nil {
		s.dropTable(ctx, backing)
		return 0, writeErr("commit swap", err)
	}

	if prev != nil {
		if err := s.dropTable(ctx, prev.Backing); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("table", prev.Backing).Msg("drop previous backing table")
		}
	}
	return n, nil
}

func (s *sqlSink) createAndFill(ctx context.Context, name string, t *etl.Table) (int, error) {
	if t.NumCols() == 0 {
		return 0, writeErr("create table", errors.New("table has no columns"))
	}

	defs := make([]string, t.NumCols())
	for i, c := range t.Columns {
		defs[i] = s.d.quote(c.Name) + " " + s.d.columnType(c.Type)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", s.d.quote(name), strings.Join(defs, ", "))); err != nil {
		return 0, writeErr("create table", err)
	}

	batch := s.opts.BatchSize
	if cols := t.NumCols(); batch*cols > maxParams {
		batch = max(maxParams/cols, 1)
	}

	written := 0
	for lo := 0; lo < t.NumRows(); lo += batch {
		hi := min(lo+batch, t.NumRows())
		if err := s.insertRows(ctx, name, t, lo, hi); err != nil {
			return written, writeErr(fmt.Sprintf("insert rows %d-%d", lo, hi-1), err)
		}
		written += hi - lo
	}
	return written, nil
}

func (s *sqlSink) insertRows(ctx context.Context, name string, t *etl.Table, lo, hi int) error {
	cols := make([]string, t.NumCols())
	for i, c := range t.Columns {
		cols[i] = s.d.quote(c.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.d.quote(name), strings.Join(cols, ", "))
	args := make([]any, 0, (hi-lo)*len(cols))
	n := 1
	for r := lo; r < hi; r++ {
		if r > lo {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range t.Columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.d.placeholder(n))
			n++
			args = append(args, sqlValue(t.Columns[c].Values[r]))
		}
		sb.WriteByte(')')
	}

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// sqlValue maps missing cells to NULL.
func sqlValue(v any) any {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil
	}
	return v
}

func (s *sqlSink) dropTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.d.quote(name))
	return err
}

// ── Aliases ─────────────────────────────────────────────────

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlSink) ensureAliasTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) PRIMARY KEY, backing VARCHAR(255) NOT NULL, updated_at VARCHAR(64) NOT NULL)`,
		s.d.quote(aliasTable)))
	return err
}

func (s *sqlSink) alias(ctx context.Context, q querier, name string) (*domain.TableAlias, error) {
	a := &domain.TableAlias{Name: name}
	var updated string
	err := q.QueryRowContext(ctx,
		s.bind("SELECT backing, updated_at FROM "+s.d.quote(aliasTable)+" WHERE name = ?"), name,
	).Scan(&a.Backing, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return a, nil
}

// Aliases lists every swap-mode view and the table behind it.
func (s *sqlSink) Aliases(ctx context.Context) ([]domain.TableAlias, error) {
	if err := s.ensureAliasTable(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT name, backing, updated_at FROM "+s.d.quote(aliasTable)+" ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TableAlias
	for rows.Next() {
		var a domain.TableAlias
		var updated string
		if err := rows.Scan(&a.Name, &a.Backing, &updated); err != nil {
			return nil, err
		}
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

// bind rewrites ? placeholders for dialects that number them.
func (s *sqlSink) bind(query string) string {
	if s.d.placeholder(1) == "?" {
		return query
	}
	var sb strings.Builder
	n := 1
	for _, r := range query {
		if r == '?' {
			sb.WriteString(s.d.placeholder(n))
			n++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ── Read ────────────────────────────────────────────────────

// Load reads name back into a table. Declared text columns stay text;
// everything else is typed by inference over the stored values.
func (s *sqlSink) Load(ctx context.Context, name string) (*etl.Table, error) {
	return s.query(ctx, "SELECT * FROM "+s.d.quote(name))
}

func (s *sqlSink) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.d.quote(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}

func (s *sqlSink) query(ctx context.Context, query string, args ...any) (*etl.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	cells := make([][]string, len(types))
	nulls := make([][]bool, len(types))
	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			cells[i] = append(cells[i], cellText(v))
			nulls[i] = append(nulls[i], v == nil)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}

	cols := make([]etl.Column, len(types))
	for i, ct := range types {
		cols[i] = columnFromDB(ct.Name(), kindOf(ct.DatabaseTypeName()), cells[i], nulls[i])
	}
	return etl.NewTable(cols...)
}

// kindOf maps a driver's type name to a column type; "" means unknown.
// Only the base type name counts, so INTERVAL and POINT stay unknown.
func kindOf(dbType string) etl.ColumnType {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"INT2", "INT4", "INT8", "SERIAL", "SMALLSERIAL", "BIGSERIAL", "UNSIGNED":
		return etl.TypeInteger
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL", "NUMERIC", "DECIMAL":
		return etl.TypeFloat
	case "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "CHAR", "VARCHAR", "NCHAR", "NVARCHAR",
		"BPCHAR", "CHARACTER", "CLOB", "STRING":
		return etl.TypeText
	default:
		return ""
	}
}

// columnFromDB builds a column from scanned cells. Integer columns with
// NULLs widen to float, as they would after a CSV round trip.
func columnFromDB(name string, kind etl.ColumnType, cells []string, nulls []bool) etl.Column {
	if kind == etl.TypeText {
		vals := make([]any, len(cells))
		for i, c := range cells {
			if !nulls[i] {
				vals[i] = c
			}
		}
		return etl.Column{Name: name, Type: etl.TypeText, Values: vals}
	}

	col := etl.InferColumn(name, cells)
	if kind == etl.TypeFloat && col.Type == etl.TypeInteger {
		for i, v := range col.Values {
			col.Values[i] = float64(v.(int64))
		}
		col.Type = etl.TypeFloat
	}
	return col
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return etl.FormatCell(x)
	}
}
