// Package dbclient writes tables into relational databases (and MongoDB)
// and reads them back.
package dbclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
)

// Sink is a table destination with the read-side helpers the pipeline and
// the API need.
type Sink interface {
	etl.Destination

	// Count returns the number of rows stored under name.
	Count(ctx context.Context, name string) (int, error)

	// Summarize returns the inspection numbers for a loaded table.
	Summarize(ctx context.Context, name string, opts SummaryOptions) (*domain.TableSummary, error)

	// Driver identifies the engine behind the sink.
	Driver() domain.DatabaseDriver

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// Options tunes how tables are written.
type Options struct {
	Mode      etl.WriteMode
	BatchSize int // rows per INSERT statement
}

// SummaryOptions names the columns Summarize groups by.
type SummaryOptions struct {
	Label      string
	Partition  string
	SampleSize int
}

const defaultBatchSize = 500

// Open connects to the database named by rawURL. The scheme picks the
// driver: postgres, postgresql, mysql, sqlite, file, mongodb and
// mongodb+srv are understood.
func Open(ctx context.Context, rawURL string, opts Options) (Sink, error) {
	if rawURL == "" {
		return nil, etl.KindError(etl.ErrConfigMissing, fmt.Errorf("database url"))
	}
	if opts.Mode == "" {
		opts.Mode = etl.ModeReplace
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	driver, err := DriverFromURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch driver {
	case domain.DatabaseDriverPostgres:
		return newSQLSink(ctx, postgresDialect, "postgres", rawURL, opts)
	case domain.DatabaseDriverMySQL:
		dsn, err := buildMySQLDSN(rawURL)
		if err != nil {
			return nil, err
		}
		return newSQLSink(ctx, mysqlDialect, "mysql", dsn, opts)
	case domain.DatabaseDriverSQLite:
		return newSQLSink(ctx, sqliteDialect, "sqlite", buildSQLiteDSN(rawURL), opts)
	case domain.DatabaseDriverMongoDB:
		return newMongoSink(ctx, rawURL, opts)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// DriverFromURL maps a connection URL's scheme to a driver.
func DriverFromURL(rawURL string) (domain.DatabaseDriver, error) {
	if strings.HasPrefix(rawURL, "file:") {
		return domain.DatabaseDriverSQLite, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return domain.DatabaseDriverPostgres, nil
	case "mysql":
		return domain.DatabaseDriverMySQL, nil
	case "sqlite", "sqlite3":
		return domain.DatabaseDriverSQLite, nil
	case "mongodb", "mongodb+srv":
		return domain.DatabaseDriverMongoDB, nil
	default:
		return "", fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}
}

func writeErr(op string, err error) error {
	return etl.KindError(etl.ErrSinkWrite, fmt.Errorf("%s: %w", op, err))
}
