package dbclient

import (
	"strings"

	"hotelpipe/internal/domain"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driver:      domain.DatabaseDriverSQLite,
	quote:       postgresDialect.quote,
	placeholder: func(int) string { return "?" },
	columnTypes: postgresColumnTypes,
}

// buildSQLiteDSN turns sqlite:///abs/path.db, sqlite://rel.db or a file:
// URI into a modernc DSN with WAL and a busy timeout.
func buildSQLiteDSN(rawURL string) string {
	path := rawURL
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
