package dbclient

import (
	"strconv"
	"strings"

	"hotelpipe/internal/domain"

	_ "github.com/lib/pq"
)

// lib/pq accepts postgres:// and postgresql:// URLs as DSNs directly.
var postgresDialect = dialect{
	driver: domain.DatabaseDriverPostgres,
	quote: func(name string) string {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	},
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	columnTypes: postgresColumnTypes,
}

var postgresColumnTypes = map[string]string{
	"integer": "BIGINT",
	"float":   "DOUBLE PRECISION",
	"text":    "TEXT",
}
