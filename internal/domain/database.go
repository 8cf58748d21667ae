package domain

import "time"

// DatabaseDriver represents the type of database engine behind the sink.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// SQL reports whether the driver speaks SQL.
func (d DatabaseDriver) SQL() bool { return d != DatabaseDriverMongoDB }

// TableAlias records which backing table a swap-mode view currently points at.
type TableAlias struct {
	Name      string    `json:"name"`
	Backing   string    `json:"backing"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableSummary is the inspection view of a loaded table.
type TableSummary struct {
	Table           string           `json:"table"`
	TotalRows       int              `json:"totalRows"`
	Label           string           `json:"label,omitempty"`
	LabelCounts     map[string]int   `json:"labelCounts,omitempty"`
	Partition       string           `json:"partition,omitempty"`
	PartitionCounts map[string]int   `json:"partitionCounts,omitempty"`
	DailyPositives  map[string]int   `json:"dailyPositives,omitempty"` // label = 1, by arrival date
	Sample          []map[string]any `json:"sample,omitempty"`
}
