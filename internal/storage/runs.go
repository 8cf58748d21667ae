package storage

import (
	"context"

	"github.com/google/uuid"

	"hotelpipe/internal/etl"
)

// RunStore persists stage run history.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRunLog inserts log, assigning it a fresh id when it has none.
func (s *RunStore) CreateRunLog(ctx context.Context, log *etl.SyncRunLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO run_logs (id, stage, started_at, finished_at, status, rows_read, rows_written, rows_failed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, string(log.Stage), log.StartedAt.UTC(), log.FinishedAt.UTC(), log.Status,
		log.RowsRead, log.RowsWritten, log.RowsFailed, log.Error,
	)
	return err
}

// ListRunLogs returns the newest runs first. An empty stage lists every stage.
func (s *RunStore) ListRunLogs(ctx context.Context, stage etl.Stage, limit int) ([]etl.SyncRunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, stage, started_at, finished_at, status, rows_read, rows_written, rows_failed, error
		 FROM run_logs WHERE (? = '' OR stage = ?) ORDER BY started_at DESC LIMIT ?`,
		string(stage), string(stage), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.SyncRunLog
	for rows.Next() {
		var l etl.SyncRunLog
		var st string
		if err := rows.Scan(&l.ID, &st, &l.StartedAt, &l.FinishedAt, &l.Status, &l.RowsRead, &l.RowsWritten, &l.RowsFailed, &l.Error); err != nil {
			return nil, err
		}
		l.Stage = etl.Stage(st)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
