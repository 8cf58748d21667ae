package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hotelpipe/internal/domain"
)

// DeadLetterStore implements domain.DeadLetterStore on the state database.
type DeadLetterStore struct {
	db *DB
}

var _ domain.DeadLetterStore = (*DeadLetterStore)(nil)

// NewDeadLetterStore creates a new DeadLetterStore.
func NewDeadLetterStore(db *DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

func (s *DeadLetterStore) AddDeadLetter(ctx context.Context, d *domain.DeadLetter) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO dead_letters (id, row_index, payload_json, status_code, error, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RowIndex, d.PayloadJSON, d.StatusCode, d.Error, d.Attempts, d.CreatedAt.UTC(),
	)
	return err
}

// ListDeadLetters returns the oldest entries first so replay keeps row order.
func (s *DeadLetterStore) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, row_index, payload_json, status_code, error, attempts, created_at
		 FROM dead_letters ORDER BY created_at ASC, row_index ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		var d domain.DeadLetter
		if err := rows.Scan(&d.ID, &d.RowIndex, &d.PayloadJSON, &d.StatusCode, &d.Error, &d.Attempts, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *DeadLetterStore) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	return err
}

func (s *DeadLetterStore) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	return n, err
}
