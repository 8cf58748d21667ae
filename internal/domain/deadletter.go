package domain

import (
	"context"
	"time"
)

// DeadLetter is one publish that the ingestion service did not accept.
type DeadLetter struct {
	ID          string    `json:"id"`
	RowIndex    int       `json:"rowIndex"`
	PayloadJSON string    `json:"payloadJson"`
	StatusCode  int       `json:"statusCode"` // 0 when no response arrived
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeadLetterStore keeps failed publishes for later replay.
type DeadLetterStore interface {
	AddDeadLetter(ctx context.Context, d *DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
	CountDeadLetters(ctx context.Context) (int, error)
}
