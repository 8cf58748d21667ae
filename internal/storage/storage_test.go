package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/storage"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// ── Run logs ───────────────────────────────────────────────

func TestRunStore_CreateAndList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewRunStore(openDB(t))

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, stage := range []etl.Stage{etl.StagePublish, etl.StageLoad, etl.StagePublish} {
		log := &etl.SyncRunLog{
			Stage:       stage,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + time.Second),
			Status:      "success",
			RowsRead:    3,
			RowsWritten: 3 - i,
			RowsFailed:  i,
		}
		require.NoError(t, store.CreateRunLog(ctx, log))
		assert.NotEmpty(t, log.ID)
	}

	all, err := store.ListRunLogs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[1].RowsWritten, "newest first")

	pub, err := store.ListRunLogs(ctx, etl.StagePublish, 10)
	require.NoError(t, err)
	require.Len(t, pub, 2)
	assert.Equal(t, 2, pub[0].RowsFailed)
	assert.Equal(t, etl.StagePublish, pub[0].Stage)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = storage.New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

// ── Dead letters ───────────────────────────────────────────

func TestDeadLetterStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewDeadLetterStore(openDB(t))

	first := &domain.DeadLetter{RowIndex: 4, PayloadJSON: `{"a":1}`, StatusCode: 500, Error: "500 Internal Server Error", Attempts: 1,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := &domain.DeadLetter{RowIndex: 9, PayloadJSON: `{"a":2}`, Error: "connection refused", Attempts: 3,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)}
	require.NoError(t, store.AddDeadLetter(ctx, first))
	require.NoError(t, store.AddDeadLetter(ctx, second))

	n, err := store.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := store.ListDeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 4, list[0].RowIndex)
	assert.Equal(t, `{"a":2}`, list[1].PayloadJSON)
	assert.Equal(t, 3, list[1].Attempts)

	require.NoError(t, store.DeleteDeadLetter(ctx, first.ID))
	n, err = store.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
