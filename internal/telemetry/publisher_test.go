package telemetry_test

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/telemetry"
	"hotelpipe/internal/telemetry/telemetrytest"
)

type memDeadLetters struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
	seq     int
}

func (m *memDeadLetters) AddDeadLetter(_ context.Context, d *domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	d.ID = strconv.Itoa(m.seq)
	m.letters = append(m.letters, *d)
	return nil
}

func (m *memDeadLetters) ListDeadLetters(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.DeadLetter(nil), m.letters...)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDeadLetters) DeleteDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.letters {
		if d.ID == id {
			m.letters = append(m.letters[:i], m.letters[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memDeadLetters) CountDeadLetters(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.letters), nil
}

func records(n int) []etl.Record {
	out := make([]etl.Record, n)
	for i := range out {
		out[i] = etl.Record{Data: map[string]any{
			"hotel":       "Resort Hotel",
			"is_canceled": int64(i % 2),
			"adr":         75.5,
			"agent":       nil,
		}}
	}
	return out
}

func newPublisher(srv *telemetrytest.Server, cfg telemetry.PublisherConfig, dl domain.DeadLetterStore) *telemetry.Publisher {
	cfg.BaseURL = srv.URL
	cfg.DeviceToken = telemetrytest.DeviceToken
	return telemetry.NewPublisher(cfg, dl)
}

func TestPublisher_SendsEveryRowInOrder(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	res, err := newPublisher(srv, telemetry.PublisherConfig{}, nil).Publish(context.Background(), records(3))
	require.NoError(t, err)
	assert.Equal(t, &etl.PublishResult{Attempted: 3, Sent: 3}, res)
	assert.Equal(t, 3, srv.Published())
	assert.Equal(t, []string{"0", "1", "0"}, srv.Values("is_canceled"))
	assert.Equal(t, []string{"75.5", "75.5", "75.5"}, srv.Values("adr"))
	assert.Empty(t, srv.Values("agent"), "null values are not stored")
}

func TestPublisher_MaxRows(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	res, err := newPublisher(srv, telemetry.PublisherConfig{MaxRows: 2}, nil).Publish(context.Background(), records(5))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, srv.Published())

	res, err = newPublisher(srv, telemetry.PublisherConfig{MaxRows: 10}, nil).Publish(context.Background(), records(1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
}

func TestPublisher_DelaySpacesCalls(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	delay := 30 * time.Millisecond
	start := time.Now()
	_, err := newPublisher(srv, telemetry.PublisherConfig{Delay: delay}, nil).Publish(context.Background(), records(3))
	require.NoError(t, err)

	times := srv.CallTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), delay-5*time.Millisecond)
	}
	// No trailing wait after the last row.
	assert.Less(t, time.Since(start), 2*delay+delay)
}

func TestPublisher_FailuresAreCountedAndLoopContinues(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	srv.FailPublish = func(n int) int {
		if n == 1 {
			return http.StatusInternalServerError
		}
		return 0
	}

	dl := &memDeadLetters{}
	res, err := newPublisher(srv, telemetry.PublisherConfig{}, dl).Publish(context.Background(), records(3))
	require.NoError(t, err)
	assert.Equal(t, &etl.PublishResult{Attempted: 3, Sent: 2, Failed: 1}, res)
	assert.Equal(t, 3, srv.Published(), "a failed row is not retried by default")

	require.Len(t, dl.letters, 1)
	assert.Equal(t, 1, dl.letters[0].RowIndex)
	assert.Equal(t, http.StatusInternalServerError, dl.letters[0].StatusCode)
	assert.Equal(t, 1, dl.letters[0].Attempts)
	assert.Contains(t, dl.letters[0].PayloadJSON, `"is_canceled":1`)
}

func TestPublisher_RetriesWhenConfigured(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	srv.FailPublish = func(n int) int {
		if n == 0 {
			return http.StatusServiceUnavailable
		}
		return 0
	}

	cfg := telemetry.PublisherConfig{RetryMax: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond}
	res, err := newPublisher(srv, cfg, nil).Publish(context.Background(), records(1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, srv.Published())
}

func TestPublisher_ReplayDeletesAcceptedLetters(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	var healthy atomic.Bool
	srv.FailPublish = func(int) int {
		if !healthy.Load() {
			return http.StatusBadGateway
		}
		return 0
	}

	dl := &memDeadLetters{}
	pub := newPublisher(srv, telemetry.PublisherConfig{}, dl)
	res, err := pub.Publish(context.Background(), records(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, dl.letters, 2)

	healthy.Store(true)
	res, err = pub.Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Empty(t, dl.letters)
	assert.Equal(t, []string{"0", "1"}, srv.Values("is_canceled"))
}

func TestPublisher_ReplayWithoutStore(t *testing.T) {
	_, err := telemetry.NewPublisher(telemetry.PublisherConfig{}, nil).Replay(context.Background(), 0)
	assert.Error(t, err)
}

func TestPublisher_CancelReturnsPartialResult(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv.FailPublish = func(n int) int {
		if n == 0 {
			cancel()
		}
		return 0
	}

	res, err := newPublisher(srv, telemetry.PublisherConfig{Delay: time.Second}, nil).Publish(ctx, records(5))
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.Attempted, 5)
}
