package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/telemetry"
	"hotelpipe/internal/telemetry/telemetrytest"
)

func window() etl.TelemetryQuery {
	now := time.Now()
	return etl.TelemetryQuery{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
}

func newReader(srv *telemetrytest.Server, password string) *telemetry.Reader {
	return telemetry.NewReader(telemetry.NewClient(srv.URL, 5*time.Second), telemetry.ReaderConfig{
		DeviceID: telemetrytest.DeviceID,
		Username: telemetrytest.Username,
		Password: password,
	})
}

func TestReader_RoundTripsPublishedRows(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	ctx := context.Background()

	_, err := newPublisher(srv, telemetry.PublisherConfig{}, nil).Publish(ctx, records(3))
	require.NoError(t, err)

	r := newReader(srv, telemetrytest.Password)

	keys, err := r.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"adr", "hotel", "is_canceled"}, keys)

	q := window()
	q.Keys = []string{"hotel", "is_canceled", "adr"}
	tbl, err := r.Reassemble(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, []string{"hotel", "is_canceled", "adr"}, tbl.ColumnNames())

	canceled, _ := tbl.Column("is_canceled")
	assert.Equal(t, etl.TypeInteger, canceled.Type)
	assert.Equal(t, []any{int64(0), int64(1), int64(0)}, canceled.Values)

	adr, _ := tbl.Column("adr")
	assert.Equal(t, etl.TypeFloat, adr.Type)
}

func TestReader_DiscoversKeysWhenNoneGiven(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	ctx := context.Background()

	_, err := newPublisher(srv, telemetry.PublisherConfig{}, nil).Publish(ctx, records(2))
	require.NoError(t, err)

	tbl, err := newReader(srv, telemetrytest.Password).Reassemble(ctx, window())
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumRows())
	assert.ElementsMatch(t, []string{"adr", "hotel", "is_canceled"}, tbl.ColumnNames())
}

func TestReader_PagesPastLimit(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	ctx := context.Background()

	_, err := newPublisher(srv, telemetry.PublisherConfig{}, nil).Publish(ctx, records(5))
	require.NoError(t, err)

	r := telemetry.NewReader(telemetry.NewClient(srv.URL, 5*time.Second), telemetry.ReaderConfig{
		DeviceID: telemetrytest.DeviceID,
		Username: telemetrytest.Username,
		Password: telemetrytest.Password,
		Limit:    3,
	})
	q := window()
	q.Keys = []string{"hotel", "is_canceled"}
	tbl, err := r.Reassemble(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 5, tbl.NumRows())

	canceled, _ := tbl.Column("is_canceled")
	assert.Equal(t, []any{int64(0), int64(1), int64(0), int64(1), int64(0)}, canceled.Values)
}

func TestReader_PagesSparseKeysByTimestamp(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()
	ctx := context.Background()

	recs := records(7)
	recs[0].Data["company"] = "A"
	recs[6].Data["company"] = "B"
	_, err := newPublisher(srv, telemetry.PublisherConfig{}, nil).Publish(ctx, recs)
	require.NoError(t, err)

	r := telemetry.NewReader(telemetry.NewClient(srv.URL, 5*time.Second), telemetry.ReaderConfig{
		DeviceID:  telemetrytest.DeviceID,
		Username:  telemetrytest.Username,
		Password:  telemetrytest.Password,
		Alignment: telemetry.AlignTimestamp,
		Limit:     3,
	})
	q := window()
	q.Keys = []string{"hotel", "company"}
	tbl, err := r.Reassemble(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 7, tbl.NumRows())

	company, _ := tbl.Column("company")
	assert.Equal(t, []any{"A", nil, nil, nil, nil, nil, "B"}, company.Values)
}

func TestReader_EmptyDevice(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	tbl, err := newReader(srv, telemetrytest.Password).Reassemble(context.Background(), window())
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.NumRows())
}

func TestReader_BadCredentials(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	_, err := newReader(srv, "wrong").Reassemble(context.Background(), window())
	require.ErrorIs(t, err, etl.ErrAuthentication)
	assert.Equal(t, 0, srv.Logins())

	_, err = telemetry.NewClient("http://127.0.0.1:1", time.Second).Login(context.Background(), "u", "p")
	assert.ErrorIs(t, err, etl.ErrAuthentication)
}

func TestClient_StatusError(t *testing.T) {
	srv := telemetrytest.NewServer()
	defer srv.Close()

	_, err := telemetry.NewClient(srv.URL, time.Second).TimeseriesKeys(context.Background(), "bogus", telemetrytest.DeviceID)
	var se *telemetry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 401, se.Code)
}

type flakyAPI struct {
	err   error
	calls int
}

func (f *flakyAPI) Login(context.Context, string, string) (string, error) {
	f.calls++
	return "", f.err
}

func (f *flakyAPI) TimeseriesKeys(context.Context, string, string) ([]string, error) {
	f.calls++
	return nil, f.err
}

func (f *flakyAPI) Timeseries(context.Context, string, string, telemetry.Query) (*telemetry.SeriesSet, error) {
	f.calls++
	return nil, f.err
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	api := &flakyAPI{err: errors.New("connection refused")}
	b := telemetry.NewBreakerClient(api, telemetry.BreakerConfig{
		Name:             "test-open",
		FailureThreshold: 2,
		Timeout:          time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.TimeseriesKeys(ctx, "t", "d")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.TimeseriesKeys(ctx, "t", "d")
	require.ErrorIs(t, err, telemetry.ErrServiceUnavailable)
	assert.Equal(t, 2, api.calls, "open breaker does not reach the service")
}

func TestBreaker_IgnoresAuthenticationFailures(t *testing.T) {
	api := &flakyAPI{err: etl.KindError(etl.ErrAuthentication, errors.New("bad password"))}
	b := telemetry.NewBreakerClient(api, telemetry.BreakerConfig{Name: "test-auth", FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := b.Login(context.Background(), "u", "p")
		require.ErrorIs(t, err, etl.ErrAuthentication)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
