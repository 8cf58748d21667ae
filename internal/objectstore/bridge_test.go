package objectstore_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/objectstore"
)

func sample(t *testing.T) *etl.Table {
	t.Helper()
	tbl, err := etl.NewTable(
		etl.Column{Name: "hotel", Type: etl.TypeText, Values: []any{"Resort Hotel", "City Hotel", nil}},
		etl.Column{Name: "is_canceled", Type: etl.TypeInteger, Values: []any{int64(0), int64(1), int64(0)}},
		etl.Column{Name: "adr", Type: etl.TypeFloat, Values: []any{75.5, 2.0, 110.25}},
	)
	require.NoError(t, err)
	return tbl
}

func TestBridge_RoundTrip(t *testing.T) {
	fsClient, err := objectstore.NewFilesystemClient(t.TempDir())
	require.NoError(t, err)

	backends := map[string]objectstore.BucketClient{
		"memory":     objectstore.NewMemoryClient(),
		"filesystem": fsClient,
	}
	for name, client := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := objectstore.NewBridge(client, t.TempDir())

			exists, err := client.BucketExists(ctx, "hotel-bookings")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, b.Put(ctx, "hotel-bookings", "hotel_bookings.csv", sample(t)))

			exists, err = client.BucketExists(ctx, "hotel-bookings")
			require.NoError(t, err)
			assert.True(t, exists)

			got, err := b.Get(ctx, "hotel-bookings", "hotel_bookings.csv")
			require.NoError(t, err)
			assert.True(t, sample(t).Equal(got))

			_, err = os.Stat(b.DownloadPath("hotel-bookings", "hotel_bookings.csv"))
			assert.NoError(t, err, "downloaded copy is kept")
		})
	}
}

func TestBridge_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	b := objectstore.NewBridge(objectstore.NewMemoryClient(), t.TempDir())

	require.NoError(t, b.Put(ctx, "b", "o.csv", sample(t)))
	require.NoError(t, b.Put(ctx, "b", "o.csv", etl.Head(sample(t), 1)))

	got, err := b.Get(ctx, "b", "o.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumRows())
}

func TestBridge_GetMissing(t *testing.T) {
	ctx := context.Background()
	b := objectstore.NewBridge(objectstore.NewMemoryClient(), t.TempDir())

	_, err := b.Get(ctx, "nope", "o.csv")
	assert.ErrorIs(t, err, etl.ErrObjectNotFound)

	require.NoError(t, b.Put(ctx, "b", "o.csv", sample(t)))
	_, err = b.Get(ctx, "b", "other.csv")
	assert.ErrorIs(t, err, etl.ErrObjectNotFound)
}

type downClient struct{}

func (downClient) BucketExists(context.Context, string) (bool, error) {
	return false, etl.KindError(etl.ErrBucketUnavailable, errors.New("dial tcp: connection refused"))
}
func (downClient) MakeBucket(context.Context, string) error { return nil }
func (downClient) FPutObject(context.Context, string, string, string) error {
	return nil
}
func (downClient) FGetObject(context.Context, string, string, string) error {
	return etl.KindError(etl.ErrBucketUnavailable, errors.New("dial tcp: connection refused"))
}

func TestBridge_Unavailable(t *testing.T) {
	ctx := context.Background()
	b := objectstore.NewBridge(downClient{}, t.TempDir())

	assert.ErrorIs(t, b.Put(ctx, "b", "o.csv", sample(t)), etl.ErrBucketUnavailable)
	_, err := b.Get(ctx, "b", "o.csv")
	assert.ErrorIs(t, err, etl.ErrBucketUnavailable)
}

func TestDownloadPath_StaysInsideStaging(t *testing.T) {
	b := objectstore.NewBridge(objectstore.NewMemoryClient(), "/stage")
	assert.Equal(t, "/stage/downloads/b/etc/passwd", b.DownloadPath("b", "../../etc/passwd"))
	assert.Equal(t, "/stage/downloads/b/dir/o.csv", b.DownloadPath("b", "dir/o.csv"))
}

func TestOpen(t *testing.T) {
	_, err := objectstore.Open(objectstore.Config{Backend: "memory"})
	require.NoError(t, err)

	_, err = objectstore.Open(objectstore.Config{Backend: "s3"})
	assert.ErrorIs(t, err, etl.ErrConfigMissing)

	_, err = objectstore.Open(objectstore.Config{Backend: "gcs"})
	assert.ErrorIs(t, err, etl.ErrConfigMissing)
}
