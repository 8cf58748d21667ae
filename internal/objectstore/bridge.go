// Package objectstore moves tables in and out of an S3-compatible bucket
// as CSV objects, staging files on local disk in between.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
)

// BucketClient is the subset of an object-store client the bridge needs.
// Implementations translate backend errors into etl.ErrObjectNotFound and
// etl.ErrBucketUnavailable.
type BucketClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	FPutObject(ctx context.Context, bucket, object, path string) error
	FGetObject(ctx context.Context, bucket, object, path string) error
}

// Bridge stores tables as CSV objects.
type Bridge struct {
	client     BucketClient
	stagingDir string
}

var _ etl.ObjectStore = (*Bridge)(nil)

// NewBridge creates a bridge over client that stages files under stagingDir.
func NewBridge(client BucketClient, stagingDir string) *Bridge {
	if stagingDir == "" {
		stagingDir = filepath.Join(os.TempDir(), "hotelpipe")
	}
	return &Bridge{client: client, stagingDir: stagingDir}
}

// Put writes t to a staging file and uploads it, creating the bucket when
// it does not exist yet. An existing object is overwritten.
func (b *Bridge) Put(ctx context.Context, bucket, object string, t *etl.Table) error {
	start := time.Now()
	if err := os.MkdirAll(b.stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	f, err := os.CreateTemp(b.stagingDir, "upload-*.csv")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := etl.WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}

	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, bucket); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		logging.Ctx(ctx).Info().Str("bucket", bucket).Msg("bucket created")
	}

	if err := b.client.FPutObject(ctx, bucket, object, path); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}

	logging.Ctx(ctx).Info().
		Str("bucket", bucket).
		Str("object", object).
		Int("rows", t.NumRows()).
		Dur("took", time.Since(start)).
		Msg("object stored")
	return nil
}

// Get downloads the object into the staging dir and parses it as CSV.
// The downloaded file is left in place.
func (b *Bridge) Get(ctx context.Context, bucket, object string) (*etl.Table, error) {
	path := b.DownloadPath(bucket, object)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	if err := b.client.FGetObject(ctx, bucket, object, path); err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, object, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open downloaded file: %w", err)
	}
	defer f.Close()

	t, err := etl.ReadCSV(f, ',')
	if err != nil {
		return nil, fmt.Errorf("parse %s/%s: %w", bucket, object, err)
	}

	logging.Ctx(ctx).Info().
		Str("bucket", bucket).
		Str("object", object).
		Str("path", path).
		Int("rows", t.NumRows()).
		Msg("object fetched")
	return t, nil
}

// DownloadPath is where Get leaves the downloaded copy of an object.
func (b *Bridge) DownloadPath(bucket, object string) string {
	clean := filepath.FromSlash(strings.TrimLeft(filepath.ToSlash(filepath.Clean("/"+object)), "/"))
	return filepath.Join(b.stagingDir, "downloads", bucket, clean)
}
