package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"

	"hotelpipe/internal/etl"
)

// bucketMarker is the object that marks a bucket prefix as created.
const bucketMarker = ".bucket"

// ObjstoreClient adapts a flat objstore.Bucket to BucketClient. Bucket
// names become top-level prefixes.
type ObjstoreClient struct {
	bkt objstore.Bucket
}

var _ BucketClient = (*ObjstoreClient)(nil)

// NewObjstoreClient wraps bkt.
func NewObjstoreClient(bkt objstore.Bucket) *ObjstoreClient {
	return &ObjstoreClient{bkt: bkt}
}

// NewFilesystemClient stores objects as files under dir.
func NewFilesystemClient(dir string) (*ObjstoreClient, error) {
	if dir == "" {
		return nil, etl.KindError(etl.ErrConfigMissing, fmt.Errorf("storage directory"))
	}
	bkt, err := filesystem.NewBucket(dir)
	if err != nil {
		return nil, etl.KindError(etl.ErrBucketUnavailable, err)
	}
	return &ObjstoreClient{bkt: bkt}, nil
}

// NewMemoryClient keeps objects in process memory.
func NewMemoryClient() *ObjstoreClient {
	return &ObjstoreClient{bkt: objstore.NewInMemBucket()}
}

func (c *ObjstoreClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := c.bkt.Exists(ctx, path.Join(bucket, bucketMarker))
	if err != nil {
		return false, etl.KindError(etl.ErrBucketUnavailable, err)
	}
	return ok, nil
}

func (c *ObjstoreClient) MakeBucket(ctx context.Context, bucket string) error {
	if err := c.bkt.Upload(ctx, path.Join(bucket, bucketMarker), bytes.NewReader(nil)); err != nil {
		return etl.KindError(etl.ErrBucketUnavailable, err)
	}
	return nil
}

func (c *ObjstoreClient) FPutObject(ctx context.Context, bucket, object, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := c.bkt.Upload(ctx, path.Join(bucket, object), f); err != nil {
		return etl.KindError(etl.ErrBucketUnavailable, err)
	}
	return nil
}

func (c *ObjstoreClient) FGetObject(ctx context.Context, bucket, object, file string) error {
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return etl.KindError(etl.ErrObjectNotFound, fmt.Errorf("bucket %s does not exist", bucket))
	}

	rc, err := c.bkt.Get(ctx, path.Join(bucket, object))
	if err != nil {
		if c.bkt.IsObjNotFoundErr(err) {
			return etl.KindError(etl.ErrObjectNotFound, err)
		}
		return etl.KindError(etl.ErrBucketUnavailable, err)
	}
	defer rc.Close()

	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("copy object: %w", err)
	}
	return f.Close()
}

// Close releases the underlying bucket.
func (c *ObjstoreClient) Close() error {
	return c.bkt.Close()
}
