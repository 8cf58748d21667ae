package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"hotelpipe/internal/etl"
)

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioClient adapts a minio-go client to BucketClient.
type MinioClient struct {
	client *minio.Client
	region string
}

var _ BucketClient = (*MinioClient)(nil)

// NewMinioClient connects to an S3-compatible endpoint. No request is made
// until the first operation.
func NewMinioClient(cfg S3Config) (*MinioClient, error) {
	if cfg.Endpoint == "" {
		return nil, etl.KindError(etl.ErrConfigMissing, errors.New("storage endpoint"))
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &MinioClient{client: client, region: cfg.Region}, nil
}

func (m *MinioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (m *MinioClient) MakeBucket(ctx context.Context, bucket string) error {
	err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region})
	if err != nil {
		// Lost a creation race with another writer.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return classify(err)
	}
	return nil
}

func (m *MinioClient) FPutObject(ctx context.Context, bucket, object, path string) error {
	_, err := m.client.FPutObject(ctx, bucket, object, path, minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (m *MinioClient) FGetObject(ctx context.Context, bucket, object, path string) error {
	if err := m.client.FGetObject(ctx, bucket, object, path, minio.GetObjectOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps an S3 error response onto the pipeline's error kinds.
// Errors without a response code never reached the service.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject":
		return etl.KindError(etl.ErrObjectNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return etl.KindError(etl.ErrAuthentication, err)
	case "":
		return etl.KindError(etl.ErrBucketUnavailable, err)
	default:
		return err
	}
}
