package objectstore

import (
	"fmt"

	"hotelpipe/internal/etl"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string // s3 | filesystem | memory
	S3         S3Config
	Directory  string
	StagingDir string
}

// Open builds a bridge for the configured backend.
func Open(cfg Config) (*Bridge, error) {
	var (
		client BucketClient
		err    error
	)
	switch cfg.Backend {
	case "", "s3", "minio":
		client, err = NewMinioClient(cfg.S3)
	case "filesystem":
		client, err = NewFilesystemClient(cfg.Directory)
	case "memory":
		client = NewMemoryClient()
	default:
		return nil, etl.KindError(etl.ErrConfigMissing, fmt.Errorf("unknown storage backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}
	return NewBridge(client, cfg.StagingDir), nil
}
