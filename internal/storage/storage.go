package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/qurrota/apiserver/config"
)

// ObjectStorage defines the object operations the image host relies on.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// New constructs the backend named by provider (minio, gcs or s3) and makes
// sure its bucket exists.
func New(ctx context.Context, provider string, cfg config.Config) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch provider {
	case config.ImageHostMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.ImageHostGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case config.ImageHostS3:
		backend, err = NewS3Client(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}
