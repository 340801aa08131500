package blobstore

import (
	"context"
	"fmt"
	"strings"

	"catmatch/internal/config"
)

// Store keeps uploaded file bytes addressed by a relative key such as
// "uploads/<owner>/<id>.xlsx".
type Store interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New picks the backend named by BLOB_BACKEND.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobBackend)) {
	case "", "local":
		return NewLocalStore(cfg.BlobDir)
	case "s3", "minio":
		if err := cfg.Require("S3_ENDPOINT", cfg.S3Endpoint); err != nil {
			return nil, err
		}
		s, err := NewS3Store(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.BlobBackend)
	}
}
