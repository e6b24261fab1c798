package archive

import (
	"context"
	"fmt"
)

// Backend stores archive objects by key.
type Backend interface {
	// Write stores data under key, replacing any previous object.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the object stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures the archive backend.
type Config struct {
	Backend string `yaml:"backend"` // "" (disabled) | "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string `yaml:"local_dir"`

	// GCS or S3 bucket name
	Bucket string `yaml:"bucket"`

	// S3 (also works for B2, R2, MinIO)
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`

	Prefix string `yaml:"prefix"` // "archive/" (path prefix within bucket or local dir)
}

// Enabled reports whether a backend is configured.
func (c Config) Enabled() bool {
	return c.Backend != ""
}

// NewBackend creates a storage backend based on configuration.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local_dir required for local backend")
		}
		return NewLocalBackend(cfg.LocalDir)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSBackend(ctx, cfg.Bucket)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Backend(ctx, cfg.Bucket, cfg.Endpoint, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}
