package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// BucketBackend writes archive objects to a gocloud bucket.
type BucketBackend struct {
	bucket *blob.Bucket
	scheme string
	name   string
}

// NewGCSBackend opens a Google Cloud Storage bucket.
func NewGCSBackend(ctx context.Context, bucketName string) (*BucketBackend, error) {
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}
	return &BucketBackend{bucket: bucket, scheme: "gs", name: bucketName}, nil
}

// NewS3Backend opens an S3-compatible bucket.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Backend(ctx context.Context, bucketName, endpoint, region string) (*BucketBackend, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return &BucketBackend{bucket: bucket, scheme: "s3", name: bucketName}, nil
}

// NewBucketBackend wraps an already opened bucket.
func NewBucketBackend(bucket *blob.Bucket, scheme, name string) *BucketBackend {
	return &BucketBackend{bucket: bucket, scheme: scheme, name: name}
}

// Write stores data under key.
func (s *BucketBackend) Write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// Read returns the object stored under key.
func (s *BucketBackend) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if key is stored.
func (s *BucketBackend) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BucketBackend) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, key)
}

// Close releases the bucket connection.
func (s *BucketBackend) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var (
	_ Backend = (*BucketBackend)(nil)
	_ Backend = (*LocalBackend)(nil)
)
