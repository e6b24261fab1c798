package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalBackend writes archive objects to the local filesystem.
type LocalBackend struct {
	baseDir string
}

// NewLocalBackend creates a new local filesystem backend.
func NewLocalBackend(baseDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}
	return &LocalBackend{baseDir: baseDir}, nil
}

// Write stores data atomically using a temp file and rename.
func (s *LocalBackend) Write(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

// Read returns the file stored under key.
func (s *LocalBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if key is stored.
func (s *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalBackend) URI(key string) string {
	return "file://" + filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// Close is a no-op for local storage.
func (s *LocalBackend) Close() error {
	return nil
}
