package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore keeps certificates in a directory on the local filesystem.
// The reference it returns is the file path itself.
type LocalStore struct {
	basePath string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the base directory if needed (idempotent).
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("store: create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Persist copies the rendered file into the base directory, keeping the
// certificate_<id>.pdf name. When the source already lives in the base
// directory the path is returned as-is.
func (s *LocalStore) Persist(_ context.Context, localPath, _ string) (string, error) {
	if filepath.Clean(filepath.Dir(localPath)) == filepath.Clean(s.basePath) {
		return localPath, nil
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("store: read source file: %w", err)
	}
	dst := filepath.Join(s.basePath, filepath.Base(localPath))
	if err := os.WriteFile(dst, data, 0o640); err != nil {
		return "", fmt.Errorf("store: write destination file: %w", err)
	}
	return dst, nil
}
