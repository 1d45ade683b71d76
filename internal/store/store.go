// Package store provides the distribution strategies for rendered
// certificates: a local directory for single-machine deployments and an
// S3-compatible object store for durable hosting.
package store

import (
	"context"

	u "certforge/internal/utils"
)

// Store persists the rendered PDF and returns a retrievable reference.
// The pipeline hands over the local temp file path because upload
// backends take a source path; implementations must not delete it.
type Store interface {
	Persist(ctx context.Context, localPath, certificateID string) (string, error)
}

// New creates a Store from configuration. An unknown mode falls back to
// local storage with a warning rather than failing startup.
func New(cfg u.Config) (Store, error) {
	switch cfg.Storage.Mode {
	case "s3":
		return NewS3StoreFromConfig(cfg)
	case "local":
		return NewLocalStore(cfg.Storage.Dir)
	default:
		u.Warn("unsupported storage mode, defaulting to local", "mode", cfg.Storage.Mode)
		return NewLocalStore(cfg.Storage.Dir)
	}
}
