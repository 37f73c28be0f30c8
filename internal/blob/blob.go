// Package blob stores generated documents (resumes, cover letters) by key.
//
// Two backends exist: a Google Cloud Storage bucket for deployments and a
// local directory for development and tests. Deleting a missing object is
// not an error, so document cleanup can be retried safely.
package blob

import (
	"context"
	"io"
	"strings"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
)

// Store is the minimal object-store surface the orchestrator needs
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. A missing object counts as deleted.
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds the backend selected by cfg
func New(ctx context.Context, cfg am.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalDir)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket)
	default:
		return nil, errors.NewInvalidRequestError("unknown storage backend %q", cfg.Backend)
	}
}

func validKey(key string) error {
	if key == "" {
		return errors.NewInvalidRequestError("empty storage key")
	}
	if strings.HasPrefix(key, "/") {
		return errors.NewInvalidRequestError("storage key %q must be relative", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return errors.NewInvalidRequestError("storage key %q escapes the store", key)
		}
	}
	return nil
}
