package storage

import (
	"context"
	"io"
)

// ObjectStorage is the durable blob store behind the pipeline. Keys are
// opaque strings; once Upload returns, the key must remain valid across
// process restarts so that a restarted coordinator can resume from it.
type ObjectStorage interface {
	// Upload streams an object to storage. size may be -1 when unknown;
	// implementations must not buffer the whole stream in memory.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading. Returns domain.ErrNotFound if
	// the key does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL for accessing an object.
	GetURL(key string) string

	// Delete removes an object from storage.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}
