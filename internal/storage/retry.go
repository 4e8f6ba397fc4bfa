package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/logger"
)

// RetryStorage wraps an ObjectStorage and retries transient failures with
// linear backoff. Uploads are not retried when the reader cannot be
// rewound, so callers that want upload retries should pass an io.ReadSeeker.
type RetryStorage struct {
	inner      ObjectStorage
	maxRetries int
	delay      time.Duration
}

// NewRetryStorage wraps inner with retry behavior.
// Parameters:
//   - inner: storage implementation to wrap.
//   - maxRetries: attempts per operation; values < 1 are clamped to 1.
//   - delay: base backoff, multiplied by the attempt number.
// Returns:
//   - *RetryStorage: wrapping storage.
func NewRetryStorage(inner ObjectStorage, maxRetries int, delay time.Duration) *RetryStorage {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RetryStorage{inner: inner, maxRetries: maxRetries, delay: delay}
}

// retry runs op up to maxRetries times, backing off between attempts.
// NotFound and context errors are never retried.
func (r *RetryStorage) retry(ctx context.Context, name string, op func() error) error {
	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt < r.maxRetries {
			logger.FromContext(ctx).WithError(err).WithFields(logger.Fields{
				"operation": name,
				"attempt":   attempt,
			}).Warn("Storage operation failed, retrying")

			select {
			case <-time.After(r.delay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return domain.Transient(err)
}

// Upload streams an object, retrying only when the reader is rewindable.
func (r *RetryStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	seeker, rewindable := reader.(io.ReadSeeker)
	if !rewindable {
		if err := r.inner.Upload(ctx, key, reader, size, contentType); err != nil {
			return domain.Transient(err)
		}
		return nil
	}

	return r.retry(ctx, "upload", func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return r.inner.Upload(ctx, key, seeker, size, contentType)
	})
}

// Download opens an object for reading, retrying transient failures.
func (r *RetryStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.retry(ctx, "download", func() error {
		var opErr error
		rc, opErr = r.inner.Download(ctx, key)
		return opErr
	})
	return rc, err
}

// GetURL returns the public URL for accessing an object.
func (r *RetryStorage) GetURL(key string) string {
	return r.inner.GetURL(key)
}

// Delete removes an object, retrying transient failures.
func (r *RetryStorage) Delete(ctx context.Context, key string) error {
	return r.retry(ctx, "delete", func() error {
		return r.inner.Delete(ctx, key)
	})
}

// Exists checks object existence, retrying transient failures.
func (r *RetryStorage) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.retry(ctx, "exists", func() error {
		var opErr error
		ok, opErr = r.inner.Exists(ctx, key)
		return opErr
	})
	return ok, err
}
