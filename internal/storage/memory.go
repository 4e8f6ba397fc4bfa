package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/oazlabs/photoflow/internal/domain"
)

// MemoryStorage is an in-memory ObjectStorage for tests and local
// development. Not durable; everything is lost on process exit.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailNext makes the next n Download calls return a transient error.
	// Test hook for retry behavior.
	failMu   sync.Mutex
	failNext map[string]int
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects:  make(map[string][]byte),
		failNext: make(map[string]int),
	}
}

// FailDownloads makes the next n Download calls for key fail.
func (m *MemoryStorage) FailDownloads(key string, n int) {
	m.failMu.Lock()
	m.failNext[key] = n
	m.failMu.Unlock()
}

func (m *MemoryStorage) shouldFail(key string) bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if m.failNext[key] > 0 {
		m.failNext[key]--
		return true
	}
	return false
}

// Upload stores an object.
func (m *MemoryStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

// Download opens an object for reading.
func (m *MemoryStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.shouldFail(key) {
		return nil, fmt.Errorf("injected download failure for %s", key)
	}
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetURL returns a synthetic URL for an object.
func (m *MemoryStorage) GetURL(key string) string {
	return "memory://" + key
}

// Delete removes an object.
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Exists checks if an object exists.
func (m *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
