package memory

import (
	"context"
	"sync"

	"strapt-sync/internal/storage"
)

// StreamCacheStore is an in-memory implementation of storage.StreamCacheStore.
type StreamCacheStore struct {
	mu   sync.RWMutex
	data map[string]*storage.CacheEntry // keyed by stream id
}

// NewStreamCacheStore creates a new in-memory stream cache.
func NewStreamCacheStore() *StreamCacheStore {
	return &StreamCacheStore{
		data: make(map[string]*storage.CacheEntry),
	}
}

// Get retrieves the cache entry for a stream id. Returns ErrNotFound if absent.
func (s *StreamCacheStore) Get(_ context.Context, id string) (*storage.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	// Return a copy to prevent external mutation
	entryCopy := storage.CacheEntry{
		Stream:    e.Stream.Clone(),
		FetchedAt: e.FetchedAt,
	}
	return &entryCopy, nil
}

// Set creates or overwrites the entry for the stream's id.
func (s *StreamCacheStore) Set(_ context.Context, entry *storage.CacheEntry) error {
	if entry == nil || entry.Stream == nil || entry.Stream.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[entry.Stream.ID] = &storage.CacheEntry{
		Stream:    entry.Stream.Clone(),
		FetchedAt: entry.FetchedAt,
	}
	return nil
}

// Delete removes the entry for a stream id.
func (s *StreamCacheStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// IDs retrieves all cached stream ids.
func (s *StreamCacheStore) IDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

// Verify interface compliance at compile time.
var _ storage.StreamCacheStore = (*StreamCacheStore)(nil)
