package memory

import (
	"context"
	"sort"
	"sync"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/storage"
)

// StreamHistoryStore is an in-memory implementation of storage.StreamHistoryStore.
type StreamHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.StreamSnapshot // keyed by stream id
}

// NewStreamHistoryStore creates a new in-memory stream history store.
func NewStreamHistoryStore() *StreamHistoryStore {
	return &StreamHistoryStore{
		data: make(map[string][]*domain.StreamSnapshot),
	}
}

// AppendBulk adds multiple snapshots.
func (s *StreamHistoryStore) AppendBulk(_ context.Context, snapshots []*domain.StreamSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		if snap == nil || snap.StreamID == "" {
			return storage.ErrInvalidInput
		}
		snapCopy := *snap
		s.data[snap.StreamID] = append(s.data[snap.StreamID], &snapCopy)
	}
	return nil
}

// GetByStreamID retrieves all snapshots for a stream, ordered by observed_at ASC.
func (s *StreamHistoryStore) GetByStreamID(_ context.Context, streamID string) ([]*domain.StreamSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StreamSnapshot
	for _, snap := range s.data[streamID] {
		snapCopy := *snap
		result = append(result, &snapCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})

	return result, nil
}

// GetByTimeRange retrieves snapshots for a stream within [start, end] (inclusive, ms).
func (s *StreamHistoryStore) GetByTimeRange(_ context.Context, streamID string, start, end int64) ([]*domain.StreamSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StreamSnapshot
	for _, snap := range s.data[streamID] {
		if snap.ObservedAt >= start && snap.ObservedAt <= end {
			snapCopy := *snap
			result = append(result, &snapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.StreamHistoryStore = (*StreamHistoryStore)(nil)
