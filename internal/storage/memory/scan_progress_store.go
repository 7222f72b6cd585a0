package memory

import (
	"context"
	"sync"

	"strapt-sync/internal/storage"
)

// ScanProgressStore is an in-memory implementation of storage.ScanProgressStore.
type ScanProgressStore struct {
	mu   sync.RWMutex
	data map[string]*storage.ScanProgress // keyed by account
}

// NewScanProgressStore creates a new in-memory scan progress store.
func NewScanProgressStore() *ScanProgressStore {
	return &ScanProgressStore{
		data: make(map[string]*storage.ScanProgress),
	}
}

// Get retrieves the cursor for an account. Returns ErrNotFound if absent.
func (s *ScanProgressStore) Get(_ context.Context, account string) (*storage.ScanProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[account]
	if !exists {
		return nil, storage.ErrNotFound
	}

	progressCopy := *p
	return &progressCopy, nil
}

// Set creates or overwrites the cursor for the progress' account.
func (s *ScanProgressStore) Set(_ context.Context, progress *storage.ScanProgress) error {
	if progress == nil || progress.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	progressCopy := *progress
	s.data[progress.Account] = &progressCopy
	return nil
}

// Verify interface compliance at compile time.
var _ storage.ScanProgressStore = (*ScanProgressStore)(nil)
