package postgres

import (
	"context"
	"fmt"

	"strapt-sync/internal/storage"
)

// ScanProgressStore implements storage.ScanProgressStore using PostgreSQL.
type ScanProgressStore struct {
	pool *Pool
}

// NewScanProgressStore creates a new ScanProgressStore.
func NewScanProgressStore(pool *Pool) *ScanProgressStore {
	return &ScanProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScanProgressStore = (*ScanProgressStore)(nil)

// Get retrieves the cursor for an account. Returns ErrNotFound if absent.
func (s *ScanProgressStore) Get(ctx context.Context, account string) (*storage.ScanProgress, error) {
	query := `
		SELECT account, block, updated_at
		FROM scan_progress
		WHERE account = $1
	`

	var p storage.ScanProgress
	err := s.pool.QueryRow(ctx, query, account).Scan(&p.Account, &p.Block, &p.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get scan progress: %w", err)
	}
	return &p, nil
}

// Set creates or overwrites the cursor for the progress' account.
func (s *ScanProgressStore) Set(ctx context.Context, progress *storage.ScanProgress) error {
	if progress == nil || progress.Account == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO scan_progress (account, block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE
		SET block = EXCLUDED.block, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, progress.Account, progress.Block, progress.UpdatedAt); err != nil {
		return fmt.Errorf("set scan progress: %w", err)
	}
	return nil
}
