package storage

import (
	"context"
	"time"

	"strapt-sync/internal/domain"
)

// CacheEntry is a cached reconciled stream record.
type CacheEntry struct {
	Stream    *domain.Stream
	FetchedAt int64 // Unix timestamp in milliseconds
}

// FreshAt reports whether the entry is within ttl of now.
// Callers evaluate freshness; the cache never self-expires.
func (e *CacheEntry) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-e.FetchedAt < ttl.Milliseconds()
}

// StreamCacheStore provides access to the last-known reconciled stream records.
// Entries are overwritten on every successful fetch, deleted after mutations,
// and consulted even when stale as a last-resort fallback on remote failure.
type StreamCacheStore interface {
	// Get retrieves the cache entry for a stream id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*CacheEntry, error)

	// Set creates or overwrites the entry for the stream's id.
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes the entry for a stream id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// IDs retrieves all cached stream ids.
	IDs(ctx context.Context) ([]string, error)
}

// ScanProgress is the per-account discovery cursor: the highest block whose
// creation events have already been scanned.
type ScanProgress struct {
	Account   string
	Block     int64
	UpdatedAt int64 // Unix timestamp in milliseconds
}

// ScanProgressStore persists discovery cursors so restarts resume chunked
// creation-log scans instead of rescanning from genesis.
type ScanProgressStore interface {
	// Get retrieves the cursor for an account. Returns ErrNotFound if absent.
	Get(ctx context.Context, account string) (*ScanProgress, error)

	// Set creates or overwrites the cursor for the progress' account.
	Set(ctx context.Context, progress *ScanProgress) error
}

// StreamHistoryStore provides access to append-only reconciliation snapshots.
type StreamHistoryStore interface {
	// AppendBulk adds multiple snapshots.
	AppendBulk(ctx context.Context, snapshots []*domain.StreamSnapshot) error

	// GetByStreamID retrieves all snapshots for a stream, ordered by observed_at ASC.
	GetByStreamID(ctx context.Context, streamID string) ([]*domain.StreamSnapshot, error)

	// GetByTimeRange retrieves snapshots for a stream within [start, end] (inclusive, ms).
	GetByTimeRange(ctx context.Context, streamID string, start, end int64) ([]*domain.StreamSnapshot, error)
}
