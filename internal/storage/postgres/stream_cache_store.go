package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/storage"
)

// StreamCacheStore implements storage.StreamCacheStore using PostgreSQL.
// The reconciled record is stored as a JSONB payload so the cache survives
// restarts without a schema change per domain field.
type StreamCacheStore struct {
	pool *Pool
}

// NewStreamCacheStore creates a new StreamCacheStore.
func NewStreamCacheStore(pool *Pool) *StreamCacheStore {
	return &StreamCacheStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StreamCacheStore = (*StreamCacheStore)(nil)

// Get retrieves the cache entry for a stream id. Returns ErrNotFound if absent.
func (s *StreamCacheStore) Get(ctx context.Context, id string) (*storage.CacheEntry, error) {
	query := `
		SELECT payload, fetched_at
		FROM stream_cache
		WHERE stream_id = $1
	`

	var payload []byte
	var fetchedAt int64

	err := s.pool.QueryRow(ctx, query, id).Scan(&payload, &fetchedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stream cache entry: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal(payload, &stream); err != nil {
		return nil, fmt.Errorf("unmarshal cached stream: %w", err)
	}

	return &storage.CacheEntry{
		Stream:    &stream,
		FetchedAt: fetchedAt,
	}, nil
}

// Set creates or overwrites the entry for the stream's id.
func (s *StreamCacheStore) Set(ctx context.Context, entry *storage.CacheEntry) error {
	if entry == nil || entry.Stream == nil || entry.Stream.ID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(entry.Stream)
	if err != nil {
		return fmt.Errorf("marshal stream: %w", err)
	}

	query := `
		INSERT INTO stream_cache (stream_id, payload, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_id) DO UPDATE
		SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at
	`

	if _, err := s.pool.Exec(ctx, query, entry.Stream.ID, payload, entry.FetchedAt); err != nil {
		return fmt.Errorf("set stream cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for a stream id. Deleting an absent id is a no-op.
func (s *StreamCacheStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM stream_cache WHERE stream_id = $1`

	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete stream cache entry: %w", err)
	}
	return nil
}

// IDs retrieves all cached stream ids.
func (s *StreamCacheStore) IDs(ctx context.Context) ([]string, error) {
	query := `SELECT stream_id FROM stream_cache ORDER BY stream_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stream cache ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream cache id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream cache ids: %w", err)
	}
	return ids, nil
}
