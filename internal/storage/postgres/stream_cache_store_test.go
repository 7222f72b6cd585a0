package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/storage"
)

func testStream(id string) *domain.Stream {
	return &domain.Stream{
		ID:           id,
		Sender:       "sender-address",
		Recipient:    "recipient-address",
		TokenAddress: "token-address",
		TokenSymbol:  "USDT",
		Amount:       decimal.NewFromInt(1000),
		Streamed:     decimal.NewFromInt(250),
		Withdrawn:    decimal.NewFromInt(100),
		StartTime:    1700000000,
		EndTime:      1700086400,
		Status:       domain.StatusActive,
		Milestones: []domain.Milestone{
			{Percentage: 25, Description: "first quarter", Released: true},
			{Percentage: 50, Description: "halfway", Released: false},
		},
	}
}

func TestStreamCacheStore_SetAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamCacheStore(pool)
	ctx := context.Background()

	entry := &storage.CacheEntry{
		Stream:    testStream("aa11"),
		FetchedAt: time.Now().UnixMilli(),
	}

	err := store.Set(ctx, entry)
	require.NoError(t, err)

	got, err := store.Get(ctx, "aa11")
	require.NoError(t, err)
	require.NotNil(t, got.Stream)

	assert.Equal(t, entry.Stream.ID, got.Stream.ID)
	assert.Equal(t, entry.Stream.Sender, got.Stream.Sender)
	assert.Equal(t, entry.Stream.Status, got.Stream.Status)
	assert.True(t, entry.Stream.Streamed.Equal(got.Stream.Streamed))
	assert.True(t, entry.Stream.Withdrawn.Equal(got.Stream.Withdrawn))
	assert.Equal(t, entry.FetchedAt, got.FetchedAt)
	assert.Len(t, got.Stream.Milestones, 2)
	assert.True(t, got.Stream.Milestones[0].Released)
}

func TestStreamCacheStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamCacheStore(pool)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStreamCacheStore_Overwrite(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamCacheStore(pool)
	ctx := context.Background()

	first := &storage.CacheEntry{Stream: testStream("bb22"), FetchedAt: 1000}
	require.NoError(t, store.Set(ctx, first))

	updated := testStream("bb22")
	updated.Streamed = decimal.NewFromInt(500)
	updated.Status = domain.StatusPaused
	second := &storage.CacheEntry{Stream: updated, FetchedAt: 2000}
	require.NoError(t, store.Set(ctx, second))

	got, err := store.Get(ctx, "bb22")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaused, got.Stream.Status)
	assert.True(t, got.Stream.Streamed.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(2000), got.FetchedAt)
}

func TestStreamCacheStore_Delete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamCacheStore(pool)
	ctx := context.Background()

	entry := &storage.CacheEntry{Stream: testStream("cc33"), FetchedAt: 1000}
	require.NoError(t, store.Set(ctx, entry))

	require.NoError(t, store.Delete(ctx, "cc33"))

	_, err := store.Get(ctx, "cc33")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting an absent id is a no-op.
	assert.NoError(t, store.Delete(ctx, "cc33"))
}

func TestStreamCacheStore_IDs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamCacheStore(pool)
	ctx := context.Background()

	for _, id := range []string{"b2", "a1", "c3"} {
		entry := &storage.CacheEntry{Stream: testStream(id), FetchedAt: 1000}
		require.NoError(t, store.Set(ctx, entry))
	}

	ids, err := store.IDs(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "b2", "c3"}, ids)
}

func TestStreamCacheStore_SetInvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamCacheStore(pool)
	ctx := context.Background()

	assert.ErrorIs(t, store.Set(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Set(ctx, &storage.CacheEntry{}), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Set(ctx, &storage.CacheEntry{Stream: &domain.Stream{}}), storage.ErrInvalidInput)
}
