package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strapt-sync/internal/storage"
)

func TestScanProgressStore_SetAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewScanProgressStore(pool)
	ctx := context.Background()

	progress := &storage.ScanProgress{
		Account:   "user-address",
		Block:     123456,
		UpdatedAt: 1700000000000,
	}

	require.NoError(t, store.Set(ctx, progress))

	got, err := store.Get(ctx, "user-address")
	require.NoError(t, err)

	assert.Equal(t, progress.Account, got.Account)
	assert.Equal(t, progress.Block, got.Block)
	assert.Equal(t, progress.UpdatedAt, got.UpdatedAt)
}

func TestScanProgressStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewScanProgressStore(pool)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScanProgressStore_AdvanceCursor(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewScanProgressStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &storage.ScanProgress{
		Account: "user-address", Block: 100, UpdatedAt: 1000,
	}))
	require.NoError(t, store.Set(ctx, &storage.ScanProgress{
		Account: "user-address", Block: 200, UpdatedAt: 2000,
	}))

	got, err := store.Get(ctx, "user-address")
	require.NoError(t, err)

	assert.Equal(t, int64(200), got.Block)
	assert.Equal(t, int64(2000), got.UpdatedAt)
}

func TestScanProgressStore_SetInvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewScanProgressStore(pool)
	ctx := context.Background()

	assert.ErrorIs(t, store.Set(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Set(ctx, &storage.ScanProgress{}), storage.ErrInvalidInput)
}
