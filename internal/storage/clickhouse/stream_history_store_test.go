package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/storage"
)

func testSnapshot(id string, at int64, streamed int64) *domain.StreamSnapshot {
	return &domain.StreamSnapshot{
		StreamID:   id,
		Streamed:   decimal.NewFromInt(streamed),
		Withdrawn:  decimal.NewFromInt(streamed / 2),
		Status:     domain.StatusActive,
		Source:     domain.SnapshotRemote,
		ObservedAt: at,
	}
}

func TestStreamHistoryStore_AppendAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamHistoryStore(conn)
	ctx := context.Background()

	snaps := []*domain.StreamSnapshot{
		testSnapshot("s1", 3000, 30),
		testSnapshot("s1", 1000, 10),
		testSnapshot("s1", 2000, 20),
		testSnapshot("s2", 1500, 99),
	}

	require.NoError(t, store.AppendBulk(ctx, snaps))

	got, err := store.GetByStreamID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1000), got[0].ObservedAt)
	assert.Equal(t, int64(2000), got[1].ObservedAt)
	assert.Equal(t, int64(3000), got[2].ObservedAt)
	assert.True(t, got[0].Streamed.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, domain.StatusActive, got[0].Status)
	assert.Equal(t, domain.SnapshotRemote, got[0].Source)
}

func TestStreamHistoryStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamHistoryStore(conn)
	ctx := context.Background()

	require.NoError(t, store.AppendBulk(ctx, []*domain.StreamSnapshot{
		testSnapshot("s1", 1000, 10),
		testSnapshot("s1", 2000, 20),
		testSnapshot("s1", 3000, 30),
	}))

	got, err := store.GetByTimeRange(ctx, "s1", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1000), got[0].ObservedAt)
	assert.Equal(t, int64(2000), got[1].ObservedAt)
}

func TestStreamHistoryStore_EmptyBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamHistoryStore(conn)

	assert.NoError(t, store.AppendBulk(context.Background(), nil))
}

func TestStreamHistoryStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamHistoryStore(conn)
	ctx := context.Background()

	err := store.AppendBulk(ctx, []*domain.StreamSnapshot{{StreamID: ""}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStreamHistoryStore_MissingStream(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStreamHistoryStore(conn)

	got, err := store.GetByStreamID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}
