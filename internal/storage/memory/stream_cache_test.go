package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/storage"
)

func testStream(id string) *domain.Stream {
	return &domain.Stream{
		ID:           id,
		Sender:       "SenderAddr",
		Recipient:    "RecipientAddr",
		TokenAddress: "TokenAddr",
		TokenSymbol:  "USDT",
		Amount:       decimal.NewFromInt(1000),
		Streamed:     decimal.NewFromInt(100),
		Withdrawn:    decimal.Zero,
		StartTime:    1700000000,
		EndTime:      1700003600,
		Status:       domain.StatusActive,
	}
}

func TestStreamCacheStore_SetAndGet(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()
	id := strings.Repeat("ab", 32)

	entry := &storage.CacheEntry{
		Stream:    testStream(id),
		FetchedAt: 1704067200000,
	}

	if err := cache.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Stream.ID != id {
		t.Errorf("ID mismatch: got %s, want %s", got.Stream.ID, id)
	}
	if got.FetchedAt != 1704067200000 {
		t.Errorf("FetchedAt mismatch: got %d", got.FetchedAt)
	}
}

func TestStreamCacheStore_GetNotFound(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()

	_, err := cache.Get(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStreamCacheStore_OverwriteAndDelete(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()
	id := strings.Repeat("cd", 32)

	_ = cache.Set(ctx, &storage.CacheEntry{Stream: testStream(id), FetchedAt: 1000})
	_ = cache.Set(ctx, &storage.CacheEntry{Stream: testStream(id), FetchedAt: 2000})

	got, err := cache.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FetchedAt != 2000 {
		t.Errorf("expected overwritten FetchedAt 2000, got %d", got.FetchedAt)
	}

	if err := cache.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cache.Get(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent id is a no-op
	if err := cache.Delete(ctx, id); err != nil {
		t.Errorf("Delete of absent id should not fail: %v", err)
	}
}

func TestStreamCacheStore_CopyOnReadWrite(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()
	id := strings.Repeat("ef", 32)

	s := testStream(id)
	s.Milestones = []domain.Milestone{{Percentage: 50, Description: "half"}}
	_ = cache.Set(ctx, &storage.CacheEntry{Stream: s, FetchedAt: 1000})

	// Mutating the original after Set must not affect the cache
	s.Milestones[0].Released = true

	got, _ := cache.Get(ctx, id)
	if got.Stream.Milestones[0].Released {
		t.Error("cache must store a copy, not share the caller's slice")
	}

	// Mutating the returned copy must not affect the cache
	got.Stream.Streamed = decimal.NewFromInt(999)
	again, _ := cache.Get(ctx, id)
	if again.Stream.Streamed.Equal(decimal.NewFromInt(999)) {
		t.Error("cache must return a copy, not the stored pointer")
	}
}

func TestStreamCacheStore_InvalidInput(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()

	if err := cache.Set(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil entry, got %v", err)
	}
	if err := cache.Set(ctx, &storage.CacheEntry{Stream: &domain.Stream{}}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty id, got %v", err)
	}
}

func TestStreamCacheStore_IDs(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()

	id1 := strings.Repeat("01", 32)
	id2 := strings.Repeat("02", 32)
	_ = cache.Set(ctx, &storage.CacheEntry{Stream: testStream(id1), FetchedAt: 1})
	_ = cache.Set(ctx, &storage.CacheEntry{Stream: testStream(id2), FetchedAt: 2})

	ids, err := cache.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}
}

func TestStreamCacheStore_ConcurrentAccess(t *testing.T) {
	cache := NewStreamCacheStore()
	ctx := context.Background()
	id := strings.Repeat("aa", 32)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = cache.Set(ctx, &storage.CacheEntry{Stream: testStream(id), FetchedAt: int64(n)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = cache.Get(ctx, id)
		}()
	}
	wg.Wait()
}

func TestCacheEntry_FreshAt(t *testing.T) {
	now := time.Unix(1700000000, 0)
	entry := &storage.CacheEntry{FetchedAt: now.Add(-4 * time.Minute).UnixMilli()}

	if !entry.FreshAt(now, 5*time.Minute) {
		t.Error("entry 4m old with 5m TTL should be fresh")
	}
	if entry.FreshAt(now, 3*time.Minute) {
		t.Error("entry 4m old with 3m TTL should be stale")
	}
}
