package memory

import (
	"context"
	"errors"
	"testing"

	"strapt-sync/internal/storage"
)

func TestScanProgressStore_SetAndGet(t *testing.T) {
	store := NewScanProgressStore()
	ctx := context.Background()

	p := &storage.ScanProgress{
		Account:   "AccountAddr",
		Block:     12345,
		UpdatedAt: 1704067200000,
	}

	if err := store.Set(ctx, p); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "AccountAddr")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Block != 12345 {
		t.Errorf("Block mismatch: got %d, want 12345", got.Block)
	}
}

func TestScanProgressStore_NotFound(t *testing.T) {
	store := NewScanProgressStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestScanProgressStore_Overwrite(t *testing.T) {
	store := NewScanProgressStore()
	ctx := context.Background()

	_ = store.Set(ctx, &storage.ScanProgress{Account: "A", Block: 100})
	_ = store.Set(ctx, &storage.ScanProgress{Account: "A", Block: 200})

	got, err := store.Get(ctx, "A")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Block != 200 {
		t.Errorf("expected cursor advanced to 200, got %d", got.Block)
	}
}

func TestScanProgressStore_InvalidInput(t *testing.T) {
	store := NewScanProgressStore()
	ctx := context.Background()

	if err := store.Set(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Set(ctx, &storage.ScanProgress{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty account, got %v", err)
	}
}
