package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"tokbot/internal/live"
	"tokbot/internal/storage"
	logx "tokbot/pkg/logx"
)

func TestCatalogMemoryOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(nil, logx.Nop())

	if _, ok := c.Lookup(ctx, 7); ok {
		t.Fatal("empty catalog resolved a gift")
	}

	c.Learn(ctx, live.GiftInfo{ID: 7, Name: "Rose", Diamonds: 1})
	info, ok := c.Lookup(ctx, 7)
	if !ok || info.Name != "Rose" || info.Diamonds != 1 {
		t.Fatalf("Lookup = (%+v, %v), want learned Rose", info, ok)
	}
	if c.Size() != 1 {
		t.Fatalf("Size = %d, want 1", c.Size())
	}
}

func TestCatalogRejectsIncompleteEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(nil, logx.Nop())

	c.Learn(ctx, live.GiftInfo{ID: 0, Name: "NoID"})
	c.Learn(ctx, live.GiftInfo{ID: 5, Name: "   "})
	if c.Size() != 0 {
		t.Fatalf("Size = %d, want incomplete entries rejected", c.Size())
	}
	if _, ok := c.Lookup(ctx, 0); ok {
		t.Fatal("non-positive id resolved")
	}
}

func TestCatalogReadsThroughStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "store"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	// Seed the store directly; a fresh catalog must find it.
	if err := st.UpsertGift(ctx, storage.GiftRow{ID: 9, Name: "Lion", Diamonds: 2999}); err != nil {
		t.Fatalf("UpsertGift: %v", err)
	}

	c := New(st, logx.Nop())
	info, ok := c.Lookup(ctx, 9)
	if !ok || info.Name != "Lion" {
		t.Fatalf("Lookup = (%+v, %v), want store hit", info, ok)
	}
	// Store hit is now cached.
	if c.Size() != 1 {
		t.Fatalf("Size = %d, want cached store hit", c.Size())
	}
}

func TestCatalogLearnPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "store"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	c := New(st, logx.Nop())
	c.Learn(ctx, live.GiftInfo{ID: 7, Name: "Rose", Diamonds: 1})

	row, ok, err := st.GetGift(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("GetGift = (%v, %v), want persisted row", ok, err)
	}
	if row.Name != "Rose" || row.Diamonds != 1 {
		t.Fatalf("row = %+v", row)
	}
}
