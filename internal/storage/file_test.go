package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tokbot/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("empty driver must return a nil store")
	}
}

func TestFileChatRoundtrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three"} {
		err := st.AppendChat(ctx, ChatEntry{
			At:        at.Add(time.Duration(i) * time.Second),
			ActorID:   "u1",
			ActorName: "User",
			Text:      text,
		})
		if err != nil {
			t.Fatalf("AppendChat: %v", err)
		}
	}

	got, err := st.RecentChat(ctx, 2)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentChat returned %d entries, want 2", len(got))
	}
	if got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("RecentChat = %v, want the last two in order", got)
	}
}

func TestFileCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	if _, ok, _ := st.GetCounter(ctx, "coins"); ok {
		t.Fatal("counter exists before any write")
	}
	if err := st.PutCounter(ctx, "coins", 420); err != nil {
		t.Fatalf("PutCounter: %v", err)
	}
	v, ok, err := st.GetCounter(ctx, "coins")
	if err != nil || !ok || v != 420 {
		t.Fatalf("GetCounter = (%d, %v, %v), want (420, true, nil)", v, ok, err)
	}
}

func TestFileGifts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	if err := st.UpsertGift(ctx, GiftRow{ID: 7, Name: "Rose", Diamonds: 1}); err != nil {
		t.Fatalf("UpsertGift: %v", err)
	}
	// Upsert replaces.
	if err := st.UpsertGift(ctx, GiftRow{ID: 7, Name: "Rose", Diamonds: 2}); err != nil {
		t.Fatalf("UpsertGift: %v", err)
	}
	g, ok, err := st.GetGift(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("GetGift = (%v, %v)", ok, err)
	}
	if g.Diamonds != 2 {
		t.Fatalf("Diamonds = %d, want upserted 2", g.Diamonds)
	}
}

func TestFileXPLeaderboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	if _, err := st.AddXP(ctx, "a", "Alice", 10); err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	if _, err := st.AddXP(ctx, "b", "Bob", 30); err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	total, err := st.AddXP(ctx, "a", "Alice", 5)
	if err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	if total != 15 {
		t.Fatalf("AddXP total = %d, want 15", total)
	}

	top, err := st.TopXP(ctx, 10)
	if err != nil {
		t.Fatalf("TopXP: %v", err)
	}
	if len(top) != 2 || top[0].ActorID != "b" || top[1].ActorID != "a" {
		t.Fatalf("TopXP = %v, want b then a", top)
	}
}

func TestFileStateSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	if err := st.PutCounter(ctx, "coins", 99); err != nil {
		t.Fatalf("PutCounter: %v", err)
	}
	if _, err := st.AddXP(ctx, "a", "Alice", 7); err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openTestStore(t, dir)
	defer st.Close()
	v, ok, _ := st.GetCounter(ctx, "coins")
	if !ok || v != 99 {
		t.Fatalf("counter after reopen = (%d, %v), want (99, true)", v, ok)
	}
	top, _ := st.TopXP(ctx, 1)
	if len(top) != 1 || top[0].XP != 7 {
		t.Fatalf("xp after reopen = %v, want Alice with 7", top)
	}
}

func TestFileCounterDurableWithoutClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	if err := st.PutCounter(ctx, "coins", 1234); err != nil {
		t.Fatalf("PutCounter: %v", err)
	}

	// Reopen over the same path without closing, as after a crash: the
	// counter must already be on disk, not waiting for Close.
	st2 := openTestStore(t, dir)
	v, ok, _ := st2.GetCounter(ctx, "coins")
	if !ok || v != 1234 {
		t.Fatalf("counter after crash = (%d, %v), want (1234, true)", v, ok)
	}
	_ = st2.Close()
	_ = st.Close()
}
