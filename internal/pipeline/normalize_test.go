package pipeline

import (
	"context"
	"testing"

	"tokbot/internal/live"
	logx "tokbot/pkg/logx"
)

// memCatalog is a GiftCatalog backed by a plain map.
type memCatalog struct {
	entries map[int64]live.GiftInfo
	learned []live.GiftInfo
}

func newMemCatalog() *memCatalog {
	return &memCatalog{entries: map[int64]live.GiftInfo{}}
}

func (c *memCatalog) Lookup(_ context.Context, giftID int64) (live.GiftInfo, bool) {
	info, ok := c.entries[giftID]
	return info, ok
}

func (c *memCatalog) Learn(_ context.Context, info live.GiftInfo) {
	c.entries[info.ID] = info
	c.learned = append(c.learned, info)
}

func TestNormalizeChat(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil, logx.Nop(), fixedNow)

	tests := []struct {
		name     string
		data     live.RawEvent
		wantText string
	}{
		{
			name:     "message field",
			data:     live.RawEvent{"userId": "u1", "message": "hi"},
			wantText: "hi",
		},
		{
			name:     "comment fallback",
			data:     live.RawEvent{"userId": "u1", "comment": "hello"},
			wantText: "hello",
		},
		{
			name:     "message wins over comment",
			data:     live.RawEvent{"userId": "u1", "message": "a", "comment": "b"},
			wantText: "a",
		},
		{
			name:     "no text at all",
			data:     live.RawEvent{"userId": "u1"},
			wantText: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ev := n.Normalize(context.Background(), live.KindChat, tt.data)
			if ev.Chat == nil {
				t.Fatal("chat section missing")
			}
			if ev.Chat.Text != tt.wantText {
				t.Fatalf("Text = %q, want %q", ev.Chat.Text, tt.wantText)
			}
			if ev.ID == "" {
				t.Fatal("event ID not set")
			}
		})
	}
}

func TestNormalizeActorIdentity(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil, logx.Nop(), fixedNow)

	ev := n.Normalize(context.Background(), live.KindFollow,
		live.RawEvent{"uniqueId": "uniq", "nickname": "Nick"})
	if ev.ActorID != "uniq" {
		t.Fatalf("ActorID = %q, want uniq", ev.ActorID)
	}
	if ev.ActorName != "Nick" {
		t.Fatalf("ActorName = %q, want Nick", ev.ActorName)
	}

	// Name falls back to the id when no display name exists.
	ev = n.Normalize(context.Background(), live.KindFollow, live.RawEvent{"userId": "u7"})
	if ev.ActorName != "u7" {
		t.Fatalf("ActorName = %q, want fallback to ActorID", ev.ActorName)
	}
}

func TestNormalizeGiftNameResolution(t *testing.T) {
	t.Parallel()

	t.Run("payload name wins", func(t *testing.T) {
		cat := newMemCatalog()
		cat.entries[7] = live.GiftInfo{ID: 7, Name: "CatalogName", Diamonds: 5}
		n := NewNormalizer(cat, logx.Nop(), fixedNow)

		ev := n.Normalize(context.Background(), live.KindGift,
			live.RawEvent{"userId": "u1", "giftId": float64(7), "giftName": "Rose", "diamondCount": float64(1)})
		if ev.Gift.GiftName != "Rose" {
			t.Fatalf("GiftName = %q, want Rose", ev.Gift.GiftName)
		}
	})

	t.Run("catalog second", func(t *testing.T) {
		cat := newMemCatalog()
		cat.entries[7] = live.GiftInfo{ID: 7, Name: "Rose", Diamonds: 1}
		n := NewNormalizer(cat, logx.Nop(), fixedNow)

		ev := n.Normalize(context.Background(), live.KindGift,
			live.RawEvent{"userId": "u1", "giftId": float64(7)})
		if ev.Gift.GiftName != "Rose" {
			t.Fatalf("GiftName = %q, want Rose from catalog", ev.Gift.GiftName)
		}
		// Catalog diamonds fill in when the payload had none.
		if ev.Gift.DiamondsPerUnit != 1 {
			t.Fatalf("DiamondsPerUnit = %d, want 1 from catalog", ev.Gift.DiamondsPerUnit)
		}
	})

	t.Run("bare fallback last", func(t *testing.T) {
		n := NewNormalizer(newMemCatalog(), logx.Nop(), fixedNow)

		ev := n.Normalize(context.Background(), live.KindGift,
			live.RawEvent{"userId": "u1", "giftId": float64(99)})
		if ev.Gift.GiftName != "Gift" {
			t.Fatalf("GiftName = %q, want bare fallback", ev.Gift.GiftName)
		}
	})

	t.Run("fully described events teach the catalog", func(t *testing.T) {
		cat := newMemCatalog()
		n := NewNormalizer(cat, logx.Nop(), fixedNow)

		n.Normalize(context.Background(), live.KindGift,
			live.RawEvent{"userId": "u1", "giftId": float64(7), "giftName": "Rose", "diamondCount": float64(1)})
		if len(cat.learned) != 1 {
			t.Fatalf("learned %d entries, want 1", len(cat.learned))
		}

		// A later sparse event resolves through what was learned.
		ev := n.Normalize(context.Background(), live.KindGift,
			live.RawEvent{"userId": "u2", "giftId": float64(7)})
		if ev.Gift.GiftName != "Rose" {
			t.Fatalf("GiftName = %q, want learned Rose", ev.Gift.GiftName)
		}
	})
}

func TestNormalizeGiftCoins(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil, logx.Nop(), fixedNow)

	tests := []struct {
		name          string
		data          live.RawEvent
		wantCoins     int64
		wantCountable bool
	}{
		{
			name:          "repeat defaults to one",
			data:          live.RawEvent{"giftId": float64(1), "diamondCount": float64(10)},
			wantCoins:     20,
			wantCountable: true,
		},
		{
			name:          "repeat multiplies",
			data:          live.RawEvent{"giftId": float64(1), "diamondCount": float64(5), "repeatCount": float64(10)},
			wantCoins:     100,
			wantCountable: true,
		},
		{
			name:          "streak in flight is not countable",
			data:          live.RawEvent{"giftId": float64(1), "diamondCount": float64(5), "repeatCount": float64(3), "giftType": float64(1)},
			wantCoins:     30,
			wantCountable: false,
		},
		{
			name:          "streak end is countable",
			data:          live.RawEvent{"giftId": float64(1), "diamondCount": float64(5), "repeatCount": float64(3), "giftType": float64(1), "repeatEnd": true},
			wantCoins:     30,
			wantCountable: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ev := n.Normalize(context.Background(), live.KindGift, tt.data)
			if ev.Gift.Coins != tt.wantCoins {
				t.Fatalf("Coins = %d, want %d", ev.Gift.Coins, tt.wantCoins)
			}
			if ev.Gift.Countable != tt.wantCountable {
				t.Fatalf("Countable = %v, want %v", ev.Gift.Countable, tt.wantCountable)
			}
		})
	}
}

func TestNormalizeLikeDefaultsToOne(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil, logx.Nop(), fixedNow)

	ev := n.Normalize(context.Background(), live.KindLike, live.RawEvent{"userId": "u1"})
	if ev.Like == nil || ev.Like.Count != 1 {
		t.Fatalf("Like = %+v, want count 1", ev.Like)
	}

	ev = n.Normalize(context.Background(), live.KindLike,
		live.RawEvent{"userId": "u1", "likeCount": float64(15)})
	if ev.Like.Count != 15 {
		t.Fatalf("Count = %d, want 15", ev.Like.Count)
	}
}

func TestNormalizeUnknownKindPassesThrough(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil, logx.Nop(), fixedNow)

	ev := n.Normalize(context.Background(), live.Kind("emote"),
		live.RawEvent{"userId": "u1", "emoteId": "wave"})
	if ev.Kind != live.KindUnknown {
		t.Fatalf("Kind = %q, want unknown", ev.Kind)
	}
	if ev.ActorID != "u1" {
		t.Fatalf("ActorID = %q, want u1", ev.ActorID)
	}
	if ev.Residual["emoteId"] != "wave" {
		t.Fatalf("Residual = %v, want emoteId kept", ev.Residual)
	}
}

func TestNormalizeResidual(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil, logx.Nop(), fixedNow)

	ev := n.Normalize(context.Background(), live.KindChat,
		live.RawEvent{"userId": "u1", "message": "hi", "roomBadge": "vip"})
	if _, ok := ev.Residual["message"]; ok {
		t.Fatal("consumed field leaked into residual")
	}
	if ev.Residual["roomBadge"] != "vip" {
		t.Fatalf("Residual = %v, want roomBadge kept", ev.Residual)
	}
}
