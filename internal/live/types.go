package live

// Kind identifies which normalization and dedup rules apply to an event.
type Kind string

const (
	KindChat      Kind = "chat"
	KindGift      Kind = "gift"
	KindFollow    Kind = "follow"
	KindShare     Kind = "share"
	KindSubscribe Kind = "subscribe"
	KindLike      Kind = "like"
	KindJoin      Kind = "join"

	// KindUnknown tags events whose kind the gateway sent but we don't
	// recognize. They are passed through with identity fields only rather
	// than dropped silently.
	KindUnknown Kind = "unknown"
)

// Kinds lists every recognized kind, in a stable order.
func Kinds() []Kind {
	return []Kind{KindChat, KindGift, KindFollow, KindShare, KindSubscribe, KindLike, KindJoin}
}

// Known reports whether k is one of the recognized kinds.
func Known(k Kind) bool {
	switch k {
	case KindChat, KindGift, KindFollow, KindShare, KindSubscribe, KindLike, KindJoin:
		return true
	}
	return false
}

// GiftType values as delivered by the gateway. Streakable gifts arrive as a
// series of deliveries sharing a growing repeat count; only the terminal
// delivery (RepeatEnded) represents the completed combo.
const (
	GiftTypeDefault    int64 = 0
	GiftTypeStreakable int64 = 1
)

// Event is the canonical, fully resolved record handed to consumers.
// Exactly one of the kind-specific sections is set, matching Kind.
type Event struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	ActorID     string `json:"actor_id"`
	ActorName   string `json:"actor_name"`
	TimestampMS int64  `json:"timestamp_ms"`

	Chat *ChatEvent `json:"chat,omitempty"`
	Gift *GiftEvent `json:"gift,omitempty"`
	Like *LikeEvent `json:"like,omitempty"`

	// Residual carries raw fields that normalization did not consume.
	// Forward-compatibility escape hatch for consumers; never required.
	Residual RawEvent `json:"residual,omitempty"`
}

type ChatEvent struct {
	Text string `json:"text"`
}

type GiftEvent struct {
	GiftID          int64  `json:"gift_id"`
	GiftName        string `json:"gift_name"`
	DiamondsPerUnit int64  `json:"diamonds_per_unit"`
	RepeatCount     int64  `json:"repeat_count"`
	RepeatEnded     bool   `json:"repeat_ended"`
	Streakable      bool   `json:"streakable"`

	// Coins is the derived monetary value of this delivery.
	Coins int64 `json:"coins"`

	// Countable marks the single delivery per combo that accumulating
	// consumers (coin totals, goals) should add. Intermediate streak
	// deliveries carry Coins but Countable=false.
	Countable bool `json:"countable"`
}

type LikeEvent struct {
	Count int64 `json:"count"`
}

// GiftInfo is a gift catalog row: known metadata for a gift id, used as
// the second tier of gift name resolution.
type GiftInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Diamonds int64  `json:"diamonds"`
}
