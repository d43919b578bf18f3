package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokbot/internal/live"
	logx "tokbot/pkg/logx"
)

// giftNameFallback is shown when neither the payload nor the catalog
// can name a gift.
const giftNameFallback = "Gift"

// GiftCatalog is the external collaborator used as the second tier of
// gift name resolution.
type GiftCatalog interface {
	Lookup(ctx context.Context, giftID int64) (live.GiftInfo, bool)
	// Learn records metadata observed on fully-named gift events so later
	// sparse events for the same gift id resolve.
	Learn(ctx context.Context, info live.GiftInfo)
}

// Normalizer converts a RawEvent of a given kind into a canonical Event,
// resolving the upstream source's inconsistent field naming through
// ordered fallback chains. It never fails: every field has a defined
// fallback, and unrecognized kinds pass through with identity only.
//
// Not safe for concurrent use; the pipeline serializes events per room.
type Normalizer struct {
	catalog GiftCatalog
	log     logx.Logger
	now     func() time.Time

	// missingActor counts consecutive events per kind with no recognized
	// identity field. A persistent pattern is a diagnostic signal (likely
	// an SDK field rename), surfaced as a warning, never an error.
	missingActor map[live.Kind]int
}

const missingActorWarnEvery = 50

func NewNormalizer(catalog GiftCatalog, log logx.Logger, now func() time.Time) *Normalizer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		catalog:      catalog,
		log:          log,
		now:          now,
		missingActor: map[live.Kind]int{},
	}
}

// Normalize builds the canonical event. The returned event always has ID,
// Kind, actor identity (possibly empty) and TimestampMS set.
func (n *Normalizer) Normalize(ctx context.Context, kind live.Kind, data live.RawEvent) *live.Event {
	ev := &live.Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		TimestampMS: EventTimestampMS(data, n.now),
	}

	ev.ActorID, _ = data.FirstString(actorIDKeys...)
	ev.ActorName, _ = data.FirstString(actorNameKeys...)
	if ev.ActorName == "" {
		ev.ActorName = ev.ActorID
	}
	n.trackActor(kind, ev.ActorID)

	consumed := make([]string, 0, 12)
	consumed = append(consumed, actorIDKeys...)
	consumed = append(consumed, actorNameKeys...)
	consumed = append(consumed, timestampKeys...)

	switch kind {
	case live.KindChat:
		text, _ := data.FirstString(chatTextKeys...)
		ev.Chat = &live.ChatEvent{Text: text}
		consumed = append(consumed, chatTextKeys...)
	case live.KindGift:
		ev.Gift = n.normalizeGift(ctx, data)
		consumed = append(consumed, giftIDKeys...)
		consumed = append(consumed, giftNameKeys...)
		consumed = append(consumed, diamondKeys...)
		consumed = append(consumed, repeatKeys...)
		consumed = append(consumed, repeatEndKeys...)
		consumed = append(consumed, giftTypeKeys...)
	case live.KindLike:
		count, ok := data.FirstInt(likeCountKeys...)
		if !ok || count <= 0 {
			// At least one like occurred, or we wouldn't have the event.
			count = 1
		}
		ev.Like = &live.LikeEvent{Count: count}
		consumed = append(consumed, likeCountKeys...)
	case live.KindFollow, live.KindShare, live.KindSubscribe, live.KindJoin:
		// Identity and timestamp are the whole payload.
	default:
		ev.Kind = live.KindUnknown
	}

	ev.Residual = data.Without(consumed...)
	return ev
}

func (n *Normalizer) normalizeGift(ctx context.Context, data live.RawEvent) *live.GiftEvent {
	g := &live.GiftEvent{}
	g.GiftID, _ = data.FirstInt(giftIDKeys...)

	diamonds, haveDiamonds := data.FirstInt(diamondKeys...)

	g.RepeatCount, _ = data.FirstInt(repeatKeys...)
	if g.RepeatCount <= 0 {
		g.RepeatCount = 1
	}
	g.RepeatEnded, _ = data.FirstBool(repeatEndKeys...)
	giftType, _ := data.FirstInt(giftTypeKeys...)
	g.Streakable = giftType == live.GiftTypeStreakable

	// Name resolution, three tiers: payload, catalog, bare fallback.
	name, haveName := data.FirstString(giftNameKeys...)
	if haveName {
		g.GiftName = name
	} else if n.catalog != nil {
		if info, ok := n.catalog.Lookup(ctx, g.GiftID); ok {
			g.GiftName = info.Name
			if !haveDiamonds {
				diamonds, haveDiamonds = info.Diamonds, info.Diamonds > 0
			}
		}
	}
	if strings.TrimSpace(g.GiftName) == "" {
		g.GiftName = giftNameFallback
	}

	if haveDiamonds && diamonds > 0 {
		g.DiamondsPerUnit = diamonds
	}

	g.Coins = GiftCoins(g.DiamondsPerUnit, g.RepeatCount)
	g.Countable = Countable(g.Streakable, g.RepeatEnded)

	// A fully-described event teaches the catalog for later sparse ones.
	if haveName && g.GiftID > 0 && g.DiamondsPerUnit > 0 && n.catalog != nil {
		n.catalog.Learn(ctx, live.GiftInfo{ID: g.GiftID, Name: name, Diamonds: g.DiamondsPerUnit})
	}
	return g
}

func (n *Normalizer) trackActor(kind live.Kind, actorID string) {
	if actorID != "" {
		n.missingActor[kind] = 0
		return
	}
	n.missingActor[kind]++
	if c := n.missingActor[kind]; c%missingActorWarnEvery == 0 {
		n.log.Warn("events arriving without any recognized identity field",
			logx.String("kind", string(kind)), logx.Int("consecutive", c))
	}
}
