package pipeline

import (
	"strconv"
	"strings"
	"time"

	"tokbot/internal/live"
)

// keySep joins dedup key components. Not expected to appear in upstream
// identifiers; chat text may contain it, but text is always the last
// variable-length component group so collisions stay harmless.
const keySep = "|"

// Candidate key lists shared between the hasher and the normalizer, in
// resolution priority order.
var (
	actorIDKeys   = []string{"userId", "uniqueId", "username"}
	actorNameKeys = []string{"nickname", "username"}
	chatTextKeys  = []string{"message", "comment"}
	timestampKeys = []string{"timestamp", "timestampMs", "createTime"}
	giftIDKeys    = []string{"giftId", "gift_id", "id"}
	giftNameKeys  = []string{"giftName", "gift_name"}
	diamondKeys   = []string{"diamondCount", "diamonds", "coins"}
	repeatKeys    = []string{"repeatCount", "repeat_count", "comboCount"}
	repeatEndKeys = []string{"repeatEnd", "repeatEnded", "repeat_ended"}
	giftTypeKeys  = []string{"giftType", "gift_type"}
	likeCountKeys = []string{"likeCount", "count", "like_count"}
)

// Hasher derives a deterministic dedup key from a raw event, such that
// semantically identical occurrences collide and distinct ones do not.
//
// Timestamps are bucketed (default one second) so transport-level
// redeliveries land on the same key while genuinely distinct rapid events
// stay distinct: for chat, content is part of the key; for content-less
// kinds (follow/share/subscribe) the bucket is the only discriminator and
// its width is the tunable tradeoff.
type Hasher struct {
	bucket time.Duration
	now    func() time.Time
}

func NewHasher(bucket time.Duration, now func() time.Time) Hasher {
	if bucket <= 0 {
		bucket = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return Hasher{bucket: bucket, now: now}
}

// Key builds the dedup key for one raw event. Pure; missing fields are
// omitted from the key rather than failing.
func (h Hasher) Key(kind live.Kind, data live.RawEvent) string {
	parts := make([]string, 0, 6)
	parts = append(parts, string(kind))

	if id, ok := data.FirstString(actorIDKeys...); ok {
		parts = append(parts, id)
	}

	switch kind {
	case live.KindChat:
		if text, ok := data.FirstString(chatTextKeys...); ok {
			parts = append(parts, text)
		}
		parts = append(parts, h.bucketOf(data))
	case live.KindGift:
		if id, ok := data.FirstInt(giftIDKeys...); ok {
			parts = append(parts, strconv.FormatInt(id, 10))
		}
		if name, ok := data.FirstString(giftNameKeys...); ok {
			parts = append(parts, name)
		}
		if rc, ok := data.FirstInt(repeatKeys...); ok {
			parts = append(parts, strconv.FormatInt(rc, 10))
		}
	case live.KindLike:
		if n, ok := data.FirstInt(likeCountKeys...); ok {
			parts = append(parts, strconv.FormatInt(n, 10))
		}
		parts = append(parts, h.bucketOf(data))
	default:
		// follow/share/subscribe/join carry no content field that
		// distinguishes repeats; the time bucket does the work.
		parts = append(parts, h.bucketOf(data))
	}

	return strings.Join(parts, keySep)
}

// bucketOf floors the event timestamp to the configured bucket width.
func (h Hasher) bucketOf(data live.RawEvent) string {
	ms := EventTimestampMS(data, h.now)
	width := h.bucket.Milliseconds()
	if width <= 0 {
		width = 1000
	}
	return strconv.FormatInt(ms/width, 10)
}

// EventTimestampMS extracts the event timestamp in Unix milliseconds,
// falling back to the local clock when the payload has none. Values that
// look like whole seconds (observed from some SDK versions) are scaled.
func EventTimestampMS(data live.RawEvent, now func() time.Time) int64 {
	if now == nil {
		now = time.Now
	}
	ms, ok := data.FirstInt(timestampKeys...)
	if !ok || ms <= 0 {
		return now().UnixMilli()
	}
	// Anything below ~year 5138 in seconds is clearly not milliseconds.
	if ms < 100_000_000_000 {
		ms *= 1000
	}
	return ms
}
