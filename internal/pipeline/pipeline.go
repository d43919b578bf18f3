package pipeline

import (
	"context"
	"sync"
	"time"

	"tokbot/internal/live"
	logx "tokbot/pkg/logx"
)

// Config tunes one pipeline instance. Zero values fall back to the
// defaults below.
type Config struct {
	// EventWindow/EventMaxEntries bound the event-level dedup cache,
	// keyed by the full content hash.
	EventWindow     time.Duration
	EventMaxEntries int

	// MessageWindow/MessageMaxEntries bound the chat message-level cache,
	// keyed by actor+text only. It absorbs client double-sends that
	// straddle a second-bucket boundary and would slip the event cache.
	MessageWindow     time.Duration
	MessageMaxEntries int

	// Bucket is the timestamp rounding granularity for dedup keys. An
	// empirically chosen jitter-absorption heuristic, not a transport
	// guarantee, hence tunable.
	Bucket time.Duration
}

const (
	defaultEventWindow       = 60 * time.Second
	defaultEventMaxEntries   = 1000
	defaultMessageWindow     = 30 * time.Second
	defaultMessageMaxEntries = 500
)

func (c Config) withDefaults() Config {
	if c.EventWindow <= 0 {
		c.EventWindow = defaultEventWindow
	}
	if c.EventMaxEntries <= 0 {
		c.EventMaxEntries = defaultEventMaxEntries
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = defaultMessageWindow
	}
	if c.MessageMaxEntries <= 0 {
		c.MessageMaxEntries = defaultMessageMaxEntries
	}
	if c.Bucket <= 0 {
		c.Bucket = time.Second
	}
	return c
}

// Observer receives pipeline signals for metrics. Implementations must be
// cheap and non-blocking.
type Observer interface {
	EventAccepted(kind live.Kind)
	DuplicateBlocked(kind live.Kind)
	HandlerFailed(kind live.Kind, handler string)
}

// NopObserver discards all signals.
type NopObserver struct{}

func (NopObserver) EventAccepted(live.Kind)         {}
func (NopObserver) DuplicateBlocked(live.Kind)      {}
func (NopObserver) HandlerFailed(live.Kind, string) {}

// Stats is a point-in-time snapshot for the stats API.
type Stats struct {
	Accepted          uint64 `json:"accepted"`
	DuplicatesBlocked uint64 `json:"duplicates_blocked"`
	EventCacheSize    int    `json:"event_cache_size"`
	MessageCacheSize  int    `json:"message_cache_size"`
}

// Pipeline is the per-room ingest path: hash, dedup-check, normalize,
// coin-calc, dispatch. One instance per gateway connection; the caches
// are owned exclusively by the instance and never shared across rooms.
//
// Ingest is expected to be called from a single goroutine (the gateway
// read loop); the counters and caches are still mutex-guarded because the
// stats API and cache clear are served from HTTP goroutines.
type Pipeline struct {
	cfg    Config
	log    logx.Logger
	hasher Hasher
	norm   *Normalizer
	disp   *Dispatcher

	events   *DedupCache
	messages *DedupCache

	obs Observer

	mu       sync.Mutex
	accepted uint64
	blocked  uint64
}

func New(cfg Config, catalog GiftCatalog, disp *Dispatcher, log logx.Logger, obs Observer, now func() time.Time) *Pipeline {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if now == nil {
		now = time.Now
	}
	if disp == nil {
		disp = NewDispatcher(log, obs)
	}
	return &Pipeline{
		cfg:      cfg,
		log:      log,
		hasher:   NewHasher(cfg.Bucket, now),
		norm:     NewNormalizer(catalog, log, now),
		disp:     disp,
		events:   NewDedupCache(cfg.EventWindow, cfg.EventMaxEntries, now),
		messages: NewDedupCache(cfg.MessageWindow, cfg.MessageMaxEntries, now),
		obs:      obs,
	}
}

// Dispatcher exposes the registration surface for consumers.
func (p *Pipeline) Dispatcher() *Dispatcher { return p.disp }

// Ingest runs one raw event through the full pass. It reports whether the
// event was accepted (false means it was dropped as a duplicate). Events
// are dispatched in acceptance order; nothing here blocks.
func (p *Pipeline) Ingest(ctx context.Context, kind live.Kind, data live.RawEvent) bool {
	key := p.hasher.Key(kind, data)
	if p.events.IsDuplicate(key) {
		p.noteBlocked(kind, key, "event")
		return false
	}

	if kind == live.KindChat {
		if mk, ok := messageKey(data); ok && p.messages.IsDuplicate(mk) {
			p.noteBlocked(kind, mk, "message")
			return false
		}
	}

	ev := p.norm.Normalize(ctx, kind, data)

	p.mu.Lock()
	p.accepted++
	p.mu.Unlock()
	p.obs.EventAccepted(ev.Kind)

	p.disp.Dispatch(ctx, ev)
	return true
}

// messageKey fingerprints a chat message by actor and text only, with no
// time bucket.
func messageKey(data live.RawEvent) (string, bool) {
	text, ok := data.FirstString(chatTextKeys...)
	if !ok {
		return "", false
	}
	actor, _ := data.FirstString(actorIDKeys...)
	return "msg" + keySep + actor + keySep + text, true
}

func (p *Pipeline) noteBlocked(kind live.Kind, key, layer string) {
	p.mu.Lock()
	p.blocked++
	p.mu.Unlock()
	p.obs.DuplicateBlocked(kind)
	if p.log.Enabled(logx.LevelDebug) {
		p.log.Debug("duplicate blocked",
			logx.String("kind", string(kind)),
			logx.String("layer", layer),
			logx.String("key", key))
	}
}

// Retune applies new cache bounds at runtime. The key bucket is fixed
// for the life of the instance; changing it mid-session would make every
// in-flight key miss anyway.
func (p *Pipeline) Retune(cfg Config) {
	cfg = cfg.withDefaults()
	p.events.Resize(cfg.EventWindow, cfg.EventMaxEntries)
	p.messages.Resize(cfg.MessageWindow, cfg.MessageMaxEntries)
}

// Stats snapshots the counters for the stats API.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	accepted, blocked := p.accepted, p.blocked
	p.mu.Unlock()
	return Stats{
		Accepted:          accepted,
		DuplicatesBlocked: blocked,
		EventCacheSize:    p.events.Len(),
		MessageCacheSize:  p.messages.Len(),
	}
}

// Reset clears both dedup caches. Wired to gateway disconnect (stale keys
// must not suppress legitimate events after a reconnect) and to the
// operational clear endpoint.
func (p *Pipeline) Reset() {
	p.events.Clear()
	p.messages.Clear()
	p.log.Info("dedup caches cleared")
}
