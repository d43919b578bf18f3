// Package catalog resolves gift ids to known metadata. It backs the
// second tier of gift name resolution: an in-memory cache in front of the
// optional persistent store, learning entries from fully-named gift
// events as they stream by.
package catalog

import (
	"context"
	"strings"
	"sync"

	"tokbot/internal/live"
	"tokbot/internal/storage"
	logx "tokbot/pkg/logx"
)

type Catalog struct {
	mu    sync.RWMutex
	cache map[int64]live.GiftInfo

	store storage.Store // may be nil (memory only)
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Catalog{
		cache: map[int64]live.GiftInfo{},
		store: store,
		log:   log,
	}
}

// Lookup returns known metadata for a gift id. Cache first, then the
// store; store hits are cached for the rest of the session.
func (c *Catalog) Lookup(ctx context.Context, giftID int64) (live.GiftInfo, bool) {
	if giftID <= 0 {
		return live.GiftInfo{}, false
	}

	c.mu.RLock()
	info, ok := c.cache[giftID]
	c.mu.RUnlock()
	if ok {
		return info, true
	}

	if c.store == nil {
		return live.GiftInfo{}, false
	}
	row, found, err := c.store.GetGift(ctx, giftID)
	if err != nil {
		c.log.Debug("gift lookup failed", logx.Int64("gift_id", giftID), logx.Err(err))
		return live.GiftInfo{}, false
	}
	if !found {
		return live.GiftInfo{}, false
	}

	info = live.GiftInfo{ID: row.ID, Name: row.Name, Diamonds: row.Diamonds}
	c.mu.Lock()
	c.cache[giftID] = info
	c.mu.Unlock()
	return info, true
}

// Learn records metadata observed on the stream. Idempotent; identical
// repeat observations don't touch the store.
func (c *Catalog) Learn(ctx context.Context, info live.GiftInfo) {
	if info.ID <= 0 || strings.TrimSpace(info.Name) == "" {
		return
	}

	c.mu.Lock()
	prev, known := c.cache[info.ID]
	if known && prev == info {
		c.mu.Unlock()
		return
	}
	c.cache[info.ID] = info
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	err := c.store.UpsertGift(ctx, storage.GiftRow{ID: info.ID, Name: info.Name, Diamonds: info.Diamonds})
	if err != nil {
		c.log.Debug("gift persist failed", logx.Int64("gift_id", info.ID), logx.Err(err))
	}
}

// Size returns the number of cached entries (for status reporting).
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
