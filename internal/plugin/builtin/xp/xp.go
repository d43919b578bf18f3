// Package xp awards per-viewer experience points for chat, likes,
// gifts, and social events, persisted through the XP store so the
// leaderboard survives restarts.
package xp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tokbot/internal/live"
	"tokbot/internal/plugin"
	"tokbot/internal/storage"
	logx "tokbot/pkg/logx"
)

type Config struct {
	ChatXP      int64 `json:"chat_xp"`       // per chat message
	LikeXP      int64 `json:"like_xp"`       // per like (multiplied by count)
	GiftXPCoin  int64 `json:"gift_xp_coin"`  // per coin of a countable gift
	FollowXP    int64 `json:"follow_xp"`
	ShareXP     int64 `json:"share_xp"`
	SubscribeXP int64 `json:"subscribe_xp"`
}

func (c Config) withDefaults() Config {
	if c.ChatXP <= 0 {
		c.ChatXP = 5
	}
	if c.LikeXP <= 0 {
		c.LikeXP = 1
	}
	if c.GiftXPCoin <= 0 {
		c.GiftXPCoin = 1
	}
	if c.FollowXP <= 0 {
		c.FollowXP = 10
	}
	if c.ShareXP <= 0 {
		c.ShareXP = 10
	}
	if c.SubscribeXP <= 0 {
		c.SubscribeXP = 50
	}
	return c
}

type Plugin struct {
	plugin.Base
	cfg Config
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "xp" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	if p.Deps.Store == nil {
		return errors.New("xp requires storage")
	}
	p.StartBase(ctx)

	raw := p.Deps.Config.Get().Plugins[p.Name()].Config
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	p.cfg = cfg.withDefaults()

	p.OnAll(p.onEvent)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := plugin.DecodeConfig[Config](raw)
	return err
}

func (p *Plugin) onEvent(ctx context.Context, ev *live.Event) error {
	delta := p.award(ev)
	if delta <= 0 || ev.ActorID == "" {
		return nil
	}
	total, err := p.Deps.Store.AddXP(ctx, ev.ActorID, ev.ActorName, delta)
	if err != nil {
		return fmt.Errorf("add xp: %w", err)
	}
	p.Log.Debug("xp awarded",
		logx.String("actor", ev.ActorID),
		logx.Int64("delta", delta),
		logx.Int64("total", total))
	return nil
}

func (p *Plugin) award(ev *live.Event) int64 {
	switch ev.Kind {
	case live.KindChat:
		return p.cfg.ChatXP
	case live.KindLike:
		if ev.Like == nil {
			return p.cfg.LikeXP
		}
		return p.cfg.LikeXP * ev.Like.Count
	case live.KindGift:
		if ev.Gift == nil || !ev.Gift.Countable {
			return 0
		}
		return p.cfg.GiftXPCoin * ev.Gift.Coins
	case live.KindFollow:
		return p.cfg.FollowXP
	case live.KindShare:
		return p.cfg.ShareXP
	case live.KindSubscribe:
		return p.cfg.SubscribeXP
	}
	return 0
}

// Top reads the leaderboard for the HTTP API.
func (p *Plugin) Top(ctx context.Context, limit int) ([]storage.XPEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return p.Deps.Store.TopXP(ctx, limit)
}
