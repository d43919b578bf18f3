// Package goals tracks a running coin total toward a configurable
// target. Only Countable gift deliveries are added, so streak combos
// count once. The total survives restarts via the counter store.
package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tokbot/internal/eventbus"
	"tokbot/internal/live"
	"tokbot/internal/plugin"
	logx "tokbot/pkg/logx"
)

const counterName = "goals:coins"

type Config struct {
	// Target in coins; 0 disables the reached announcement.
	Target int64 `json:"target"`
	// SnapshotEvery controls how often the total is persisted.
	SnapshotEvery string `json:"snapshot_every,omitempty"`
}

// Snapshot is the /api/goals payload.
type Snapshot struct {
	Coins    int64   `json:"coins"`
	Target   int64   `json:"target"`
	Progress float64 `json:"progress"`
	Reached  bool    `json:"reached"`
}

type Plugin struct {
	plugin.Base

	mu      sync.Mutex
	cfg     Config
	coins   int64
	reached bool
	dirty   bool
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "goals" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)

	raw := p.Deps.Config.Get().Plugins[p.Name()].Config
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	p.mu.Lock()
	p.cfg = cfg
	p.coins = 0
	p.reached = false
	if st := p.Deps.Store; st != nil {
		if v, ok, err := st.GetCounter(ctx, counterName); err != nil {
			p.Log.Warn("counter load failed", logx.Err(err))
		} else if ok {
			p.coins = v
			p.reached = cfg.Target > 0 && v >= cfg.Target
		}
	}
	p.mu.Unlock()

	p.On(live.KindGift, p.onGift)

	every := 30 * time.Second
	if cfg.SnapshotEvery != "" {
		if d, err := time.ParseDuration(cfg.SnapshotEvery); err == nil && d > 0 {
			every = d
		}
	}
	if p.Deps.Store != nil {
		if err := p.Every("snapshot", every, 5*time.Second, p.persist); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	err := p.StopBase(ctx)
	if p.Deps.Store != nil {
		if perr := p.persist(ctx); perr != nil {
			p.Log.Warn("final counter persist failed", logx.Err(perr))
		}
	}
	return err
}

// OnConfigChange retargets without resetting the accumulated total.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.reached = cfg.Target > 0 && p.coins >= cfg.Target
	p.mu.Unlock()
	return nil
}

func (p *Plugin) onGift(ctx context.Context, ev *live.Event) error {
	if ev.Gift == nil || !ev.Gift.Countable || ev.Gift.Coins <= 0 {
		return nil
	}

	p.mu.Lock()
	p.coins += ev.Gift.Coins
	p.dirty = true
	crossed := !p.reached && p.cfg.Target > 0 && p.coins >= p.cfg.Target
	if crossed {
		p.reached = true
	}
	coins, target := p.coins, p.cfg.Target
	p.mu.Unlock()

	if crossed {
		p.Log.Info("goal reached",
			logx.Int64("coins", coins), logx.Int64("target", target))
		p.Deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TopicGoalReached,
			Data: Snapshot{Coins: coins, Target: target, Progress: 1, Reached: true},
		})
	}
	return nil
}

func (p *Plugin) persist(ctx context.Context) error {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return nil
	}
	coins := p.coins
	p.dirty = false
	p.mu.Unlock()
	return p.Deps.Store.PutCounter(ctx, counterName, coins)
}

// Current reports the goal state for the status API.
func (p *Plugin) Current() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{Coins: p.coins, Target: p.cfg.Target, Reached: p.reached}
	if s.Target > 0 {
		s.Progress = float64(s.Coins) / float64(s.Target)
		if s.Progress > 1 {
			s.Progress = 1
		}
	}
	return s
}
