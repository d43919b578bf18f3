// Package alerts pushes gift-milestone and goal-reached notifications
// through the notify service.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tokbot/internal/eventbus"
	"tokbot/internal/live"
	"tokbot/internal/plugin"
)

type Config struct {
	// MinCoins is the smallest countable gift worth announcing.
	MinCoins int64 `json:"min_coins"`
	// GoalAlerts announces goal.reached bus events.
	GoalAlerts *bool `json:"goal_alerts,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.MinCoins <= 0 {
		c.MinCoins = 100
	}
	if c.GoalAlerts == nil {
		t := true
		c.GoalAlerts = &t
	}
	return c
}

type Plugin struct {
	plugin.Base
	cfg Config
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "alerts" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	if p.Deps.Notify == nil {
		return errors.New("alerts requires notifications")
	}
	p.StartBase(ctx)

	raw := p.Deps.Config.Get().Plugins[p.Name()].Config
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	p.cfg = cfg.withDefaults()

	p.On(live.KindGift, p.onGift)

	if *p.cfg.GoalAlerts {
		ch, unsub := p.Deps.Bus.Subscribe(16)
		p.Runner.Go("goal-watch", func(ctx context.Context) error {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					if ev.Type == eventbus.TopicGoalReached {
						p.onGoalReached(ev.Data)
					}
				}
			}
		})
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := plugin.DecodeConfig[Config](raw)
	return err
}

func (p *Plugin) onGift(ctx context.Context, ev *live.Event) error {
	g := ev.Gift
	if g == nil || !g.Countable || g.Coins < p.cfg.MinCoins {
		return nil
	}
	name := ev.ActorName
	if name == "" {
		name = ev.ActorID
	}
	p.Notify(7, fmt.Sprintf("🎁 %s sent %s ×%d (%d coins)",
		name, g.GiftName, g.RepeatCount, g.Coins))
	return nil
}

func (p *Plugin) onGoalReached(data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	var s struct {
		Coins  int64 `json:"coins"`
		Target int64 `json:"target"`
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return
	}
	p.Notify(9, fmt.Sprintf("🎉 Goal reached: %d / %d coins", s.Coins, s.Target))
}
