// Package chatlog appends normalized chat events to storage.
package chatlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokbot/internal/live"
	"tokbot/internal/plugin"
	"tokbot/internal/storage"
)

type Plugin struct {
	plugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "chatlog" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	if p.Deps.Store == nil {
		return errors.New("chatlog requires storage")
	}
	p.StartBase(ctx)
	p.On(live.KindChat, p.onChat)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) onChat(ctx context.Context, ev *live.Event) error {
	if ev.Chat == nil {
		return nil
	}
	entry := storage.ChatEntry{
		At:        time.UnixMilli(ev.TimestampMS),
		ActorID:   ev.ActorID,
		ActorName: ev.ActorName,
		Text:      ev.Chat.Text,
	}
	if err := p.Deps.Store.AppendChat(ctx, entry); err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}
