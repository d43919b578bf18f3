package plugin

import (
	"context"
	"errors"
	"time"

	"tokbot/internal/live"
	"tokbot/internal/pipeline"
	"tokbot/internal/runtime/supervisor"
	"tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

// Base is a small helper to make writing plugins faster and safer.
// Typical usage:
//
//	type Plugin struct { plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); p.On(live.KindGift, p.onGift); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type Base struct {
	Log    logx.Logger
	Deps   Deps
	Runner *supervisor.Supervisor

	pluginName string
	ctx        context.Context
	handlers   []string
	jobs       []string
}

// InitBase wires deps and a plugin-scoped logger.
func (b *Base) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	if !deps.Logger.IsZero() {
		b.Log = deps.Logger.With(logx.String("plugin", pluginName))
	} else {
		b.Log = logx.Nop()
	}
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *Base) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(b.Log),
		supervisor.WithCancelOnError(false))
}

// StopBase unhooks event handlers and scheduled jobs, then cancels the
// runner and waits bounded by ctx.
func (b *Base) StopBase(ctx context.Context) error {
	for _, name := range b.handlers {
		b.Deps.Dispatcher.Unregister(name)
	}
	b.handlers = nil

	if b.Deps.Scheduler != nil {
		for _, id := range b.jobs {
			b.Deps.Scheduler.Remove(id)
		}
	}
	b.jobs = nil

	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *Base) Context() context.Context { return b.ctx }

// On subscribes to normalized events of one kind. The registration is
// removed automatically in StopBase.
func (b *Base) On(kind live.Kind, fn pipeline.Handler) {
	name := b.ns(string(kind))
	b.Deps.Dispatcher.Register(kind, name, fn)
	b.handlers = append(b.handlers, name)
}

// OnAll subscribes to every event kind.
func (b *Base) OnAll(fn pipeline.Handler) {
	name := b.ns("*")
	b.Deps.Dispatcher.RegisterAll(name, fn)
	b.handlers = append(b.handlers, name)
}

// Every schedules a recurring job, removed automatically in StopBase.
func (b *Base) Every(name string, every, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Scheduler == nil {
		return errors.New("scheduler not available")
	}
	id, err := b.Deps.Scheduler.AddInterval(b.ns(name), every, timeout, job)
	if err != nil {
		return err
	}
	b.jobs = append(b.jobs, id)
	return nil
}

// Schedule registers a job from a user-facing schedule string (cron,
// duration, or HH:MM).
func (b *Base) Schedule(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Scheduler == nil {
		return errors.New("scheduler not available")
	}
	id, err := b.Deps.Scheduler.AddSpec(b.ns(name), spec, timeout, job)
	if err != nil {
		return err
	}
	b.jobs = append(b.jobs, id)
	return nil
}

// Notify enqueues an outbound notification; best-effort, never blocks.
func (b *Base) Notify(priority int, text string) {
	if b.Deps.Notify == nil {
		return
	}
	if err := b.Deps.Notify.Enqueue(transport.Notification{Priority: priority, Text: text}); err != nil {
		b.Log.Debug("notification dropped", logx.Err(err))
	}
}

func (b *Base) ns(name string) string {
	if b.pluginName == "" {
		return name
	}
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}
