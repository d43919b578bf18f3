package pipeline

import (
	"context"
	"runtime/debug"
	"sync"

	"tokbot/internal/live"
	logx "tokbot/pkg/logx"
)

// Handler consumes one canonical event. Handlers run synchronously on the
// ingest goroutine; anything slow (network, disk, synthesis) should queue
// internally and return.
type Handler func(ctx context.Context, ev *live.Event) error

type registration struct {
	name string
	fn   Handler
}

// Dispatcher delivers each accepted event to all handlers registered for
// its kind, exactly once, in registration order.
//
// A failing handler never prevents the remaining handlers from running:
// errors and panics are caught at this boundary, logged with the handler
// identity, and dropped. There is no retry; delivery, not durability, is
// this layer's job.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[live.Kind][]registration

	log logx.Logger
	obs Observer
}

func NewDispatcher(log logx.Logger, obs Observer) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Dispatcher{
		handlers: map[live.Kind][]registration{},
		log:      log,
		obs:      obs,
	}
}

// Register adds a handler for one kind. name identifies the handler in
// failure logs (conventionally the plugin name).
func (d *Dispatcher) Register(kind live.Kind, name string, fn Handler) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], registration{name: name, fn: fn})
	d.mu.Unlock()
}

// RegisterAll adds a handler for every recognized kind.
func (d *Dispatcher) RegisterAll(name string, fn Handler) {
	for _, k := range live.Kinds() {
		d.Register(k, name, fn)
	}
}

// Unregister removes every handler registered under name. Used when a
// plugin is disabled at runtime.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for kind, regs := range d.handlers {
		// Dispatch iterates its snapshot of this slice after dropping the
		// read lock, so filter into a fresh slice instead of in place.
		kept := make([]registration, 0, len(regs))
		for _, r := range regs {
			if r.name != name {
				kept = append(kept, r)
			}
		}
		d.handlers[kind] = kept
	}
}

// Dispatch invokes the handlers for ev.Kind synchronously, in
// registration order.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *live.Event) {
	d.mu.RLock()
	regs := d.handlers[ev.Kind]
	d.mu.RUnlock()

	for _, r := range regs {
		d.invoke(ctx, r, ev)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, r registration, ev *live.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.obs.HandlerFailed(ev.Kind, r.name)
			d.log.Error("handler panicked",
				logx.String("handler", r.name),
				logx.String("kind", string(ev.Kind)),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
		}
	}()
	if err := r.fn(ctx, ev); err != nil {
		d.obs.HandlerFailed(ev.Kind, r.name)
		d.log.Warn("handler failed",
			logx.String("handler", r.name),
			logx.String("kind", string(ev.Kind)),
			logx.Err(err))
	}
}
