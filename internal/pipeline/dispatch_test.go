package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"tokbot/internal/live"
	logx "tokbot/pkg/logx"
)

func TestDispatchOrder(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop(), nil)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		d.Register(live.KindChat, name, func(ctx context.Context, ev *live.Event) error {
			order = append(order, name)
			return nil
		})
	}

	d.Dispatch(context.Background(), &live.Event{Kind: live.KindChat})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
}

func TestDispatchKindFiltering(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop(), nil)

	var gifts, chats int
	d.Register(live.KindGift, "gifts", func(ctx context.Context, ev *live.Event) error {
		gifts++
		return nil
	})
	d.Register(live.KindChat, "chats", func(ctx context.Context, ev *live.Event) error {
		chats++
		return nil
	})

	d.Dispatch(context.Background(), &live.Event{Kind: live.KindGift})
	d.Dispatch(context.Background(), &live.Event{Kind: live.KindGift})
	d.Dispatch(context.Background(), &live.Event{Kind: live.KindChat})

	if gifts != 2 || chats != 1 {
		t.Fatalf("gifts = %d chats = %d, want 2 and 1", gifts, chats)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	type obsCall struct {
		kind    live.Kind
		handler string
	}
	var failures []obsCall
	obs := observerFunc(func(kind live.Kind, handler string) {
		failures = append(failures, obsCall{kind, handler})
	})

	d := NewDispatcher(logx.Nop(), obs)
	var after int
	d.Register(live.KindGift, "panics", func(ctx context.Context, ev *live.Event) error {
		panic("boom")
	})
	d.Register(live.KindGift, "errors", func(ctx context.Context, ev *live.Event) error {
		return errors.New("nope")
	})
	d.Register(live.KindGift, "fine", func(ctx context.Context, ev *live.Event) error {
		after++
		return nil
	})

	d.Dispatch(context.Background(), &live.Event{Kind: live.KindGift})

	if after != 1 {
		t.Fatal("handler after a panicking one did not run")
	}
	if len(failures) != 2 {
		t.Fatalf("observed %d failures, want 2", len(failures))
	}
	if failures[0].handler != "panics" || failures[1].handler != "errors" {
		t.Fatalf("failures = %v", failures)
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop(), nil)

	var calls int
	fn := func(ctx context.Context, ev *live.Event) error {
		calls++
		return nil
	}
	d.RegisterAll("p", fn)
	d.Register(live.KindChat, "other", fn)

	d.Unregister("p")
	d.Dispatch(context.Background(), &live.Event{Kind: live.KindChat})
	d.Dispatch(context.Background(), &live.Event{Kind: live.KindGift})

	if calls != 1 {
		t.Fatalf("calls = %d, want only the surviving handler", calls)
	}
}

func TestUnregisterLeavesDispatchSnapshotIntact(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop(), nil)

	fn := func(ctx context.Context, ev *live.Event) error { return nil }
	d.Register(live.KindChat, "a", fn)
	d.Register(live.KindChat, "b", fn)

	// A dispatch in flight iterates this slice after releasing the lock.
	snap := d.handlers[live.KindChat]

	d.Unregister("a")
	d.Register(live.KindChat, "c", fn)

	if len(snap) != 2 || snap[0].name != "a" || snap[1].name != "b" {
		names := make([]string, 0, len(snap))
		for _, r := range snap {
			names = append(names, r.name)
		}
		t.Fatalf("snapshot rewritten to %v, want [a b]", names)
	}
}

func TestDispatchExactlyOnceUnderChurn(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop(), nil)

	var calls atomic.Int64
	d.Register(live.KindChat, "keep", func(ctx context.Context, ev *live.Event) error {
		calls.Add(1)
		return nil
	})

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		fn := func(ctx context.Context, ev *live.Event) error { return nil }
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			name := "churn-" + strconv.Itoa(i)
			d.Register(live.KindChat, name, fn)
			d.Unregister(name)
		}
	}()

	const n = 500
	ev := &live.Event{Kind: live.KindChat}
	for i := 0; i < n; i++ {
		d.Dispatch(context.Background(), ev)
	}
	close(stop)
	<-done

	if got := calls.Load(); got != n {
		t.Fatalf("surviving handler ran %d times across %d dispatches", got, n)
	}
}

// observerFunc adapts a func to the Observer's failure hook.
type observerFunc func(kind live.Kind, handler string)

func (observerFunc) EventAccepted(live.Kind)    {}
func (observerFunc) DuplicateBlocked(live.Kind) {}
func (f observerFunc) HandlerFailed(kind live.Kind, handler string) {
	f(kind, handler)
}
