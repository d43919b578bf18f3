package goals

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tokbot/internal/config"
	"tokbot/internal/eventbus"
	"tokbot/internal/live"
	"tokbot/internal/pipeline"
	"tokbot/internal/plugin"
	"tokbot/internal/services/scheduler"
	"tokbot/internal/storage"
	logx "tokbot/pkg/logx"
)

func newTestDeps(t *testing.T, raw string, withStore bool) plugin.Deps {
	t.Helper()

	cfgm := config.NewConfigManager("unused")
	cfgm.Commit(&config.Config{
		Gateway: config.GatewayConfig{URL: "wss://gw/ws", Room: "room"},
		Logging: config.LoggingConfig{Level: "info"},
		Plugins: map[string]config.PluginConfigRaw{
			"goals": {Enabled: true, Config: json.RawMessage(raw)},
		},
	})

	deps := plugin.Deps{
		Logger:     logx.Nop(),
		Config:     cfgm,
		Bus:        eventbus.New(),
		Dispatcher: pipeline.NewDispatcher(logx.Nop(), nil),
		Scheduler:  scheduler.New(scheduler.Config{Enabled: true}, logx.Nop()),
	}
	if withStore {
		st, err := storage.Open(storage.Config{
			Driver: "file",
			Path:   filepath.Join(t.TempDir(), "store"),
		}, logx.Nop())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		deps.Store = st
	}
	return deps
}

func startGoals(t *testing.T, deps plugin.Deps) *Plugin {
	t.Helper()
	p := New()
	ctx := context.Background()
	if err := p.Init(ctx, deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func gift(coins int64, countable bool) *live.Event {
	return &live.Event{
		Kind:        live.KindGift,
		ActorID:     "viewer",
		ActorName:   "Viewer",
		TimestampMS: time.Now().UnixMilli(),
		Gift:        &live.GiftEvent{GiftID: 1, GiftName: "Rose", Coins: coins, Countable: countable},
	}
}

func TestGoalsCountsOnlyCountableGifts(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, `{"target": 100}`, false)
	p := startGoals(t, deps)
	defer p.Stop(context.Background())

	ctx := context.Background()
	deps.Dispatcher.Dispatch(ctx, gift(30, true))
	deps.Dispatcher.Dispatch(ctx, gift(30, false)) // streak in flight
	deps.Dispatcher.Dispatch(ctx, gift(10, true))

	s := p.Current()
	if s.Coins != 40 {
		t.Fatalf("coins = %d, want 40", s.Coins)
	}
	if s.Reached || s.Progress != 0.4 {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestGoalsPublishesReachedOnce(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, `{"target": 50}`, false)
	events, unsub := deps.Bus.Subscribe(4)
	defer unsub()

	p := startGoals(t, deps)
	defer p.Stop(context.Background())

	ctx := context.Background()
	deps.Dispatcher.Dispatch(ctx, gift(40, true))
	deps.Dispatcher.Dispatch(ctx, gift(20, true)) // crosses target
	deps.Dispatcher.Dispatch(ctx, gift(20, true)) // already reached

	select {
	case ev := <-events:
		if ev.Type != eventbus.TopicGoalReached {
			t.Fatalf("topic = %q", ev.Type)
		}
		snap, ok := ev.Data.(Snapshot)
		if !ok {
			t.Fatalf("data = %T", ev.Data)
		}
		if snap.Coins != 60 || snap.Target != 50 || !snap.Reached {
			t.Fatalf("payload = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no goal-reached event")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestGoalsPersistsAndReloads(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, `{"target": 1000}`, true)
	p := startGoals(t, deps)

	ctx := context.Background()
	deps.Dispatcher.Dispatch(ctx, gift(250, true))
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A fresh instance reads the persisted counter.
	p2 := startGoals(t, deps)
	defer p2.Stop(ctx)

	if s := p2.Current(); s.Coins != 250 {
		t.Fatalf("reloaded coins = %d, want 250", s.Coins)
	}
}

func TestGoalsRetargetWithoutReset(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, `{"target": 100}`, false)
	p := startGoals(t, deps)
	defer p.Stop(context.Background())

	ctx := context.Background()
	deps.Dispatcher.Dispatch(ctx, gift(80, true))

	if err := p.OnConfigChange(ctx, json.RawMessage(`{"target": 50}`)); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	s := p.Current()
	if s.Coins != 80 || s.Target != 50 || !s.Reached {
		t.Fatalf("after retarget: %+v", s)
	}
}
