package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"tokbot/internal/config"
	"tokbot/internal/eventbus"
	logx "tokbot/pkg/logx"
)

// fakePlugin records lifecycle calls so reconcile behavior can be asserted.
type fakePlugin struct {
	mu    sync.Mutex
	name  string
	calls []string

	startErr  error
	configErr error
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Init(ctx context.Context, deps Deps) error {
	p.record("init")
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error {
	p.record("start")
	return p.startErr
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	p.record("stop")
	return nil
}

func (p *fakePlugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	p.record("config")
	return p.configErr
}

func (p *fakePlugin) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePlugin) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func testConfig(plugins map[string]config.PluginConfigRaw) *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{URL: "wss://gw/ws", Room: "room"},
		Logging: config.LoggingConfig{Level: "info"},
		Plugins: plugins,
	}
}

func newTestManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()
	cfgm := config.NewConfigManager("unused")
	cfgm.Commit(cfg)
	return NewManager(logx.Nop(), Deps{
		Logger: logx.Nop(),
		Config: cfgm,
		Bus:    eventbus.New(),
	})
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestManagerStartAllRespectsEnable(t *testing.T) {
	t.Parallel()

	on := &fakePlugin{name: "on"}
	off := &fakePlugin{name: "off"}
	m := newTestManager(t, testConfig(map[string]config.PluginConfigRaw{
		"on":  {Enabled: true},
		"off": {Enabled: false},
	}))
	m.Register(on, off)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if got := on.callLog(); !equalCalls(got, []string{"init", "start"}) {
		t.Fatalf("enabled plugin calls = %v", got)
	}
	if got := off.callLog(); !equalCalls(got, []string{"init"}) {
		t.Fatalf("disabled plugin calls = %v", got)
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	// Snapshot is sorted by name: off, on.
	if snap[0].Name != "off" || snap[0].Running {
		t.Fatalf("snap[0] = %+v", snap[0])
	}
	if snap[1].Name != "on" || !snap[1].Running {
		t.Fatalf("snap[1] = %+v", snap[1])
	}
}

func TestManagerStartFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	bad := &fakePlugin{name: "bad", startErr: errors.New("boom")}
	good := &fakePlugin{name: "good"}
	m := newTestManager(t, testConfig(map[string]config.PluginConfigRaw{
		"bad":  {Enabled: true},
		"good": {Enabled: true},
	}))
	m.Register(bad, good)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	snap := m.Snapshot()
	if snap[0].Name != "bad" || snap[0].Running || snap[0].LastErr == "" {
		t.Fatalf("failed plugin status = %+v", snap[0])
	}
	if snap[1].Name != "good" || !snap[1].Running {
		t.Fatalf("good plugin status = %+v", snap[1])
	}
}

func TestManagerReconcileEnableDisable(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{name: "p"}
	m := newTestManager(t, testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true},
	}))
	m.Register(p)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	m.OnConfigUpdate(context.Background(), testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: false},
	}))
	if got := p.callLog(); !equalCalls(got, []string{"init", "start", "stop"}) {
		t.Fatalf("after disable: %v", got)
	}

	m.OnConfigUpdate(context.Background(), testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true},
	}))
	if got := p.callLog(); !equalCalls(got, []string{"init", "start", "stop", "start"}) {
		t.Fatalf("after re-enable: %v", got)
	}
}

func TestManagerReconcileConfigChange(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{name: "p"}
	m := newTestManager(t, testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true, Config: json.RawMessage(`{"target":100}`)},
	}))
	m.Register(p)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	// Same blob: no calls beyond init+start.
	m.OnConfigUpdate(context.Background(), testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true, Config: json.RawMessage(`{"target":100}`)},
	}))
	if got := p.callLog(); !equalCalls(got, []string{"init", "start"}) {
		t.Fatalf("after no-op update: %v", got)
	}

	// Changed blob: OnConfigChange, no restart.
	m.OnConfigUpdate(context.Background(), testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true, Config: json.RawMessage(`{"target":200}`)},
	}))
	if got := p.callLog(); !equalCalls(got, []string{"init", "start", "config"}) {
		t.Fatalf("after config change: %v", got)
	}
}

func TestManagerRestartsOnRejectedConfig(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{name: "p", configErr: errors.New("bad target")}
	m := newTestManager(t, testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true, Config: json.RawMessage(`{"target":100}`)},
	}))
	m.Register(p)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	m.OnConfigUpdate(context.Background(), testConfig(map[string]config.PluginConfigRaw{
		"p": {Enabled: true, Config: json.RawMessage(`{"target":200}`)},
	}))
	if got := p.callLog(); !equalCalls(got, []string{"init", "start", "config", "stop", "start"}) {
		t.Fatalf("after rejected change: %v", got)
	}
}

func TestManagerStopAllReverseOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stops []string
	mk := func(name string) *orderedPlugin {
		return &orderedPlugin{name: name, onStop: func() {
			mu.Lock()
			stops = append(stops, name)
			mu.Unlock()
		}}
	}

	a, b, c := mk("a"), mk("b"), mk("c")
	m := newTestManager(t, testConfig(map[string]config.PluginConfigRaw{
		"a": {Enabled: true},
		"b": {Enabled: true},
		"c": {Enabled: true},
	}))
	m.Register(a, b, c)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	m.StopAll(context.Background())

	if !equalCalls(stops, []string{"c", "b", "a"}) {
		t.Fatalf("stop order = %v", stops)
	}
}

type orderedPlugin struct {
	name   string
	onStop func()
}

func (p *orderedPlugin) Name() string                     { return p.name }
func (p *orderedPlugin) Init(context.Context, Deps) error { return nil }
func (p *orderedPlugin) Start(context.Context) error      { return nil }
func (p *orderedPlugin) Stop(context.Context) error       { p.onStop(); return nil }
