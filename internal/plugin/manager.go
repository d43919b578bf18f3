package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"tokbot/internal/config"
	"tokbot/internal/eventbus"
	logx "tokbot/pkg/logx"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 10 * time.Second
)

// lifecycleEvent is the Data payload for the plugin.* bus topics.
type lifecycleEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Err    string `json:"err,omitempty"`
}

type runState struct {
	plugin   Plugin
	running  bool
	cancel   context.CancelFunc
	rawHash  uint64
	lastErr  string
	failedAt time.Time
}

// Status is a point-in-time view of one plugin for the status API.
type Status struct {
	Name     string    `json:"name"`
	Enabled  bool      `json:"enabled"`
	Running  bool      `json:"running"`
	LastErr  string    `json:"last_err,omitempty"`
	FailedAt time.Time `json:"failed_at,omitempty"`
}

// Manager owns plugin lifecycle: registration order start, reverse-order
// stop, and config-driven enable/disable reconciliation. Each plugin
// runs under its own child context so disabling one never tears down
// its neighbors.
type Manager struct {
	mu sync.Mutex

	log    logx.Logger
	deps   Deps
	appCtx context.Context

	order  []string
	states map[string]*runState
}

func NewManager(log logx.Logger, deps Deps) *Manager {
	return &Manager{
		log:    log.With(logx.String("component", "plugins")),
		deps:   deps,
		states: map[string]*runState{},
	}
}

// Register adds plugins. Must be called before StartAll.
func (m *Manager) Register(ps ...Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		name := p.Name()
		if _, dup := m.states[name]; dup {
			m.log.Warn("duplicate plugin registration ignored", logx.String("plugin", name))
			continue
		}
		m.order = append(m.order, name)
		m.states[name] = &runState{plugin: p}
	}
}

// StartAll initializes every registered plugin and starts the enabled
// ones in registration order. Init failure is fatal; Start failure
// leaves the plugin stopped but the app running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appCtx = ctx

	cfg := m.deps.Config.Get()
	for _, name := range m.order {
		st := m.states[name]
		if err := m.safeCall(name, "init", func() error {
			return st.plugin.Init(ctx, m.depsFor(name))
		}); err != nil {
			return fmt.Errorf("plugin %s init: %w", name, err)
		}
	}

	for _, name := range m.order {
		raw, enabled := pluginConfig(cfg, name)
		if !enabled {
			m.log.Info("plugin disabled", logx.String("plugin", name))
			continue
		}
		m.startLocked(name, raw)
	}
	return nil
}

// StopAll stops running plugins in reverse registration order.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		m.stopLocked(ctx, m.order[i])
	}
}

// OnConfigUpdate reconciles running plugins against a new config:
// newly enabled plugins start, disabled ones stop, and running ones
// whose config blob changed get OnConfigChange (or a restart when they
// don't implement it, or when applying the change fails).
func (m *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		st := m.states[name]
		raw, enabled := pluginConfig(cfg, name)

		switch {
		case enabled && !st.running:
			m.startLocked(name, raw)

		case !enabled && st.running:
			m.stopLocked(ctx, name)
			m.log.Info("plugin disabled by config", logx.String("plugin", name))

		case enabled && st.running:
			h := configHash(raw.Config)
			if h == st.rawHash {
				continue
			}
			st.rawHash = h
			cp, ok := st.plugin.(ConfigurablePlugin)
			if !ok {
				m.log.Info("plugin config changed, restarting", logx.String("plugin", name))
				m.stopLocked(ctx, name)
				m.startLocked(name, raw)
				continue
			}
			if err := m.safeCall(name, "config", func() error {
				return cp.OnConfigChange(ctx, raw.Config)
			}); err != nil {
				m.log.Warn("plugin rejected config change, restarting",
					logx.String("plugin", name), logx.Err(err))
				m.stopLocked(ctx, name)
				m.startLocked(name, raw)
			}
		}
	}
}

// ValidateConfig lets plugins veto a pending config before it is applied.
func (m *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.order {
		v, ok := m.states[name].plugin.(ConfigValidator)
		if !ok {
			continue
		}
		raw, _ := pluginConfig(cfg, name)
		if err := v.ValidateConfig(ctx, raw.Config); err != nil {
			return fmt.Errorf("plugin %s: %w", name, err)
		}
	}
	return nil
}

// Snapshot reports plugin state for the status API, sorted by name.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.deps.Config.Get()
	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		st := m.states[name]
		_, enabled := pluginConfig(cfg, name)
		out = append(out, Status{
			Name:     name,
			Enabled:  enabled,
			Running:  st.running,
			LastErr:  st.lastErr,
			FailedAt: st.failedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) startLocked(name string, raw config.PluginConfigRaw) {
	st := m.states[name]
	if st.running {
		return
	}

	pctx, cancel := context.WithCancel(m.appCtx)
	done := make(chan error, 1)
	go func() {
		done <- m.safeCall(name, "start", func() error {
			return st.plugin.Start(pctx)
		})
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(startTimeout):
		err = fmt.Errorf("start timed out after %s", startTimeout)
	}
	if err != nil {
		cancel()
		st.lastErr = err.Error()
		st.failedAt = time.Now()
		m.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		m.emit(eventbus.TopicPluginFailed, lifecycleEvent{Plugin: name, Stage: "start", Err: err.Error()})
		return
	}

	st.running = true
	st.cancel = cancel
	st.rawHash = configHash(raw.Config)
	st.lastErr = ""
	m.log.Info("plugin started", logx.String("plugin", name))
	m.emit(eventbus.TopicPluginStarted, lifecycleEvent{Plugin: name})
}

func (m *Manager) stopLocked(ctx context.Context, name string) {
	st := m.states[name]
	if !st.running {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, stopTimeout)
	err := m.safeCall(name, "stop", func() error {
		return st.plugin.Stop(sctx)
	})
	cancel()

	st.cancel()
	st.cancel = nil
	st.running = false
	if err != nil {
		st.lastErr = err.Error()
		st.failedAt = time.Now()
		m.log.Warn("plugin stop reported error", logx.String("plugin", name), logx.Err(err))
		m.emit(eventbus.TopicPluginFailed, lifecycleEvent{Plugin: name, Stage: "stop", Err: err.Error()})
		return
	}
	m.log.Info("plugin stopped", logx.String("plugin", name))
	m.emit(eventbus.TopicPluginStopped, lifecycleEvent{Plugin: name})
}

// safeCall converts a plugin panic into an error so one misbehaving
// plugin cannot take down the process.
func (m *Manager) safeCall(name, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
			m.log.Error("plugin panic",
				logx.String("plugin", name),
				logx.String("stage", stage),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn()
}

func (m *Manager) depsFor(name string) Deps {
	d := m.deps
	d.Logger = m.deps.Logger.With(logx.String("plugin", name))
	return d
}

func (m *Manager) emit(topic string, data lifecycleEvent) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(eventbus.Event{Type: topic, Data: data})
}

func pluginConfig(cfg *config.Config, name string) (config.PluginConfigRaw, bool) {
	if cfg == nil || cfg.Plugins == nil {
		return config.PluginConfigRaw{}, false
	}
	raw, ok := cfg.Plugins[name]
	if !ok {
		return config.PluginConfigRaw{}, false
	}
	return raw, raw.Enabled
}
