package config

import (
	"sort"
	"strings"

	logx "tokbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) a list of plugin names that changed (enable/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Gateway (the room change is the one operators actually do mid-session)
	if strings.TrimSpace(oldCfg.Gateway.URL) != strings.TrimSpace(newCfg.Gateway.URL) ||
		strings.TrimSpace(oldCfg.Gateway.Room) != strings.TrimSpace(newCfg.Gateway.Room) ||
		strings.TrimSpace(oldCfg.Gateway.ReconnectDelay) != strings.TrimSpace(newCfg.Gateway.ReconnectDelay) ||
		strings.TrimSpace(oldCfg.Gateway.PingInterval) != strings.TrimSpace(newCfg.Gateway.PingInterval) {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.room", strings.TrimSpace(newCfg.Gateway.Room)),
			logx.String("gateway.reconnect_delay", strings.TrimSpace(newCfg.Gateway.ReconnectDelay)),
		)
	}

	// Dedup
	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.String("dedup.event_window", strings.TrimSpace(newCfg.Dedup.EventWindow)),
			logx.Int("dedup.event_max_entries", newCfg.Dedup.EventMaxEntries),
			logx.String("dedup.bucket", strings.TrimSpace(newCfg.Dedup.Bucket)),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.remote_enabled", newCfg.Logging.Remote.Enabled),
		)
	}

	// API (never log token)
	if boolPtr(oldCfg.API.Enabled, true) != boolPtr(newCfg.API.Enabled, true) ||
		strings.TrimSpace(oldCfg.API.Addr) != strings.TrimSpace(newCfg.API.Addr) ||
		oldCfg.API.Metrics != newCfg.API.Metrics {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", boolPtr(newCfg.API.Enabled, true)),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.metrics", newCfg.API.Metrics),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Telegram (never log token)
	if telegramChanged(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.configured", newCfg.Telegram != nil && strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	if notifyChanged(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
	}
	if storageChanged(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	pluginNames := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginNames) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed", len(pluginNames)),
			logx.Int("plugins.enabled", countEnabled(newCfg.Plugins)),
		)
	}

	return changed, attrs, pluginNames
}

func telegramChanged(o, n *TelegramConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return *o != *n
}

func notifyChanged(o, n *NotifyConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return *o != *n
}

func storageChanged(o, n *StorageConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return *o != *n
}

func boolPtr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, p := range m {
		if p.Enabled {
			n++
		}
	}
	return n
}

// diffPlugins lists plugins whose enable flag or config blob changed.
func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	names := map[string]struct{}{}
	for name := range oldM {
		names[name] = struct{}{}
	}
	for name := range newM {
		names[name] = struct{}{}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		o, okO := oldM[name]
		n, okN := newM[name]
		if okO != okN {
			out = append(out, name)
			continue
		}
		if o.Enabled != n.Enabled {
			out = append(out, name)
			continue
		}
		if canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
