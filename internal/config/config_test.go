package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"gateway": {"url": "wss://gw.example/ws", "room": "creator", "reconnect_delay": "5s"},
		"logging": {"level": "debug", "console": true},
		"dedup": {"event_window": "45s", "event_max_entries": 2000},
		"api": {"enabled": false, "addr": "127.0.0.1:3100"},
		"plugins": {
			"goals": {"enabled": true, "config": {"target": 5000}}
		}
	}`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Gateway.URL != "wss://gw.example/ws" || cfg.Gateway.Room != "creator" {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Dedup.EventWindow != "45s" || cfg.Dedup.EventMaxEntries != 2000 {
		t.Fatalf("dedup = %+v", cfg.Dedup)
	}
	if cfg.API.Enabled == nil || *cfg.API.Enabled {
		t.Fatalf("api.enabled: want explicit false, got %v", cfg.API.Enabled)
	}
	pc, ok := cfg.Plugins["goals"]
	if !ok || !pc.Enabled {
		t.Fatalf("plugins[goals] = %+v ok=%v", pc, ok)
	}
	if !strings.Contains(string(pc.Config), "5000") {
		t.Fatalf("plugin raw config = %s", pc.Config)
	}
}

func TestParseYAMLCoercion(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
gateway:
  url: wss://gw.example/ws
  room: creator
logging:
  level: info
  console: true
scheduler:
  enabled: true
  timezone: UTC
plugins:
  xp:
    enabled: true
    config:
      chat_xp: 3
`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Gateway.Room != "creator" {
		t.Fatalf("gateway.room = %q", cfg.Gateway.Room)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if pc := cfg.Plugins["xp"]; !pc.Enabled || !strings.Contains(string(pc.Config), "chat_xp") {
		t.Fatalf("plugins[xp] = %+v", cfg.Plugins["xp"])
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		body string
	}{
		{"unknown top-level field", "config.json", `{"gateway": {"url": "x", "room": "r"}, "logging": {"level": "info"}, "bogus": 1}`},
		{"unknown nested field", "config.json", `{"gateway": {"url": "x", "room": "r", "nope": true}, "logging": {"level": "info"}}`},
		{"trailing data", "config.json", `{"gateway": {"url": "x", "room": "r"}, "logging": {"level": "info"}} {}`},
		{"invalid yaml", "config.yaml", "gateway: [unclosed"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tc.file, tc.body)
			if _, err := NewConfigManager(path).Parse(); err == nil {
				t.Fatalf("Parse: want error, got nil")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"empty means unset", "", 0, false},
		{"whitespace means unset", "  ", 0, false},
		{"plain", "30s", 30 * time.Second, false},
		{"compound", "1m30s", 90 * time.Second, false},
		{"negative rejected", "-5s", 0, true},
		{"bare number rejected", "30", 0, true},
		{"garbage rejected", "soon", 0, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDurationField("test.field", tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %v", d)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d != tc.want {
				t.Fatalf("got %v, want %v", d, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("f", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("f", "2s", 7*time.Second)
	if err != nil || d != 2*time.Second {
		t.Fatalf("set: got %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Gateway: GatewayConfig{URL: "wss://gw/ws", Room: "a"},
		Logging: LoggingConfig{Level: "info"},
		Plugins: map[string]PluginConfigRaw{
			"goals": {Enabled: true},
			"xp":    {Enabled: true},
		},
	}
	newCfg := &Config{
		Gateway: GatewayConfig{URL: "wss://gw/ws", Room: "b"},
		Logging: LoggingConfig{Level: "debug"},
		Plugins: map[string]PluginConfigRaw{
			"goals": {Enabled: false},
			"xp":    {Enabled: true},
		},
	}

	changed, _, plugins := SummarizeConfigChange(oldCfg, newCfg)

	want := map[string]bool{"gateway": true, "logging": true, "plugins": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, changed)
		}
	}
	if len(plugins) != 1 || plugins[0] != "goals" {
		t.Fatalf("plugins = %v", plugins)
	}
}

func TestSummarizeConfigChangeNoChange(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Gateway: GatewayConfig{URL: "wss://gw/ws", Room: "a"},
		Logging: LoggingConfig{Level: "info"},
	}
	changed, attrs, plugins := SummarizeConfigChange(cfg, cfg)
	if len(changed) != 0 || len(attrs) != 0 || len(plugins) != 0 {
		t.Fatalf("got changed=%v attrs=%d plugins=%v", changed, len(attrs), plugins)
	}
}
