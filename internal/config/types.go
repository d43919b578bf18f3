package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Logging LoggingConfig `json:"logging"`

	// Dedup tunes the per-room duplicate suppression caches.
	Dedup DedupConfig `json:"dedup,omitempty"`

	API   APIConfig   `json:"api,omitempty"`
	Pprof PprofConfig `json:"pprof,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// Telegram is optional; without it the alerts plugin and the remote
	// log sink stay dormant.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Notify   *NotifyConfig   `json:"notify,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

// GatewayConfig points at the upstream live-event gateway.
//
// The API key is deliberately NOT part of the config file: it is read from
// the TOKBOT_GATEWAY_KEY environment variable (a .env file is honored), so
// config files can be shared and committed without leaking credentials.
type GatewayConfig struct {
	// URL is the websocket endpoint, e.g. "wss://gateway.example/ws".
	URL string `json:"url"`

	// Room is the creator's unique_id whose live room to join.
	Room string `json:"room"`

	// Durations are Go duration strings (e.g. "5s").
	ReconnectDelay   string `json:"reconnect_delay,omitempty"`
	PingInterval     string `json:"ping_interval,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
}

// DedupConfig tunes the duplicate suppression layer. All durations are Go
// duration strings. Zero values use the pipeline defaults
// (60s/1000 events, 30s/500 messages, 1s bucket).
type DedupConfig struct {
	EventWindow     string `json:"event_window,omitempty"`
	EventMaxEntries int    `json:"event_max_entries,omitempty"`

	MessageWindow     string `json:"message_window,omitempty"`
	MessageMaxEntries int    `json:"message_max_entries,omitempty"`

	// Bucket is the timestamp rounding granularity used in dedup keys.
	Bucket string `json:"bucket,omitempty"`
}

// APIConfig controls the local HTTP API (stats, goals, overlay data,
// Prometheus metrics).
//
// Enabled is a pointer so "omitted" defaults to true while an explicit
// false still turns the server off.
type APIConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:3000"

	// Token optionally protects mutating endpoints (cache clear).
	Token string `json:"token,omitempty"`

	Metrics bool `json:"metrics"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// NotifyConfig controls the async notification queue in front of the
// Telegram adapter. All durations are Go duration strings. If the whole
// section is omitted, the notifier defaults to enabled when Telegram is
// configured.
type NotifyConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tokbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string          `json:"level"`
	Console bool            `json:"console"`
	File    FileLogConfig   `json:"file,omitempty"`
	Remote  RemoteLogConfig `json:"remote,omitempty"`
}

type FileLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// RemoteLogConfig mirrors warnings+ into the configured Telegram chat so
// problems surface while the streamer is live and not watching a console.
type RemoteLogConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields to ensure removed legacy keys
// are caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
