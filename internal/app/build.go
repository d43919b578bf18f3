package app

import (
	"os"
	"time"

	"tokbot/internal/config"
	"tokbot/internal/live"
	"tokbot/internal/observability/pprof"
	"tokbot/internal/pipeline"
	"tokbot/internal/services/notify"
	"tokbot/internal/services/scheduler"
	"tokbot/internal/storage"
	"tokbot/internal/transport/httpapi"
	"tokbot/internal/transport/telegram"
	logx "tokbot/pkg/logx"
)

// gatewayKeyEnv holds the gateway API key; it is deliberately not part
// of the config file.
const gatewayKeyEnv = "TOKBOT_GATEWAY_KEY"

func buildLogConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
		},
		Remote: logx.RemoteConfig{
			Enabled:    c.Remote.Enabled,
			MinLevel:   c.Remote.MinLevel,
			RatePerSec: c.Remote.RatePerSec,
		},
	}
}

func buildSourceConfig(c config.GatewayConfig) live.SourceConfig {
	return live.SourceConfig{
		URL:              c.URL,
		Room:             c.Room,
		APIKey:           os.Getenv(gatewayKeyEnv),
		ReconnectDelay:   durationOr(c.ReconnectDelay, 0),
		PingInterval:     durationOr(c.PingInterval, 0),
		HandshakeTimeout: durationOr(c.HandshakeTimeout, 0),
	}
}

func buildPipelineConfig(c config.DedupConfig) pipeline.Config {
	return pipeline.Config{
		EventWindow:       durationOr(c.EventWindow, 0),
		EventMaxEntries:   c.EventMaxEntries,
		MessageWindow:     durationOr(c.MessageWindow, 0),
		MessageMaxEntries: c.MessageMaxEntries,
		Bucket:            durationOr(c.Bucket, 0),
	}
}

func buildAPIConfig(c config.APIConfig) httpapi.Config {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return httpapi.Config{
		Enabled:      enabled,
		Addr:         c.Addr,
		Token:        c.Token,
		Metrics:      c.Metrics,
		ReadTimeout:  durationOr(c.ReadTimeout, 5*time.Second),
		WriteTimeout: durationOr(c.WriteTimeout, 10*time.Second),
		IdleTimeout:  durationOr(c.IdleTimeout, time.Minute),
	}
}

func buildPprofConfig(c config.PprofConfig) pprof.Config {
	return pprof.Config{
		Enabled:       c.Enabled,
		Addr:          c.Addr,
		Prefix:        c.Prefix,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
		ReadTimeout:   durationOr(c.ReadTimeout, 5*time.Second),
		WriteTimeout:  durationOr(c.WriteTimeout, 0),
		IdleTimeout:   durationOr(c.IdleTimeout, time.Minute),
	}
}

func buildNotifyConfig(c *config.NotifyConfig, haveTelegram bool) notify.Config {
	if c == nil {
		// Default: enabled whenever Telegram is configured.
		return notify.Config{Enabled: haveTelegram}
	}
	return notify.Config{
		Enabled:       c.Enabled && haveTelegram,
		QueueSize:     c.QueueSize,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		RetryBase:     durationOr(c.RetryBase, 0),
		RetryMaxDelay: durationOr(c.RetryMaxDelay, 0),
	}
}

func buildStorageConfig(c *config.StorageConfig) storage.Config {
	if c == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: durationOr(c.BusyTimeout, 0),
	}
}

func buildTelegramConfig(c *config.TelegramConfig) (telegram.Config, bool) {
	if c == nil || c.Token == "" || c.ChatID == 0 {
		return telegram.Config{}, false
	}
	return telegram.Config{Token: c.Token, ChatID: c.ChatID, ThreadID: c.ThreadID}, true
}

func buildSchedulerConfig(c config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		Enabled:  c.Enabled,
		Timezone: c.Timezone,
	}
}

// durationOr parses a Go duration string, falling back on empty or
// invalid input. Validation rejects bad strings before they get here.
func durationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
