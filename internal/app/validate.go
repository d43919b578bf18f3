package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokbot/internal/config"
)

// validateConfig checks everything that would otherwise fail quietly at
// use time: duration strings, required gateway fields, and timezone.
// Runs both at startup and as the hot-reload validator, so a bad edit
// never replaces a good running config.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Gateway.URL) == "" {
		return errors.New("gateway.url is required")
	}
	if strings.TrimSpace(cfg.Gateway.Room) == "" {
		return errors.New("gateway.room is required")
	}

	durations := []struct{ path, raw string }{
		{"gateway.reconnect_delay", cfg.Gateway.ReconnectDelay},
		{"gateway.ping_interval", cfg.Gateway.PingInterval},
		{"gateway.handshake_timeout", cfg.Gateway.HandshakeTimeout},
		{"dedup.event_window", cfg.Dedup.EventWindow},
		{"dedup.message_window", cfg.Dedup.MessageWindow},
		{"dedup.bucket", cfg.Dedup.Bucket},
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
		{"api.idle_timeout", cfg.API.IdleTimeout},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	}
	if n := cfg.Notify; n != nil {
		durations = append(durations,
			struct{ path, raw string }{"notify.retry_base", n.RetryBase},
			struct{ path, raw string }{"notify.retry_max_delay", n.RetryMaxDelay})
	}
	if s := cfg.Storage; s != nil {
		durations = append(durations,
			struct{ path, raw string }{"storage.busy_timeout", s.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := config.ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if t := cfg.Telegram; t != nil {
		if t.Token == "" || t.ChatID == 0 {
			return errors.New("telegram requires both token and chat_id")
		}
	}

	return nil
}
