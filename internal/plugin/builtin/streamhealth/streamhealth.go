// Package streamhealth runs a periodic upload-bandwidth measurement.
// A live encoder needs upload headroom; when the measured rate drops
// below the warn threshold the result is pushed through notify.
package streamhealth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tokbot/internal/plugin"
	logx "tokbot/pkg/logx"
	"tokbot/pkg/speedtest"
)

type Config struct {
	// Schedule accepts cron, duration, or HH:MM forms. Default hourly.
	Schedule string `json:"schedule,omitempty"`
	// WarnBelowMbps triggers a notification when upload drops under it.
	WarnBelowMbps float64 `json:"warn_below_mbps,omitempty"`
	// Timeout bounds one measurement run.
	Timeout string `json:"timeout,omitempty"`
	// WithDownload also measures download.
	WithDownload bool `json:"with_download,omitempty"`
}

type Plugin struct {
	plugin.Base

	mu   sync.Mutex
	cfg  Config
	last *speedtest.Result
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "streamhealth" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)

	raw := p.Deps.Config.Get().Plugins[p.Name()].Config
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	timeout := 3 * time.Minute
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	return p.Schedule("check", schedule, timeout, p.check)
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return err
	}
	if cfg.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}
	return nil
}

func (p *Plugin) check(ctx context.Context) error {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	runner := speedtest.NewRunner(speedtest.RunConfig{
		WithDownload: cfg.WithDownload,
	})
	res, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("speedtest: %w", err)
	}

	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	p.Log.Info("stream health check",
		logx.Float64("upload_mbps", res.UploadMbps),
		logx.Float64("ping_ms", res.PingMs),
		logx.String("server", res.ServerName),
		logx.Duration("took", res.Duration))

	if cfg.WarnBelowMbps > 0 && res.UploadMbps < cfg.WarnBelowMbps {
		p.Notify(8, fmt.Sprintf("⚠️ Upload bandwidth low: %.1f Mbps (warn below %.1f)",
			res.UploadMbps, cfg.WarnBelowMbps))
	}
	return nil
}

// Last reports the most recent measurement for the status API.
func (p *Plugin) Last() *speedtest.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	cp := *p.last
	return &cp
}
