// Package speedtest measures upload bandwidth against the nearest
// speedtest.net server. It is tuned for stream-health checks: upload is
// what a live encoder needs, so download is optional and off by default.
package speedtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// RunConfig controls a measurement run.
type RunConfig struct {
	// ServerCount is how many nearby candidate servers to ping before
	// picking the lowest-latency one.
	ServerCount int
	// WithDownload also runs the download leg (heavier, rarely needed).
	WithDownload bool
	// SavingMode trades accuracy for lower memory use.
	SavingMode bool
	// MaxConnections caps parallel test connections.
	MaxConnections int
}

// Result is a single measurement.
type Result struct {
	Timestamp    time.Time     `json:"timestamp"`
	UploadMbps   float64       `json:"upload_mbps"`
	DownloadMbps float64       `json:"download_mbps,omitempty"`
	PingMs       float64       `json:"ping_ms"`
	ServerName   string        `json:"server_name"`
	Duration     time.Duration `json:"-"`
}

type Runner struct {
	cfg RunConfig
}

func NewRunner(cfg RunConfig) *Runner {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 3
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	return &Runner{cfg: cfg}
}

// Run executes one measurement. The context bounds the whole run,
// including server discovery.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	// Avoid package-level helpers; speedtest-go keeps package state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     r.cfg.SavingMode,
		MaxConnections: r.cfg.MaxConnections,
	}))

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if len(servers) == 0 {
		return nil, errors.New("no speedtest servers available")
	}
	if len(servers) > r.cfg.ServerCount {
		servers = servers[:r.cfg.ServerCount]
	}

	for _, s := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = s.PingTestContext(ctx, nil)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Latency < servers[j].Latency })

	best := servers[0]
	if err := best.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test (%s): %w", best.Name, err)
	}
	res := &Result{
		Timestamp:  start,
		UploadMbps: best.ULSpeed.Mbps(),
		PingMs:     float64(best.Latency.Milliseconds()),
		ServerName: best.Name,
	}
	if r.cfg.WithDownload {
		if err := best.DownloadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("download test (%s): %w", best.Name, err)
		}
		res.DownloadMbps = best.DLSpeed.Mbps()
	}
	stc.Reset()

	res.Duration = time.Since(start)
	return res, nil
}
