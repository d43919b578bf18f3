// Package httpapi serves the local operational API: dedup stats and
// cache clear, goal progress, the XP leaderboard, runtime status, and
// Prometheus metrics. It binds to loopback by default; mutating
// endpoints can be token-protected.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tokbot/internal/pipeline"
	"tokbot/internal/plugin"
	rtsup "tokbot/internal/runtime/supervisor"
	"tokbot/internal/services/scheduler"
	"tokbot/internal/storage"
	logx "tokbot/pkg/logx"
)

const defaultAddr = "127.0.0.1:3000"

type Config struct {
	Enabled bool
	Addr    string
	Token   string // protects mutating endpoints when set
	Metrics bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GatewayStatus is the gateway section of /api/status.
type GatewayStatus struct {
	Connected   bool      `json:"connected"`
	Room        string    `json:"room"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

// Deps are the read surfaces the API exposes. Nil funcs disable the
// corresponding endpoint with 404.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Gateway  func() GatewayStatus
	Plugins  func() []plugin.Status
	Goals    func() any
	TopXP    func(ctx context.Context, limit int) ([]storage.XPEntry, error)
	Jobs     func() []scheduler.JobInfo
	Metrics  http.Handler
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	deps    Deps
	started time.Time

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "api"))}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.started = time.Now()
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	sup := s.sup
	s.srv = nil
	s.ln = nil
	s.sup = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
}

// Reconfigure restarts the server when the listen config changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled && running:
		s.Stop(ctx)
	case cfg.Enabled && !running:
		s.Start(ctx)
	case cfg.Enabled && running && prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.routes(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("api started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("api server exited unexpectedly")
	}
	return err
}

func (s *Service) routes(cur Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/deduplication-stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.deps.Pipeline.Stats())
	})

	mux.HandleFunc("POST /api/deduplication-clear", s.withToken(cur.Token, func(w http.ResponseWriter, r *http.Request) {
		s.deps.Pipeline.Reset()
		writeJSON(w, map[string]bool{"cleared": true})
	}))

	if s.deps.Goals != nil {
		mux.HandleFunc("GET /api/goals", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.deps.Goals())
		})
	}

	if s.deps.TopXP != nil {
		mux.HandleFunc("GET /api/xp/top", func(w http.ResponseWriter, r *http.Request) {
			limit := 10
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 || n > 100 {
					http.Error(w, "limit must be 1..100", http.StatusBadRequest)
					return
				}
				limit = n
			}
			entries, err := s.deps.TopXP(r.Context(), limit)
			if err != nil {
				s.log.Warn("xp leaderboard read failed", logx.Err(err))
				http.Error(w, "storage error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, entries)
		})
	}

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		st := map[string]any{
			"uptime": time.Since(s.started).Round(time.Second).String(),
			"dedup":  s.deps.Pipeline.Stats(),
		}
		if s.deps.Gateway != nil {
			st["gateway"] = s.deps.Gateway()
		}
		if s.deps.Plugins != nil {
			st["plugins"] = s.deps.Plugins()
		}
		if s.deps.Jobs != nil {
			st["jobs"] = s.deps.Jobs()
		}
		writeJSON(w, st)
	})

	if cur.Metrics && s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return mux
}

func (s *Service) withToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		const p = "Bearer "
		if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
