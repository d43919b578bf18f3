// Package app wires the services together: config, logging, storage,
// the ingest pipeline, the gateway source, plugins, and the HTTP
// surfaces. It owns startup order and the reverse shutdown order.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"tokbot/internal/catalog"
	"tokbot/internal/config"
	"tokbot/internal/eventbus"
	"tokbot/internal/live"
	"tokbot/internal/observability/metrics"
	"tokbot/internal/observability/pprof"
	"tokbot/internal/pipeline"
	"tokbot/internal/plugin"
	"tokbot/internal/runtime/supervisor"
	"tokbot/internal/services/notify"
	"tokbot/internal/services/scheduler"
	"tokbot/internal/storage"
	"tokbot/internal/transport/httpapi"
	"tokbot/internal/transport/telegram"
	logx "tokbot/pkg/logx"
	"tokbot/pkg/systemd"
)

type App struct {
	configPath string
	registered []plugin.Plugin

	// set during Run
	log logx.Logger
}

func New(configPath string) *App {
	return &App{configPath: configPath}
}

// Register queues plugins for the manager. Must be called before Run.
func (a *App) Register(ps ...plugin.Plugin) {
	a.registered = append(a.registered, ps...)
}

// Run blocks until ctx is canceled, then shuts everything down in
// reverse start order. It returns only startup errors; runtime errors
// are logged and survived.
func (a *App) Run(ctx context.Context) error {
	// .env is optional; the environment always wins.
	_ = godotenv.Load()

	cfgm := config.NewConfigManager(a.configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(buildLogConfig(cfg.Logging))
	defer func() { _ = logSvc.Close() }()
	a.log = log
	cfgm.SetLogger(log)

	log.Info("tokbot starting",
		logx.String("room", cfg.Gateway.Room),
		logx.String("config", a.configPath))

	bus := eventbus.New()

	store, err := storage.Open(buildStorageConfig(cfg.Storage), log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	cat := catalog.New(store, log)

	// The gauges read through pointers filled in just below.
	var (
		pl  *pipeline.Pipeline
		src *live.Source
	)
	metricsSvc := metrics.New(
		func() float64 {
			if pl == nil {
				return 0
			}
			return float64(pl.Stats().EventCacheSize)
		},
		func() float64 {
			if src == nil || !src.Connected() {
				return 0
			}
			return 1
		},
	)

	disp := pipeline.NewDispatcher(log, metricsSvc)
	pl = pipeline.New(buildPipelineConfig(cfg.Dedup), cat, disp, log, metricsSvc, nil)
	src = live.NewSource(buildSourceConfig(cfg.Gateway),
		func(ctx context.Context, kind live.Kind, data live.RawEvent) {
			pl.Ingest(ctx, kind, data)
		}, bus, log)

	// Outbound: Telegram adapter behind the notify queue.
	var notifySvc *notify.Service
	tgCfg, haveTelegram := buildTelegramConfig(cfg.Telegram)
	if haveTelegram {
		sender, err := telegram.New(tgCfg, log)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifySvc = notify.New(buildNotifyConfig(cfg.Notify, true), sender, log)
	}

	sched := scheduler.New(buildSchedulerConfig(cfg.Scheduler), log)

	pm := plugin.NewManager(log, plugin.Deps{
		Logger:     log,
		Config:     cfgm,
		Bus:        bus,
		Store:      store,
		Dispatcher: disp,
		Scheduler:  sched,
		Notify:     notifySvc,
		Catalog:    cat,
	})
	pm.Register(a.registered...)

	cfgm.SetValidator(func(vctx context.Context, c *config.Config) error {
		if err := validateConfig(vctx, c); err != nil {
			return err
		}
		return pm.ValidateConfig(vctx, c)
	})

	apiDeps := httpapi.Deps{
		Pipeline: pl,
		Gateway: func() httpapi.GatewayStatus {
			return httpapi.GatewayStatus{
				Connected:   src.Connected(),
				Room:        cfg.Gateway.Room,
				LastEventAt: src.LastEventAt(),
			}
		},
		Plugins: pm.Snapshot,
		Jobs:    sched.Jobs,
		Metrics: metricsSvc.Handler(),
	}
	wireAPIPlugins(&apiDeps, a.registered)
	api := httpapi.New(buildAPIConfig(cfg.API), apiDeps, log)

	pprofSvc := pprof.New(buildPprofConfig(cfg.Pprof), log)

	// ---- start ----

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(log),
		supervisor.WithCancelOnError(false))

	if notifySvc != nil {
		notifySvc.Start(ctx)
		if cfg.Logging.Remote.Enabled {
			logSvc.SetSink(notify.LogSink{Svc: notifySvc})
		}
	}
	if cfg.Scheduler.Enabled {
		sched.Start(ctx)
	}
	if err := pm.StartAll(ctx); err != nil {
		return fmt.Errorf("plugins: %w", err)
	}
	api.Start(ctx)
	pprofSvc.Reconfigure(ctx, buildPprofConfig(cfg.Pprof))

	sup.Go("gateway", func(c context.Context) error {
		src.Run(c)
		return nil
	})
	sup.GoRestart("config.watch", cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	sup.Go("bus.lifecycle", func(c context.Context) error {
		a.watchBus(c, bus, pl)
		return nil
	})

	cfgCh := cfgm.Subscribe(4)
	sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c, cfgCh, cfgm, cfg, logSvc, pl, sched, pm, api, pprofSvc)
		return nil
	})

	sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.RunWatchdog(c)
	})
	systemd.NotifyReady()
	systemd.NotifyStatus("ingesting room " + cfg.Gateway.Room)
	log.Info("tokbot started")

	<-ctx.Done()

	// ---- shutdown, reverse order ----

	systemd.NotifyStopping()
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pm.StopAll(stopCtx)
	api.Stop(stopCtx)
	pprofSvc.Stop(stopCtx)
	sched.Stop(stopCtx)
	if notifySvc != nil {
		notifySvc.Stop(stopCtx)
	}
	cfgm.Unsubscribe(cfgCh)

	sup.Cancel()
	_ = sup.Wait(stopCtx)

	log.Info("tokbot stopped")
	return nil
}

// watchBus reacts to lifecycle topics: a gateway disconnect clears the
// dedup caches so a fresh session never has events suppressed by stale
// keys from the previous one.
func (a *App) watchBus(ctx context.Context, bus eventbus.Bus, pl *pipeline.Pipeline) {
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == eventbus.TopicGatewayDisconnected {
				pl.Reset()
			}
		}
	}
}

func (a *App) reloadLoop(
	ctx context.Context,
	ch chan *config.Config,
	cfgm *config.ConfigManager,
	prev *config.Config,
	logSvc *logx.Service,
	pl *pipeline.Pipeline,
	sched *scheduler.Service,
	pm *plugin.Manager,
	api *httpapi.Service,
	pprofSvc *pprof.Service,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			sections, fields, pluginNames := config.SummarizeConfigChange(prev, cfg)
			a.log.Info("config reloaded",
				append(fields,
					logx.Any("sections", sections),
					logx.Any("plugins", pluginNames))...)

			logSvc.Apply(buildLogConfig(cfg.Logging))
			pl.Retune(buildPipelineConfig(cfg.Dedup))
			sched.Apply(buildSchedulerConfig(cfg.Scheduler))
			api.Reconfigure(ctx, buildAPIConfig(cfg.API))
			pprofSvc.Reconfigure(ctx, buildPprofConfig(cfg.Pprof))
			pm.OnConfigUpdate(ctx, cfg)

			// Gateway and storage changes need a restart; say so rather
			// than silently ignoring them.
			if prev.Gateway != cfg.Gateway {
				a.log.Warn("gateway config changed; restart required to apply")
			}
			if storageChanged(prev.Storage, cfg.Storage) {
				a.log.Warn("storage config changed; restart required to apply")
			}
			prev = cfg
		}
	}
}

func storageChanged(o, n *config.StorageConfig) bool {
	switch {
	case o == nil && n == nil:
		return false
	case o == nil || n == nil:
		return true
	}
	return *o != *n
}
