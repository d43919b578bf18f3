package plugin

import (
	"context"
	"encoding/json"

	"tokbot/internal/catalog"
	"tokbot/internal/config"
	"tokbot/internal/eventbus"
	"tokbot/internal/pipeline"
	"tokbot/internal/services/notify"
	"tokbot/internal/services/scheduler"
	"tokbot/internal/storage"
	logx "tokbot/pkg/logx"
)

// Plugin is the lifecycle contract for an in-process plugin.
//
// Init is called once with the shared dependencies; Start/Stop may be
// called repeatedly as the plugin is enabled and disabled via config.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ConfigurablePlugin receives its raw config blob when it changes while
// the plugin is running. Returning an error restarts the plugin.
type ConfigurablePlugin interface {
	Plugin
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to reject a plugin config before
// it is applied.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// Deps are the shared services handed to every plugin at Init.
// Optional fields are nil when the backing service is disabled.
type Deps struct {
	Logger     logx.Logger
	Config     *config.ConfigManager
	Bus        eventbus.Bus
	Store      storage.Store // nil when storage is disabled
	Dispatcher *pipeline.Dispatcher
	Scheduler  *scheduler.Service
	Notify     *notify.Service // nil when notifications are disabled
	Catalog    *catalog.Catalog
}

// DecodeConfig decodes a per-plugin raw json blob into a typed config.
func DecodeConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
