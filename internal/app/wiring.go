package app

import (
	"context"

	"tokbot/internal/plugin"
	"tokbot/internal/plugin/builtin/goals"
	"tokbot/internal/storage"
	"tokbot/internal/transport/httpapi"
)

// wireAPIPlugins connects API endpoints to the plugins that can serve
// them. Endpoints stay 404 when the matching plugin is not registered.
func wireAPIPlugins(deps *httpapi.Deps, ps []plugin.Plugin) {
	for _, p := range ps {
		if g, ok := p.(interface{ Current() goals.Snapshot }); ok {
			deps.Goals = func() any { return g.Current() }
		}
		if x, ok := p.(interface {
			Top(ctx context.Context, limit int) ([]storage.XPEntry, error)
		}); ok {
			deps.TopXP = x.Top
		}
	}
}
