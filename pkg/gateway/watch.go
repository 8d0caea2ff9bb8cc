package gateway

import (
	"context"

	"github.com/jllopis/hive/pkg/config"
)

// Watch reloads the gateway whenever w reports a new configuration. Reloads
// run with ctx, so cancelling it stops further reloads from doing work.
func (g *Gateway) Watch(ctx context.Context, w *config.Watcher) {
	w.OnChange(func(cfg *config.Config) {
		if ctx.Err() != nil {
			return
		}
		if err := g.Reload(ctx, cfg.ServerConfigs()); err != nil {
			g.logger.ErrorContext(ctx, "reload after config change failed", "error", err)
		}
	})
}
