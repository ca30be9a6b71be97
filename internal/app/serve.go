package app

import (
	"context"
	"fmt"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/watch"
)

// Serve keeps the registries resident until ctx is cancelled, serving the
// health endpoint and, when enabled, reloading registries as their plugin
// files change.
func (a *App) Serve(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Serve method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer() //nolint:errcheck // logged inside

	if !a.config.Watch {
		a.logger.Info("Serving.", "id", a.opts["id"], "tags", a.Tags())
		<-ctx.Done()
		return nil
	}

	w, err := watch.New(ctx, watch.Config{
		Dirs: a.watchDirs(),
		OnChange: func(ctx context.Context, changed []string) error {
			a.ClearFor(ctx, changed)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	a.logger.Info("Watching plugin directories.", "roots", w.Roots(), "waiting", w.Waiting())
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watcher stopped: %w", err)
	}
	a.logger.Debug("App.Serve method finished.")
	return nil
}
