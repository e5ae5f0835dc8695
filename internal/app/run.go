package app

import (
	"context"
	"errors"
	"time"

	"github.com/vk/modkit/internal/ctxlog"
)

// Run executes the main application lifecycle: load the mod batch, start
// the optional watches and status server, drive the update loop, then shut
// everything down.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.StatusPort > 0 {
		a.startStatusServer(a.config.StatusPort)
	}

	if err := a.manager.LoadBatch(ctx); err != nil {
		a.shutdown(ctx)
		return err
	}

	if a.config.Watch {
		if err := a.manager.WatchManifests(); err != nil {
			a.logger.Warn("Manifest watch unavailable.", "error", err)
		}
	}

	err := a.updateLoop(ctx)

	a.shutdown(ctx)
	a.logger.Debug("App.Run method finished.")
	return err
}

// updateLoop ticks every loaded mod at the configured interval until the
// requested tick count is reached or the context ends. Tick failures are
// already logged per mod; the loop keeps going.
func (a *App) updateLoop(ctx context.Context) error {
	if a.config.TickCount == 0 {
		a.logger.Info("No update ticks requested, exiting after load.")
		return nil
	}

	a.logger.Info("🚀 Update loop starting.",
		"interval", a.config.TickInterval, "ticks", a.config.TickCount)

	ticker := time.NewTicker(a.config.TickInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				a.logger.Info("Update loop stopped.")
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			_ = a.manager.Update(ctx)
			ticks++
			if a.config.TickCount > 0 && ticks >= a.config.TickCount {
				a.logger.Info("🏁 Update loop finished.", "ticks", ticks)
				return nil
			}
		}
	}
}

func (a *App) shutdown(ctx context.Context) {
	a.closeStatusServer(ctx)
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Error("Shutdown left failures behind.", "error", err)
	}
}
