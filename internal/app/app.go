package app

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/extension"
	"github.com/vk/modkit/internal/manager"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	assets  *assets.Registry
	manager *manager.Manager

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and registries.
// When no extension modules are given, the compiled-in core set is used.
func NewApp(outW io.Writer, config *Config, mods ...extension.Module) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	exts := extension.NewRegistry()
	if len(mods) == 0 {
		mods = coreModules
	}
	for _, mod := range mods {
		mod.Register(exts)
	}
	logger.Debug("All extension modules registered.", "count", len(mods))

	assetReg := assets.NewRegistry()

	mgr, err := manager.New(manager.Options{
		ModsRoot:     config.ModsRoot,
		Preload:      config.Preload,
		WatchContent: config.Watch,
	}, exts, assetReg, logger)
	if err != nil {
		// A broken manager configuration is a fatal startup error.
		panic(fmt.Errorf("failed to configure mod manager: %w", err))
	}

	return &App{
		outW:    outW,
		logger:  logger,
		config:  config,
		assets:  assetReg,
		manager: mgr,
	}
}

// Manager returns the application's mod manager. This is primarily for testing.
func (a *App) Manager() *manager.Manager {
	return a.manager
}

// Assets returns the application's asset registry. This is primarily for testing.
func (a *App) Assets() *assets.Registry {
	return a.assets
}
