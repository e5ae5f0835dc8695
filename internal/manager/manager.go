// Package manager drives the mod lifecycle: discovering mod directories,
// parsing manifests, resolving dependency order, loading mods concurrently
// behind a dependency gate, hot-reloading a single mod, and ticking every
// loaded mod once per update pass.
package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/extension"
	"github.com/vk/modkit/internal/host"
)

const (
	// defaultPollInterval paces the dependency-wait loop.
	defaultPollInterval = 25 * time.Millisecond
	// defaultMaxStalledPolls bounds how many consecutive polls may pass
	// without any mod in the batch finishing before the remaining waiters
	// are told to stop waiting.
	defaultMaxStalledPolls = 40
)

// Options configure a Manager.
type Options struct {
	// ModsRoot is the directory whose immediate subdirectories are mods.
	ModsRoot string
	// Loader decodes raw asset bytes into cache values. Defaults to
	// RawLoader.
	Loader assets.Loader
	// Preload eagerly loads every asset of a mod right after the mod
	// itself loads.
	Preload bool
	// WatchContent watches each mod's content root and refreshes changed
	// assets in place.
	WatchContent bool
	// PollInterval overrides the dependency-wait poll pace.
	PollInterval time.Duration
	// MaxStalledPolls overrides the no-progress bound of the wait loop.
	MaxStalledPolls int
}

// RawLoader is the default asset loader: the cached value is the asset's
// raw bytes.
func RawLoader(_ context.Context, _ string, r io.Reader) (any, error) {
	return io.ReadAll(r)
}

// Manager owns the mod registry and the shared runtime the mods plug into.
type Manager struct {
	opts   Options
	logger *slog.Logger
	assets *assets.Registry
	host   *host.Host
	mods   *registry

	// watchCtx outlives individual LoadBatch calls; content and manifest
	// watches run until Close cancels it.
	watchCtx    context.Context
	watchCancel context.CancelFunc
}

// New builds a Manager over the given extension and asset registries.
func New(opts Options, exts *extension.Registry, assetReg *assets.Registry, logger *slog.Logger) (*Manager, error) {
	if opts.ModsRoot == "" {
		return nil, errors.New("manager: ModsRoot is required")
	}
	if opts.Loader == nil {
		opts.Loader = RawLoader
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxStalledPolls <= 0 {
		opts.MaxStalledPolls = defaultMaxStalledPolls
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:        opts,
		logger:      logger,
		assets:      assetReg,
		host:        host.New(exts),
		mods:        newModRegistry(),
		watchCtx:    ctx,
		watchCancel: cancel,
	}, nil
}

// Mods returns every registered mod, sorted by name.
func (m *Manager) Mods() []*Mod {
	return m.mods.snapshot()
}

// Mod returns the mod registered under name.
func (m *Manager) Mod(name string) (*Mod, bool) {
	return m.mods.get(name)
}

// Assets returns the shared asset registry.
func (m *Manager) Assets() *assets.Registry {
	return m.assets
}

// Close unloads every mod, closes its cache, and stops all watches. The
// context bounds the per-mod unload waits.
func (m *Manager) Close(ctx context.Context) error {
	m.watchCancel()

	var errs []error
	for _, mod := range m.mods.snapshot() {
		if inst := mod.Instance(); inst != nil {
			if err := inst.Unload(ctx); err != nil {
				errs = append(errs, &LoadError{Mod: mod.Name(), Err: err})
			}
		}
		if cache := mod.Cache(); cache != nil {
			if err := cache.Close(); err != nil {
				errs = append(errs, &LoadError{Mod: mod.Name(), Err: err})
			}
		}
		m.mods.remove(mod.Name())
	}
	m.logger.Info("Mod manager shut down.")
	return errors.Join(errs...)
}

// modHost is the extension.Host a loaded code module sees.
type modHost struct {
	name   string
	logger *slog.Logger
	assets *assets.Registry
}

func (h *modHost) ModName() string          { return h.name }
func (h *modHost) Logger() *slog.Logger     { return h.logger }
func (h *modHost) Assets() *assets.Registry { return h.assets }

var _ extension.Host = (*modHost)(nil)
