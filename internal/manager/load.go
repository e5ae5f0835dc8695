package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/fsutil"
	"github.com/vk/modkit/internal/manifest"
	"github.com/vk/modkit/internal/modid"
	"github.com/vk/modkit/internal/resolver"
)

// batchState is shared by the waiters of one LoadBatch call. progress
// counts mods that finished (loaded or failed); waiters watch it to detect
// a stalled batch. Once any waiter flips skip, every remaining waiter
// stops waiting: those with unmet hard dependencies fail, those missing
// only optional ones proceed without them.
type batchState struct {
	progress atomic.Uint64
	skip     atomic.Bool
}

// LoadBatch discovers the mods under ModsRoot and loads them: manifests
// are parsed, the batch is ordered by dependencies, and the mods load
// concurrently, each gated on its own dependencies. Per-mod failures are
// recorded on the mod's registry slot and never abort the batch; LoadBatch
// itself only errors on discovery problems or context cancellation.
func (m *Manager) LoadBatch(ctx context.Context) error {
	dirs, err := fsutil.ListModDirs(m.opts.ModsRoot)
	if err != nil {
		return err
	}
	m.logger.Info("🔍 Discovering mods.", "root", m.opts.ModsRoot, "candidates", len(dirs))

	configs := m.parseManifests(dirs)
	order := m.resolveBatch(ctx, configs)
	if len(order) == 0 {
		m.logger.Info("Nothing to load.")
		return ctx.Err()
	}

	batch := &batchState{}
	var g errgroup.Group
	for _, cfg := range order {
		g.Go(func() error {
			m.loadMod(ctx, batch, cfg)
			return nil
		})
	}
	_ = g.Wait()

	var loaded, failed int
	for _, mod := range m.mods.snapshot() {
		switch mod.Status() {
		case StatusLoaded:
			loaded++
		case StatusFailed:
			failed++
		}
	}
	m.logger.Info("✅ Mod batch finished.", "loaded", loaded, "failed", failed)
	return ctx.Err()
}

// parseManifests turns mod directories into configs, recording every
// parse or naming failure against a registry slot.
func (m *Manager) parseManifests(dirs []string) []*manifest.Config {
	var configs []*manifest.Config
	for _, dir := range dirs {
		cfg, err := manifest.Load(filepath.Join(dir, manifest.FileName))
		if err != nil {
			m.recordFailure(filepath.Base(dir), dir, err)
			continue
		}

		mod := &Mod{name: cfg.ID.Name, dir: dir, status: StatusConfigParsed, config: cfg}
		if err := m.mods.add(mod); err != nil {
			// The name is held by a live mod; record the conflict under
			// the directory name so it stays visible.
			m.recordFailure(filepath.Base(dir), dir, err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs
}

// recordFailure parks a failed sentinel in the registry without clobbering
// a live mod that happens to share the slot name.
func (m *Manager) recordFailure(name, dir string, err error) {
	m.logger.Error("Mod failed before loading.", "mod", name, "dir", dir, "error", err)
	mod := &Mod{name: name, dir: dir}
	mod.fail(err)
	if !m.mods.put(mod) {
		m.logger.Warn("Failure slot occupied by a live mod, keeping the live one.", "mod", name)
	}
}

// resolveBatch orders the batch by dependencies. Resolution failures are
// per-mod: the offending mod (both ends, for a cycle) converts to failed
// and resolution retries with the remainder, so one bad mod never sinks
// the batch.
func (m *Manager) resolveBatch(ctx context.Context, batch []*manifest.Config) []*manifest.Config {
	alreadyLoaded := func(dep modid.Dependency) bool {
		return m.mods.depState(dep) == depMet
	}

	for len(batch) > 0 {
		order, err := resolver.Resolve(ctx, batch, alreadyLoaded)
		if err == nil {
			return order
		}

		var missing *resolver.MissingDependencyError
		var cycle *resolver.CycleError
		switch {
		case errors.As(err, &missing):
			batch = m.failAndDrop(batch, err, missing.Requester.Name)
		case errors.As(err, &cycle):
			batch = m.failAndDrop(batch, err, cycle.From.Name, cycle.To.Name)
		default:
			batch = m.failAndDrop(batch, err, namesOf(batch)...)
		}
	}
	return nil
}

// failAndDrop marks the named mods failed and removes them from the batch.
// Dropping a mod can orphan its dependents; the resolve loop retries until
// the remainder is consistent.
func (m *Manager) failAndDrop(batch []*manifest.Config, cause error, names ...string) []*manifest.Config {
	dropped := make(map[string]bool, len(names))
	for _, name := range names {
		dropped[name] = true
		if mod, ok := m.mods.get(name); ok {
			mod.fail(cause)
		}
		m.logger.Error("Mod excluded from batch.", "mod", name, "error", cause)
	}

	kept := batch[:0]
	for _, cfg := range batch {
		if !dropped[cfg.ID.Name] {
			kept = append(kept, cfg)
		}
	}
	return kept
}

func namesOf(batch []*manifest.Config) []string {
	names := make([]string, len(batch))
	for i, cfg := range batch {
		names[i] = cfg.ID.Name
	}
	return names
}

// loadMod runs one mod through the gate and load steps. All failures land
// on the mod's registry slot.
func (m *Manager) loadMod(ctx context.Context, batch *batchState, cfg *manifest.Config) {
	mod, ok := m.mods.get(cfg.ID.Name)
	if !ok {
		return
	}
	// Finishing, either way, is progress for the rest of the batch.
	defer batch.progress.Add(1)

	if err := m.awaitDependencies(ctx, batch, cfg); err != nil {
		mod.fail(err)
		m.logger.Error("Mod load abandoned.", "mod", mod.Name(), "error", err)
		return
	}
	mod.setStatus(StatusDependenciesSatisfied)

	mod.setStatus(StatusLoading)
	if err := m.attach(ctx, mod, cfg); err != nil {
		loadErr := &LoadError{Mod: mod.Name(), Err: err}
		mod.fail(loadErr)
		m.logger.Error("Mod load failed.", "mod", mod.Name(), "error", err)
		return
	}

	mod.markLoaded()
	m.logger.Info("📦 Mod loaded.", "mod", mod.Name(), "version", cfg.ID.Version.String())
}

// awaitDependencies polls until every declared dependency is loaded. When
// a hard dependency's provider fails, the wait fails immediately. When the
// whole batch makes no progress for MaxStalledPolls consecutive polls, the
// waiter raises the shared skip flag; under skip, waiters missing hard
// dependencies fail and waiters missing only optional ones proceed.
func (m *Manager) awaitDependencies(ctx context.Context, batch *batchState, cfg *manifest.Config) error {
	if len(cfg.Dependencies) == 0 {
		return nil
	}
	if mod, ok := m.mods.get(cfg.ID.Name); ok {
		mod.setStatus(StatusDependenciesPending)
	}

	lastProgress := batch.progress.Load()
	stalled := 0
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		var failedHard, pendingHard, pendingSoft []modid.Dependency
		for _, dep := range cfg.Dependencies {
			switch m.mods.depState(dep) {
			case depMet:
			case depPending:
				if dep.Optional {
					pendingSoft = append(pendingSoft, dep)
				} else {
					pendingHard = append(pendingHard, dep)
				}
			case depFailed:
				if !dep.Optional {
					failedHard = append(failedHard, dep)
				}
				// A failed optional dependency is simply skipped.
			}
		}

		if len(failedHard) > 0 {
			return &DependencyError{Mod: cfg.ID.Name, Unmet: failedHard}
		}
		if len(pendingHard) == 0 && len(pendingSoft) == 0 {
			return nil
		}
		if batch.skip.Load() {
			if len(pendingHard) > 0 {
				return &DependencyError{Mod: cfg.ID.Name, Unmet: pendingHard}
			}
			m.logger.Warn("Proceeding without optional dependencies.",
				"mod", cfg.ID.Name, "missing", len(pendingSoft))
			return nil
		}

		if p := batch.progress.Load(); p != lastProgress {
			lastProgress = p
			stalled = 0
		} else {
			stalled++
			if stalled >= m.opts.MaxStalledPolls {
				m.logger.Warn("Mod batch stalled, remaining waiters will stop waiting.",
					"mod", cfg.ID.Name, "polls", stalled)
				batch.skip.Store(true)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// attach sets up the mod's asset cache (reusing an existing one across hot
// reloads) and loads its code module.
func (m *Manager) attach(ctx context.Context, mod *Mod, cfg *manifest.Config) error {
	cache := mod.Cache()
	if cache == nil {
		var err error
		cache, err = m.openCache(cfg)
		if err != nil {
			return err
		}
		if cache != nil {
			if err := m.assets.Register(cfg.ID.Name, cache); err != nil {
				_ = cache.Close()
				return err
			}
			mod.setCache(cache)
		}
	}

	ehost := &modHost{
		name:   cfg.ID.Name,
		logger: m.logger.With("mod", cfg.ID.Name),
		assets: m.assets,
	}
	inst, err := m.host.Load(ctx, cfg.AssemblyFile, ehost)
	if err != nil {
		return err
	}
	mod.setInstance(inst)

	if m.opts.Preload && cache != nil {
		if err := cache.Preload(ctx); err != nil {
			m.logger.Warn("Asset preload incomplete.", "mod", cfg.ID.Name, "error", err)
		}
	}
	return nil
}

// openCache builds the mod's asset cache over whichever content root the
// mod ships, wiring a refresh watch when configured. A mod without content
// gets no cache.
func (m *Manager) openCache(cfg *manifest.Config) (*assets.Cache, error) {
	root, kind := cfg.ContentRoot()
	name := cfg.ID.Name

	switch kind {
	case manifest.ContentDir:
		src, err := assets.NewDirSource(root)
		if err != nil {
			return nil, err
		}
		cache := assets.NewCache(name, src, m.opts.Loader, m.logger)
		if m.opts.WatchContent {
			if err := src.Watch(m.watchCtx, m.refreshFunc(name, cache)); err != nil {
				_ = cache.Close()
				return nil, err
			}
		}
		return cache, nil

	case manifest.ContentZip:
		src, err := assets.NewZipSource(root)
		if err != nil {
			return nil, err
		}
		cache := assets.NewCache(name, src, m.opts.Loader, m.logger)
		if m.opts.WatchContent {
			if err := src.Watch(m.watchCtx, m.refreshFunc(name, cache)); err != nil {
				_ = cache.Close()
				return nil, err
			}
		}
		return cache, nil

	default:
		return nil, nil
	}
}

// refreshFunc builds the on-change hook for a mod's content watch: refresh
// the cached value in place and fan the path out to reload listeners.
func (m *Manager) refreshFunc(name string, cache *assets.Cache) func(path string) {
	return func(path string) {
		if err := cache.Refresh(m.watchCtx, path); err != nil {
			m.logger.Warn("Asset refresh failed.", "mod", name, "path", path, "error", err)
			return
		}
		m.assets.NotifyReload(name, path)
	}
}
