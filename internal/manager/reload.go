package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/modkit/internal/manifest"
	"github.com/vk/modkit/internal/modid"
)

// Reload hot-swaps one loaded mod: the current code module is unloaded and
// its collection verified, the manifest is re-read, and the load step runs
// again. The mod's asset cache survives the swap, so cached values stay
// warm across code changes. On failure the mod converts to failed; its
// slot keeps the error and a later Reload may retry.
func (m *Manager) Reload(ctx context.Context, name string) error {
	mod, ok := m.mods.get(name)
	if !ok {
		return fmt.Errorf("manager: unknown mod %q", name)
	}
	inst := mod.Instance()
	if mod.Status() != StatusLoaded || inst == nil {
		return &LoadError{Mod: name, Err: ErrNotLoaded}
	}

	m.logger.Info("🔁 Reloading mod.", "mod", name, "generation", inst.Generation())

	mod.setStatus(StatusUnloading)
	if err := inst.Unload(ctx); err != nil {
		loadErr := &LoadError{Mod: name, Err: err}
		mod.fail(loadErr)
		return loadErr
	}
	mod.setInstance(nil)

	cfg, err := manifest.Load(filepath.Join(mod.Dir(), manifest.FileName))
	if err != nil {
		loadErr := &LoadError{Mod: name, Err: err}
		mod.fail(loadErr)
		return loadErr
	}
	if cfg.ID.Name != name {
		loadErr := &LoadError{Mod: name, Err: fmt.Errorf("reload cannot rename a mod (manifest now says %q)", cfg.ID.Name)}
		mod.fail(loadErr)
		return loadErr
	}
	mod.setConfig(cfg)

	if unmet := m.unmetHardDependencies(cfg); len(unmet) > 0 {
		depErr := &DependencyError{Mod: name, Unmet: unmet}
		mod.fail(depErr)
		return depErr
	}

	mod.setStatus(StatusLoading)
	if err := m.attach(ctx, mod, cfg); err != nil {
		loadErr := &LoadError{Mod: name, Err: err}
		mod.fail(loadErr)
		return loadErr
	}

	mod.markLoaded()
	m.logger.Info("✅ Mod reloaded.", "mod", name, "generation", mod.Instance().Generation())
	return nil
}

// unmetHardDependencies checks a re-read manifest against the live
// registry. Reload is single-mod: there is no batch to wait on, so a hard
// dependency not already satisfied is an immediate failure.
func (m *Manager) unmetHardDependencies(cfg *manifest.Config) []modid.Dependency {
	var unmet []modid.Dependency
	for _, dep := range cfg.Dependencies {
		if dep.Optional {
			continue
		}
		if m.mods.depState(dep) != depMet {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}
