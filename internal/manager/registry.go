package manager

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/modkit/internal/modid"
)

// registry keys mods by name and enforces at most one live mod per name.
// Loader goroutines mutate it while the update loop and status endpoint
// read it, so every access takes the lock; the register step in particular
// must hold the write lock because batches load concurrently.
type registry struct {
	mu   sync.RWMutex
	mods map[string]*Mod
}

func newModRegistry() *registry {
	return &registry{mods: make(map[string]*Mod)}
}

// add inserts a mod under its name. An existing failed slot is replaced,
// a retried mod gets a fresh attempt; anything else under the same name is
// a conflict.
func (r *registry) add(m *Mod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mods[m.name]; ok && existing.Status() != StatusFailed {
		return fmt.Errorf("mod name %q is already taken by %s", m.name, existing.dir)
	}
	r.mods[m.name] = m
	return nil
}

// put inserts a mod unconditionally over a free or failed slot; a live mod
// under the same name is left alone and put reports false.
func (r *registry) put(m *Mod) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mods[m.name]; ok && existing.Status() != StatusFailed {
		return false
	}
	r.mods[m.name] = m
	return true
}

func (r *registry) get(name string) (*Mod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[name]
	return m, ok
}

func (r *registry) remove(name string) {
	r.mu.Lock()
	delete(r.mods, name)
	r.mu.Unlock()
}

// byDir finds the mod discovered from dir.
func (r *registry) byDir(dir string) (*Mod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mods {
		if m.dir == dir {
			return m, true
		}
	}
	return nil, false
}

// snapshot returns every registered mod, sorted by name.
func (r *registry) snapshot() []*Mod {
	r.mu.RLock()
	out := make([]*Mod, 0, len(r.mods))
	for _, m := range r.mods {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// loaded returns the mods currently in the Loaded state, sorted by name.
func (r *registry) loaded() []*Mod {
	all := r.snapshot()
	out := all[:0]
	for _, m := range all {
		if m.Status() == StatusLoaded {
			out = append(out, m)
		}
	}
	return out
}

// depState is the registry's verdict on one declared dependency.
type depState int

const (
	// depPending means the provider exists but has not finished loading.
	depPending depState = iota
	// depMet means a loaded mod satisfies the dependency.
	depMet
	// depFailed means the dependency can no longer be satisfied: its
	// provider failed, loaded with a version outside the declared range,
	// or was never discovered at all.
	depFailed
)

func (r *registry) depState(dep modid.Dependency) depState {
	r.mu.RLock()
	m, ok := r.mods[dep.Name]
	r.mu.RUnlock()
	if !ok {
		return depFailed
	}
	switch m.Status() {
	case StatusLoaded:
		if cfg := m.Config(); cfg != nil && cfg.ID.Satisfies(dep) {
			return depMet
		}
		return depFailed
	case StatusFailed:
		return depFailed
	default:
		return depPending
	}
}
