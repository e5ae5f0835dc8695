package manager

import (
	"sync"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/host"
	"github.com/vk/modkit/internal/manifest"
)

// Status tracks a mod through its load pipeline. A mod moves strictly
// forward through the pipeline except for the reload path, which takes a
// Loaded mod back through Unloading and Loading.
type Status int

const (
	// StatusDiscovered means the mod's directory was found but its
	// manifest has not been parsed yet.
	StatusDiscovered Status = iota
	// StatusConfigParsed means the manifest parsed and validated.
	StatusConfigParsed
	// StatusDependenciesPending means the mod is waiting for its
	// declared dependencies to finish loading.
	StatusDependenciesPending
	// StatusDependenciesSatisfied means every hard dependency is loaded.
	StatusDependenciesSatisfied
	// StatusLoading means the mod's cache and code module are being set up.
	StatusLoading
	// StatusLoaded means the mod is live and receives update ticks.
	StatusLoaded
	// StatusUnloading means a reload or shutdown is tearing the mod down.
	StatusUnloading
	// StatusFailed is terminal for the batch; the failure is kept on the
	// mod's registry slot so dependents and operators can see it.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusConfigParsed:
		return "config-parsed"
	case StatusDependenciesPending:
		return "dependencies-pending"
	case StatusDependenciesSatisfied:
		return "dependencies-satisfied"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusUnloading:
		return "unloading"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mod is one discovered mod and its runtime state. The name is the
// registry key: the manifest's mod name, or the directory's base name when
// the manifest never parsed. Status and the attached resources are mutated
// by the loader goroutines and read by the update and status paths, so all
// access goes through the mutex.
type Mod struct {
	name string
	dir  string

	mu       sync.Mutex
	status   Status
	err      error
	config   *manifest.Config
	cache    *assets.Cache
	instance *host.Instance
}

// Name returns the mod's registry name.
func (m *Mod) Name() string { return m.name }

// Dir returns the mod's directory.
func (m *Mod) Dir() string { return m.dir }

// Status returns the mod's current lifecycle status.
func (m *Mod) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Err returns the failure recorded on the mod, or nil.
func (m *Mod) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Config returns the parsed manifest, or nil when parsing failed.
func (m *Mod) Config() *manifest.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Cache returns the mod's asset cache, or nil for a mod without content.
func (m *Mod) Cache() *assets.Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache
}

// Instance returns the loaded code module instance, or nil.
func (m *Mod) Instance() *host.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}

func (m *Mod) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// fail marks the mod failed and records why. A later batch may replace a
// failed slot with a fresh attempt.
func (m *Mod) fail(err error) {
	m.mu.Lock()
	m.status = StatusFailed
	m.err = err
	m.mu.Unlock()
}

// markLoaded clears any stale error from a previous attempt and flips the
// mod live in one critical section.
func (m *Mod) markLoaded() {
	m.mu.Lock()
	m.status = StatusLoaded
	m.err = nil
	m.mu.Unlock()
}

func (m *Mod) setConfig(cfg *manifest.Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

func (m *Mod) setCache(c *assets.Cache) {
	m.mu.Lock()
	m.cache = c
	m.mu.Unlock()
}

func (m *Mod) setInstance(inst *host.Instance) {
	m.mu.Lock()
	m.instance = inst
	m.mu.Unlock()
}

// Info is the status-endpoint view of a mod.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Info snapshots the mod for reporting.
func (m *Mod) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{Name: m.name, Status: m.status.String()}
	if m.config != nil && m.config.ID.Version != nil {
		info.Version = m.config.ID.Version.String()
	}
	if m.err != nil {
		info.Error = m.err.Error()
	}
	return info
}
