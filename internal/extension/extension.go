// Package extension defines the contract between the mod runtime and a
// mod's code module, plus the registry of compiled-in implementations.
//
// Code modules register a named constructor at process start (each package
// under modules/ does this in its Register method); a manifest's
// assemblyFile field names the constructor to instantiate. Explicit
// registration replaces scanning loaded code for implementations, which
// removes the zero-or-many-matches ambiguity: a duplicate name panics at
// registration and an unknown name fails that mod's load.
package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/modkit/internal/assets"
)

// Host is the runtime surface handed to an extension on load: its mod's
// logger tag and the process-wide asset registry for prefixed fetches.
type Host interface {
	// ModName returns the owning mod's name, which is also its asset prefix.
	ModName() string
	// Logger returns the extension's tagged logger.
	Logger() *slog.Logger
	// Assets returns the prefix-routing asset registry.
	Assets() *assets.Registry
}

// Extension is the lifecycle contract a code module implements. Load runs
// once after the mod's dependencies are satisfied, Tick once per update
// pass, and Unload before the module is discarded or hot-reloaded. After
// Unload returns, the extension must hold no references that keep it alive.
type Extension interface {
	Load(ctx context.Context, host Host) error
	Tick(ctx context.Context) error
	Unload(ctx context.Context) error
}

// Constructor builds a fresh extension instance. Each (re)load gets its
// own instance; constructors must not return shared state.
type Constructor func() Extension

// Module is implemented by compiled-in extension packages so the
// composition root can register them all uniformly.
type Module interface {
	Register(r *Registry)
}

// Registry maps assemblyFile references to extension constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds name to a constructor. A duplicate name is a programmer
// error and panics.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		panic(fmt.Sprintf("extension %q already registered", name))
	}
	slog.Debug("Registering extension constructor.", "name", name)
	r.ctors[name] = ctor
}

// New instantiates the extension registered under name.
func (r *Registry) New(name string) (Extension, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no extension registered under %q", name)
	}
	return ctor(), nil
}

// Names returns the registered references, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NoOp is the default extension for mods that declare no code module.
type NoOp struct{}

// Load implements Extension.
func (*NoOp) Load(context.Context, Host) error { return nil }

// Tick implements Extension.
func (*NoOp) Tick(context.Context) error { return nil }

// Unload implements Extension.
func (*NoOp) Unload(context.Context) error { return nil }
