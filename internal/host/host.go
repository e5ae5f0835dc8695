// Package host loads and unloads mod code modules. A managed runtime gets
// verifiable module unloading for free; here the equivalent is emulated:
// each load hands out a generation-tagged instance, and unload drops the
// runtime's reference and polls with forced garbage collection until a
// finalizer-based probe reports the instance collectible. The wait is
// bounded by the caller's context (with a default ceiling), so a leaked
// reference surfaces as an unload error instead of a hang.
package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/modkit/internal/extension"
)

// defaultUnloadWait caps the collectibility wait when the caller's context
// carries no deadline of its own.
const defaultUnloadWait = 5 * time.Second

// gcPollInterval is the pause between forced collections while waiting.
const gcPollInterval = 10 * time.Millisecond

// ErrNotCollected is returned when a module instance is still reachable
// after the unload wait expires, meaning some reference outlived unload.
var ErrNotCollected = errors.New("host: module instance not collected, a reference outlived unload")

// Host instantiates extensions from the builtin registry and tags each
// load with a process-unique generation.
type Host struct {
	exts *extension.Registry
	gen  atomic.Uint64
}

// New creates a host over the given extension registry.
func New(exts *extension.Registry) *Host {
	return &Host{exts: exts}
}

// Instance is one loaded code module. The generation tag distinguishes an
// instance from its replacement after a hot reload; stale handles compare
// generations instead of pointers.
type Instance struct {
	ref string
	gen uint64

	mu        sync.Mutex
	ext       extension.Extension
	collected *atomic.Bool
}

// Load instantiates the extension registered under ref and runs its Load
// hook. An empty ref yields the no-op extension, matching a manifest that
// declares no code module.
func (h *Host) Load(ctx context.Context, ref string, ehost extension.Host) (*Instance, error) {
	var ext extension.Extension
	if ref == "" {
		ext = &extension.NoOp{}
	} else {
		var err error
		ext, err = h.exts.New(ref)
		if err != nil {
			return nil, err
		}
	}

	if err := ext.Load(ctx, ehost); err != nil {
		return nil, fmt.Errorf("extension %q: load hook failed: %w", ref, err)
	}

	inst := &Instance{
		ref:       ref,
		gen:       h.gen.Add(1),
		ext:       ext,
		collected: &atomic.Bool{},
	}

	// The collectibility probe only works on heap-pointer extensions;
	// anything else is trivially collectible. Zero-sized allocations are
	// excluded too: the runtime may never run their finalizers.
	if v := reflect.ValueOf(ext); v.Kind() == reflect.Pointer && v.Type().Elem().Size() > 0 {
		probe := inst.collected
		runtime.SetFinalizer(ext, func(any) { probe.Store(true) })
	} else {
		inst.collected.Store(true)
	}
	return inst, nil
}

// Ref returns the registry reference this instance was loaded from.
func (i *Instance) Ref() string {
	return i.ref
}

// Generation returns the instance's load generation tag.
func (i *Instance) Generation() uint64 {
	return i.gen
}

// Extension returns the live extension, or nil after unload.
func (i *Instance) Extension() extension.Extension {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ext
}

// Unload runs the extension's Unload hook, drops the host's reference, and
// waits until the instance is verifiably collectible. Unloading an already
// unloaded instance is a no-op.
func (i *Instance) Unload(ctx context.Context) error {
	i.mu.Lock()
	ext := i.ext
	i.ext = nil
	i.mu.Unlock()
	if ext == nil {
		return nil
	}

	if err := ext.Unload(ctx); err != nil {
		return fmt.Errorf("extension %q: unload hook failed: %w", i.ref, err)
	}
	// Drop the last reference before waiting; holding it here would keep
	// the instance reachable forever.
	ext = nil

	return i.waitCollected(ctx)
}

func (i *Instance) waitCollected(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultUnloadWait)
		defer cancel()
	}

	for {
		runtime.GC()
		if i.collected.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			if i.collected.Load() {
				return nil
			}
			return fmt.Errorf("%w (ref %q, generation %d)", ErrNotCollected, i.ref, i.gen)
		case <-time.After(gcPollInterval):
		}
	}
}
