package assets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/modkit/internal/slotstore"
)

// ReloadListener is notified after an asset path has been refreshed.
type ReloadListener func(prefix, path string)

// listenerEntry wraps a ReloadListener so the slot store can hold it;
// function values are not comparable, pointers are.
type listenerEntry struct {
	fn ReloadListener
}

// Registry routes prefixed asset addresses to their owning caches. The
// prefix table and listener list are shared mutable state: loads, reloads,
// and lookups all happen concurrently with the per-tick update pass, so
// both are lock-guarded.
type Registry struct {
	mu     sync.RWMutex
	caches map[string]*Cache

	listenerMu sync.Mutex
	listeners  *slotstore.Store[*listenerEntry]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caches:    make(map[string]*Cache),
		listeners: slotstore.New[*listenerEntry](),
	}
}

// Register binds a cache to a prefix. The empty prefix is the default,
// unprefixed cache. Registering over a live prefix is an error: the mod
// registry enforces one live mod per name, and cache prefixes mirror that.
func (r *Registry) Register(prefix string, c *Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caches[prefix]; exists {
		return fmt.Errorf("asset prefix %q is already registered", prefix)
	}
	r.caches[prefix] = c
	c.onClose = func() { r.Unregister(prefix) }
	return nil
}

// Unregister removes the binding for prefix, if any.
func (r *Registry) Unregister(prefix string) {
	r.mu.Lock()
	delete(r.caches, prefix)
	r.mu.Unlock()
}

// Cache returns the cache registered under prefix.
func (r *Registry) Cache(prefix string) (*Cache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[prefix]
	return c, ok
}

// Prefixes returns the currently registered prefixes, unordered.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.caches))
	for p := range r.caches {
		out = append(out, p)
	}
	return out
}

// Fetch resolves a "prefix:/relative/path" address and requests the asset
// from the owning cache. An address without a colon goes to the default
// (empty-prefix) cache.
func (r *Registry) Fetch(ctx context.Context, addr string) (*Handle, error) {
	prefix, path, err := SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	cache, ok := r.Cache(prefix)
	if !ok {
		return nil, &AddrError{Addr: addr, Reason: fmt.Sprintf("no cache registered for prefix %q", prefix)}
	}
	return cache.GetOrLoad(ctx, path)
}

// Subscribe adds a reload listener and returns its stable slot, which
// Unsubscribe takes. The slot store gives listeners a handle that survives
// other listeners being removed.
func (r *Registry) Subscribe(fn ReloadListener) int {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	return r.listeners.Add(&listenerEntry{fn: fn})
}

// Unsubscribe removes the listener at slot.
func (r *Registry) Unsubscribe(slot int) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners.RemoveAt(slot)
}

// NotifyReload fans a refreshed path out to every listener. Listeners run
// on the caller's goroutine.
func (r *Registry) NotifyReload(prefix, path string) {
	r.listenerMu.Lock()
	entries := make([]*listenerEntry, 0, r.listeners.Len())
	for _, e := range r.listeners.All() {
		entries = append(entries, e)
	}
	r.listenerMu.Unlock()

	for _, e := range entries {
		e.fn(prefix, path)
	}
}

// SplitAddr parses "<prefix>:/<relative/path>" into its parts. The prefix
// may be empty; the path part must start with a slash when a colon is
// present.
func SplitAddr(addr string) (prefix, path string, err error) {
	i := strings.IndexByte(addr, ':')
	if i < 0 {
		return "", Normalize(addr), nil
	}
	rest := addr[i+1:]
	if !strings.HasPrefix(rest, "/") {
		return "", "", &AddrError{Addr: addr, Reason: "expected ':/' between prefix and path"}
	}
	return addr[:i], Normalize(rest), nil
}
