package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/modkit/internal/strmap"
)

// preloadWorkers bounds the concurrent decode work issued by Preload.
const preloadWorkers = 8

// Cache maps normalized asset paths to lazily-produced values. All table
// mutations happen under the write lock, reads under the read lock, and the
// double-checked re-lookup on first load guarantees at most one in-flight
// load per path. Reads are never blocked by a reload: a path being
// refreshed keeps serving its previous value until the new one lands.
type Cache struct {
	name   string
	source Source
	loader Loader
	logger *slog.Logger

	mu       sync.RWMutex
	table    *strmap.Map[*entry]
	disposed bool

	// onClose unregisters the cache from its registry; set by Registry.Register.
	onClose func()
}

// NewCache builds a cache over the given source and loader. The name tags
// log lines and error values; for a mod's cache it is the mod name.
func NewCache(name string, source Source, loader Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		name:   name,
		source: source,
		loader: loader,
		logger: logger.With("cache", name),
		table:  strmap.New[*entry](),
	}
}

// Name returns the cache's registration name.
func (c *Cache) Name() string {
	return c.name
}

// Len reports the number of live entries, in any state.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Len()
}

// GetOrLoad returns a handle for the asset at path, starting a background
// load on first request. Concurrent first requests for the same path
// collapse onto a single load.
func (c *Cache) GetOrLoad(ctx context.Context, path string) (*Handle, error) {
	path = Normalize(path)

	c.mu.RLock()
	if c.disposed {
		c.mu.RUnlock()
		return nil, ErrDisposed
	}
	if e, ok := c.table.Lookup(path); ok {
		h := handleFor(path, e)
		c.mu.RUnlock()
		return h, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	// Double-checked: another goroutine may have begun the load between
	// the two lock acquisitions.
	if e, ok := c.table.Lookup(path); ok {
		h := handleFor(path, e)
		c.mu.Unlock()
		return h, nil
	}
	p := newPending()
	if _, err := c.table.Insert(path, &entry{kind: entryLoading, load: p}, strmap.ErrorOnExisting); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("cache %q: %w", c.name, err)
	}
	c.mu.Unlock()

	// Loads outlive the requesting caller; there is no per-operation
	// cancellation, only cache disposal.
	go c.runLoad(context.WithoutCancel(ctx), path, p)

	return &Handle{path: path, load: p}, nil
}

// Refresh begins a new background load for path without invalidating the
// value current holders observe. When the reload completes, the entry flips
// to the new value; until then GetOrLoad keeps returning the previous one.
// Refreshing a path whose load is already in flight is a no-op, and
// refreshing an uncached path behaves like a background first load.
func (c *Cache) Refresh(ctx context.Context, path string) error {
	path = Normalize(path)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}

	e, ok := c.table.Lookup(path)
	if ok && e.kind != entryResolved {
		// A load is already in flight for this path.
		c.mu.Unlock()
		return nil
	}

	p := newPending()
	if !ok {
		_, _ = c.table.Insert(path, &entry{kind: entryLoading, load: p}, strmap.Overwrite)
	} else {
		_, _ = c.table.Insert(path, &entry{kind: entryStale, value: e.value, load: p}, strmap.Overwrite)
	}
	c.mu.Unlock()

	c.logger.Debug("Refreshing asset.", "path", path)
	go c.runLoad(context.WithoutCancel(ctx), path, p)
	return nil
}

// Preload lists every path the source can produce and requests each one,
// front-loading decode work before the assets are actually used. Individual
// asset failures are logged and skipped; Preload only fails on disposal or
// a source listing error.
func (c *Cache) Preload(ctx context.Context) error {
	paths, err := c.source.List()
	if err != nil {
		return fmt.Errorf("cache %q: preload listing failed: %w", c.name, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadWorkers)
	for _, path := range paths {
		g.Go(func() error {
			h, err := c.GetOrLoad(gctx, path)
			if err != nil {
				return err
			}
			if _, err := h.Await(gctx); err != nil {
				c.logger.Warn("Preload skipped asset.", "path", path, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close marks the cache disposed, unregisters it, and drops the table.
// Loads already in flight run to completion but their results are
// discarded. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.table = strmap.New[*entry]()
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	c.logger.Debug("Cache disposed.")
	return c.source.Close()
}

// runLoad performs one background load and installs its outcome.
func (c *Cache) runLoad(ctx context.Context, path string, p *pending) {
	value, err := c.load(ctx, path)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		// The cache went away while we were loading; nobody gets the result.
		p.complete(nil, ErrDisposed)
		return
	}

	e, ok := c.table.Lookup(path)
	if ok && e.load == p {
		switch {
		case err == nil:
			_, _ = c.table.Insert(path, &entry{kind: entryResolved, value: value}, strmap.Overwrite)
		case e.kind == entryStale:
			// Failed reload: keep serving the previous value.
			_, _ = c.table.Insert(path, &entry{kind: entryResolved, value: e.value}, strmap.Overwrite)
		default:
			// Failed first load: drop the entry so a later request retries.
			_, _ = c.table.Remove(path)
		}
	}
	c.mu.Unlock()

	if err != nil {
		// Surfaced here as well as on the handle, so a failure nobody
		// awaits is still visible.
		c.logger.Error("Asset load failed.", "path", path, "error", err)
	}
	p.complete(value, err)
}

func (c *Cache) load(ctx context.Context, path string) (any, error) {
	rc, err := c.source.Open(path)
	if err != nil {
		return nil, c.tagError(err)
	}
	defer rc.Close()
	value, err := c.loader(ctx, path, rc)
	if err != nil {
		return nil, fmt.Errorf("cache %q: decoding %q: %w", c.name, path, err)
	}
	return value, nil
}

// tagError stamps the owning cache's name onto source errors, so a failed
// request identifies both the cache and the path.
func (c *Cache) tagError(err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.Cache == "" {
		nf.Cache = c.name
	}
	var dup *DuplicateMatchError
	if errors.As(err, &dup) && dup.Cache == "" {
		dup.Cache = c.name
	}
	return err
}

// handleFor snapshots an entry into a consumer handle. Resolved and stale
// entries yield an immediate value; a first load yields the pending result.
func handleFor(path string, e *entry) *Handle {
	switch e.kind {
	case entryResolved, entryStale:
		return &Handle{path: path, immediate: true, value: e.value}
	default:
		return &Handle{path: path, load: e.load}
	}
}
