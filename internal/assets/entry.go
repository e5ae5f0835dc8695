package assets

import "context"

// entryKind discriminates the cache-entry union. Earlier revisions of this
// code encoded the three states in a single untyped field and pattern
// matched at read time; the explicit tag keeps every reader exhaustive.
type entryKind uint8

const (
	// entryResolved holds a loaded value.
	entryResolved entryKind = iota
	// entryLoading holds only an in-flight first load.
	entryLoading
	// entryStale holds the previous value while a reload is in flight.
	entryStale
)

// entry is one cache slot. Exactly one entry exists per normalized path.
//
//	kind == entryResolved: value is set, load is nil
//	kind == entryLoading:  load is set, value is unset
//	kind == entryStale:    load is set, value is the previous value
type entry struct {
	kind  entryKind
	value any
	load  *pending
}

// pending is a one-shot completion for an in-flight load. done is closed
// exactly once after value/err are written, so awaiting goroutines never
// observe a partial result.
type pending struct {
	done  chan struct{}
	value any
	err   error
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

func (p *pending) complete(value any, err error) {
	p.value = value
	p.err = err
	close(p.done)
}

func (p *pending) wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handle is the consumer-visible view of a cache entry at request time. A
// handle over a resolved or stale entry carries an immediate value; a
// handle over a first load waits for the pending result.
type Handle struct {
	path      string
	immediate bool
	value     any
	load      *pending
}

// Path returns the normalized path this handle was obtained for.
func (h *Handle) Path() string {
	return h.path
}

// Await returns the asset value. For a resolved or stale entry it returns
// immediately; readers are never blocked by a reload in progress. For a
// first load it waits for the background load or the context, whichever
// finishes first.
func (h *Handle) Await(ctx context.Context) (any, error) {
	if h.immediate {
		return h.value, nil
	}
	return h.load.wait(ctx)
}
