// Package resolver orders a batch of mod configs so that every mod comes
// after the mods it depends on. It is a topological sort by depth-first
// traversal with three-color marking, which also yields cycle detection:
// meeting a gray node again means the traversal found a back edge.
package resolver

import (
	"context"
	"fmt"

	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/manifest"
	"github.com/vk/modkit/internal/modid"
)

// CycleError reports the two mod identities that close a dependency cycle.
type CycleError struct {
	From modid.ID
	To   modid.ID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected between %s and %s", e.From, e.To)
}

// MissingDependencyError reports a dependency that no config in the batch
// and no already-loaded mod satisfies.
type MissingDependencyError struct {
	Requester  modid.ID
	Dependency modid.Dependency
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s requires %s, which is not in the batch and not loaded", e.Requester, e.Dependency)
}

// AlreadyLoaded reports whether a dependency is satisfied by a mod loaded
// in a prior batch. A nil predicate treats nothing as loaded.
type AlreadyLoaded func(dep modid.Dependency) bool

// color is the classic three-state DFS marking.
type color uint8

const (
	notVisited color = iota
	visiting
	visited
)

// Resolve returns the batch in dependency order: every config appears after
// all configs it depends on. The output is deterministic for a fixed batch
// order and fixed dependency declaration order. Optional dependencies that
// resolve to nothing are skipped; hard ones fail with
// MissingDependencyError, and back edges fail with CycleError.
func Resolve(ctx context.Context, batch []*manifest.Config, loaded AlreadyLoaded) ([]*manifest.Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Resolving mod load order.", "batch_size", len(batch))

	colors := make([]color, len(batch))
	order := make([]*manifest.Config, 0, len(batch))

	// frame tracks one node on the explicit DFS stack: which config it is
	// and how many of its dependencies have been descended into.
	type frame struct {
		index   int
		nextDep int
	}

	for start := range batch {
		if colors[start] != notVisited {
			continue
		}

		stack := []frame{{index: start}}
		colors[start] = visiting

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			cfg := batch[top.index]

			if top.nextDep >= len(cfg.Dependencies) {
				// Post-order append: all dependencies precede this config.
				colors[top.index] = visited
				order = append(order, cfg)
				stack = stack[:len(stack)-1]
				continue
			}

			dep := cfg.Dependencies[top.nextDep]
			top.nextDep++

			target, found := findInBatch(batch, dep)
			if !found {
				if loaded != nil && loaded(dep) {
					continue
				}
				if dep.Optional {
					logger.Debug("Optional dependency unresolved, skipping.",
						"mod", cfg.ID.String(), "dependency", dep.String())
					continue
				}
				return nil, &MissingDependencyError{Requester: cfg.ID, Dependency: dep}
			}

			switch colors[target] {
			case visited:
				// Already placed earlier in the order.
			case visiting:
				return nil, &CycleError{From: cfg.ID, To: batch[target].ID}
			default:
				colors[target] = visiting
				stack = append(stack, frame{index: target})
			}
		}
	}

	logger.Debug("Mod load order resolved.", "order_size", len(order))
	return order, nil
}

// findInBatch resolves a dependency to the first config in batch order that
// satisfies it. First match keeps the output deterministic when several
// versions of the same name coexist in one batch.
func findInBatch(batch []*manifest.Config, dep modid.Dependency) (int, bool) {
	for i, cfg := range batch {
		if cfg.ID.Satisfies(dep) {
			return i, true
		}
	}
	return 0, false
}
