package manager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/modkit/internal/modid"
)

// ErrNotLoaded is returned when an operation needs a live mod and the
// named mod is not in the Loaded state.
var ErrNotLoaded = errors.New("mod is not loaded")

// LoadError wraps a mod-scoped failure with the mod's registry name.
type LoadError struct {
	Mod string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("mod %q: %v", e.Mod, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DependencyError reports the dependencies that kept a mod from loading:
// either their providers failed, or the batch stopped waiting for them.
type DependencyError struct {
	Mod   string
	Unmet []modid.Dependency
}

func (e *DependencyError) Error() string {
	parts := make([]string, len(e.Unmet))
	for i, dep := range e.Unmet {
		parts[i] = dep.String()
	}
	return fmt.Sprintf("mod %q: unmet dependencies: %s", e.Mod, strings.Join(parts, ", "))
}
