// Package modid defines the canonical identity of a mod and the dependency
// descriptors mods declare against each other. Versions follow semantic
// versioning; dependency ranges use the constraint syntax of
// github.com/Masterminds/semver.
package modid

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ID is the canonical identity of a mod: a name plus an exact semantic
// version. Two IDs are equal when both fields are equal.
type ID struct {
	Name    string
	Version *semver.Version
}

// Parse builds an ID from a name and a semantic version string.
func Parse(name, version string) (ID, error) {
	if name == "" {
		return ID{}, fmt.Errorf("mod id: name must not be empty")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ID{}, fmt.Errorf("mod id %q: invalid version %q: %w", name, version, err)
	}
	return ID{Name: name, Version: v}, nil
}

// MustParse is Parse that panics on error, for tests and compiled-in values.
func MustParse(name, version string) ID {
	id, err := Parse(name, version)
	if err != nil {
		panic(err)
	}
	return id
}

// Equal reports name+version equality.
func (id ID) Equal(other ID) bool {
	if id.Name != other.Name {
		return false
	}
	if id.Version == nil || other.Version == nil {
		return id.Version == other.Version
	}
	return id.Version.Equal(other.Version)
}

// String renders "name@version".
func (id ID) String() string {
	if id.Version == nil {
		return id.Name
	}
	return id.Name + "@" + id.Version.String()
}

// Dependency declares an acceptable version interval for a named mod.
// Optional marks a soft dependency: its absence is tolerated rather than
// fatal for the dependent's load.
type Dependency struct {
	Name     string
	Range    *semver.Constraints
	Optional bool
}

// ParseDependency builds a Dependency from a name and a version-range
// expression such as ">=1.0.0" or "^2.1".
func ParseDependency(name, versions string, optional bool) (Dependency, error) {
	if name == "" {
		return Dependency{}, fmt.Errorf("dependency: name must not be empty")
	}
	r, err := semver.NewConstraint(versions)
	if err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: invalid version range %q: %w", name, versions, err)
	}
	return Dependency{Name: name, Range: r, Optional: optional}, nil
}

// String renders "name (range)".
func (d Dependency) String() string {
	if d.Range == nil {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Range.String())
}

// Satisfies reports whether this ID matches the dependency: names are equal
// and the version falls inside the declared range.
func (id ID) Satisfies(dep Dependency) bool {
	if id.Name != dep.Name || id.Version == nil || dep.Range == nil {
		return false
	}
	return dep.Range.Check(id.Version)
}
