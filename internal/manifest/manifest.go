// Package manifest loads and validates per-mod manifest files. A manifest
// is a config.json in the mod's directory, parsed with HCL's JSON syntax so
// the rest of the toolchain shares one parser. The decoded Config is
// immutable after load.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/modkit/internal/modid"
)

// FileName is the manifest's fixed name inside a mod directory.
const FileName = "config.json"

// ContentDirName and ContentZipName are the two recognized asset roots
// beside the manifest. The directory takes precedence when both exist.
const (
	ContentDirName = "Content"
	ContentZipName = "Content.zip"
)

// Config is the parsed, immutable descriptor of one mod.
type Config struct {
	// ID is the mod's canonical identity.
	ID modid.ID
	// AssemblyFile names the code module to load, or is empty for
	// content-only mods.
	AssemblyFile string
	// Dependencies lists declared dependencies in declaration order.
	Dependencies []modid.Dependency
	// Dir is the mod's directory, where the manifest was found.
	Dir string
}

// Load parses the manifest at path and returns the mod's Config. The
// returned error covers missing files, malformed JSON, and invalid
// identity or dependency declarations; callers record it as a per-mod
// failure rather than aborting the batch.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	file, diags := hclparse.NewParser().ParseJSONFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("manifest %s: %w", path, diags)
	}

	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("manifest %s: %w", path, diags)
	}

	cfg := &Config{Dir: filepath.Dir(path)}

	idVal, err := requiredAttr(attrs, "id")
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	cfg.ID, err = decodeID(idVal)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	if v, ok, err := optionalAttr(attrs, "assemblyFile"); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	} else if ok {
		cfg.AssemblyFile, err = asString(v, "assemblyFile")
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}

	if v, ok, err := optionalAttr(attrs, "dependencies"); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	} else if ok {
		cfg.Dependencies, err = decodeDependencies(v)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}

	return cfg, nil
}

// ContentKind identifies which asset root, if any, sits beside a manifest.
type ContentKind int

const (
	// ContentNone means the mod ships no assets.
	ContentNone ContentKind = iota
	// ContentDir is a plain Content/ directory.
	ContentDir
	// ContentZip is a Content.zip archive.
	ContentZip
)

// ContentRoot resolves the mod's asset root. A Content directory wins over
// a Content.zip when both are present.
func (c *Config) ContentRoot() (string, ContentKind) {
	dir := filepath.Join(c.Dir, ContentDirName)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, ContentDir
	}
	zip := filepath.Join(c.Dir, ContentZipName)
	if info, err := os.Stat(zip); err == nil && !info.IsDir() {
		return zip, ContentZip
	}
	return "", ContentNone
}

func requiredAttr(attrs hcl.Attributes, name string) (cty.Value, error) {
	v, ok, err := optionalAttr(attrs, name)
	if err != nil {
		return cty.NilVal, err
	}
	if !ok {
		return cty.NilVal, fmt.Errorf("missing required field %q", name)
	}
	return v, nil
}

func optionalAttr(attrs hcl.Attributes, name string) (cty.Value, bool, error) {
	attr, ok := attrs[name]
	if !ok {
		return cty.NilVal, false, nil
	}
	v, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, false, fmt.Errorf("field %q: %w", name, diags)
	}
	if v.IsNull() {
		return cty.NilVal, false, nil
	}
	return v, true, nil
}

func decodeID(v cty.Value) (modid.ID, error) {
	name, err := objectString(v, "id", "name")
	if err != nil {
		return modid.ID{}, err
	}
	version, err := objectString(v, "id", "version")
	if err != nil {
		return modid.ID{}, err
	}
	return modid.Parse(name, version)
}

func decodeDependencies(v cty.Value) ([]modid.Dependency, error) {
	if !v.Type().IsTupleType() && !v.Type().IsListType() {
		return nil, fmt.Errorf("field \"dependencies\": expected an array, got %s", v.Type().FriendlyName())
	}
	var deps []modid.Dependency
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		name, err := objectString(elem, "dependencies", "name")
		if err != nil {
			return nil, err
		}
		versions, err := objectString(elem, "dependencies", "versions")
		if err != nil {
			return nil, err
		}
		optional, err := objectBool(elem, "dependencies", "optional")
		if err != nil {
			return nil, err
		}
		dep, err := modid.ParseDependency(name, versions, optional)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func objectString(obj cty.Value, field, attr string) (string, error) {
	if !obj.Type().IsObjectType() || !obj.Type().HasAttribute(attr) {
		return "", fmt.Errorf("field %q: missing %q", field, attr)
	}
	return asString(obj.GetAttr(attr), field+"."+attr)
}

// objectBool reads an optional boolean attribute, defaulting to false when
// absent.
func objectBool(obj cty.Value, field, attr string) (bool, error) {
	if !obj.Type().IsObjectType() || !obj.Type().HasAttribute(attr) {
		return false, nil
	}
	v := obj.GetAttr(attr)
	if v.IsNull() {
		return false, nil
	}
	if v.Type() != cty.Bool {
		return false, fmt.Errorf("field %q: %q must be a boolean", field, attr)
	}
	return v.True(), nil
}

func asString(v cty.Value, what string) (string, error) {
	if v.IsNull() || v.Type() != cty.String {
		return "", fmt.Errorf("field %q must be a string", what)
	}
	return v.AsString(), nil
}
