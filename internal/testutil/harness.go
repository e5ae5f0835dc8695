// Package testutil holds the shared fixtures for manager and integration
// tests: temp mod trees, a thread-safe log buffer, and recording extension
// doubles.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteModTree materializes a mods root in a temp directory. Keys are
// slash-relative paths under the root (e.g. "Core/config.json" or
// "Core/Content/greeting.txt") and values are file contents. The returned
// path is the mods root to hand to the manager.
func WriteModTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// Manifest renders a minimal manifest with the given name, version and raw
// dependency entries (each entry is a complete JSON object).
func Manifest(name, version string, deps ...string) string {
	out := `{"id": {"name": "` + name + `", "version": "` + version + `"}`
	out += `, "assemblyFile": "` + name + `"`
	if len(deps) > 0 {
		out += `, "dependencies": [`
		for i, d := range deps {
			if i > 0 {
				out += ", "
			}
			out += d
		}
		out += `]`
	}
	return out + `}`
}

// ContentOnlyManifest renders a manifest that declares no code module.
func ContentOnlyManifest(name, version string) string {
	return `{"id": {"name": "` + name + `", "version": "` + version + `"}}`
}

// Dep renders one hard dependency entry for Manifest.
func Dep(name, versions string) string {
	return `{"name": "` + name + `", "versions": "` + versions + `"}`
}

// OptionalDep renders one optional dependency entry for Manifest.
func OptionalDep(name, versions string) string {
	return `{"name": "` + name + `", "versions": "` + versions + `", "optional": true}`
}
