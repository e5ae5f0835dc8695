package assets

import (
	"context"
	"io"
	"strings"
)

// Loader turns an asset's bytes into its cached value. Implementations are
// supplied by the consumer (texture decoder, sound decoder, raw bytes).
type Loader func(ctx context.Context, path string, r io.Reader) (any, error)

// Source is where a cache's bytes come from. Paths handed to a source are
// normalized and extensionless; the source resolves them to concrete file
// names, treating more than one match as a hard error.
type Source interface {
	// List returns every addressable (normalized, extensionless) path.
	List() ([]string, error)
	// Open returns a reader for the asset at the given path. It returns a
	// *NotFoundError when nothing matches and a *DuplicateMatchError when
	// more than one file does.
	Open(path string) (io.ReadCloser, error)
	// Close releases the source's resources, including any file watch.
	Close() error
}

// Normalize canonicalizes an asset path: backslashes become forward
// slashes and any leading slash is dropped. The cache keys its table by
// normalized paths so "a\b" and "a/b" are one entry.
func Normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimPrefix(path, "/")
}

// stripExt removes the final extension from a file name, leaving names
// without a dot and dotfiles untouched.
func stripExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || name[i-1] == '/' {
		return name
	}
	if strings.IndexByte(name[i:], '/') >= 0 {
		// The dot belongs to a directory segment, not the file name.
		return name
	}
	return name[:i]
}
