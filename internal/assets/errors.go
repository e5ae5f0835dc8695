package assets

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDisposed is returned by operations on a cache after Close.
var ErrDisposed = errors.New("assets: cache is disposed")

// NotFoundError identifies the owning cache and the requested path for an
// asset that no backing source entry matches.
type NotFoundError struct {
	Cache string
	Path  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset %q not found in cache %q", e.Path, e.Cache)
}

// DuplicateMatchError reports an extensionless request that matched more
// than one file in the backing source. The request is ambiguous, so this is
// a hard error rather than a pick-one.
type DuplicateMatchError struct {
	Cache   string
	Path    string
	Matches []string
}

func (e *DuplicateMatchError) Error() string {
	return fmt.Sprintf("asset %q is ambiguous in cache %q: matches %s",
		e.Path, e.Cache, strings.Join(e.Matches, ", "))
}

// AddrError reports a malformed or unroutable asset address.
type AddrError struct {
	Addr   string
	Reason string
}

func (e *AddrError) Error() string {
	return fmt.Sprintf("asset address %q: %s", e.Addr, e.Reason)
}
