package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/modkit/internal/ctxlog"
)

// DirSource serves assets from a filesystem directory tree. Addressable
// paths are extensionless relative paths; the index from address to actual
// file name is built lazily and invalidated by filesystem events when a
// watch is active.
type DirSource struct {
	root string

	mu    sync.Mutex
	index map[string][]string // normalized extensionless path -> relative file names
	fresh bool

	watcher *fsnotify.Watcher
	watchWG sync.WaitGroup
}

// NewDirSource creates a source over root. The directory must exist.
func NewDirSource(root string) (*DirSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("asset dir %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset dir %s: not a directory", root)
	}
	return &DirSource{root: root}, nil
}

// Root returns the directory this source reads from.
func (s *DirSource) Root() string {
	return s.root
}

// List returns every addressable path, sorted for deterministic preloads.
func (s *DirSource) List() ([]string, error) {
	index, err := s.ensureIndex()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(index))
	for p := range index {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Open resolves path to a concrete file and opens it.
func (s *DirSource) Open(path string) (io.ReadCloser, error) {
	path = Normalize(path)
	index, err := s.ensureIndex()
	if err != nil {
		return nil, err
	}
	matches := index[path]
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Path: path}
	case 1:
		return os.Open(filepath.Join(s.root, filepath.FromSlash(matches[0])))
	default:
		return nil, &DuplicateMatchError{Path: path, Matches: append([]string(nil), matches...)}
	}
}

// Watch starts a filesystem watch over the directory tree and calls
// onChange with the normalized extensionless path of every created,
// written, removed, or renamed file. The watch ends when ctx is done or the
// source is closed.
func (s *DirSource) Watch(ctx context.Context, onChange func(path string)) error {
	logger := ctxlog.FromContext(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("asset dir %s: watch: %w", s.root, err)
	}

	// Watch the whole tree; fsnotify is not recursive by itself.
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("asset dir %s: watch: %w", s.root, err)
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	s.watchWG.Add(1)
	go func() {
		defer s.watchWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				// New directories must be added to the watch as they appear.
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.Add(event.Name)
						continue
					}
				}
				rel, err := filepath.Rel(s.root, event.Name)
				if err != nil {
					continue
				}
				s.invalidate()
				onChange(stripExt(Normalize(filepath.ToSlash(rel))))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("Asset watch error.", "root", s.root, "error", err)
			}
		}
	}()
	return nil
}

// Close stops any active watch.
func (s *DirSource) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		err := w.Close()
		s.watchWG.Wait()
		return err
	}
	return nil
}

func (s *DirSource) invalidate() {
	s.mu.Lock()
	s.fresh = false
	s.mu.Unlock()
}

func (s *DirSource) ensureIndex() (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh {
		return s.index, nil
	}

	index := make(map[string][]string)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = Normalize(filepath.ToSlash(rel))
		key := stripExt(rel)
		index[key] = append(index[key], rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("asset dir %s: indexing: %w", s.root, err)
	}

	s.index = index
	s.fresh = true
	return index, nil
}
