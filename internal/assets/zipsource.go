package assets

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/modkit/internal/ctxlog"
)

// ZipSource serves assets from a zip archive snapshotted into memory. A
// detected change to the archive file re-reads the whole thing, diffs the
// old and new entry indexes by CRC-32, and reports only the paths whose
// content actually changed, so a repacked archive does not force a full
// cache reload.
type ZipSource struct {
	path string

	mu     sync.Mutex
	reader *zip.Reader
	index  map[string][]*zip.File // extensionless path -> archive entries
	crcs   map[string]uint32      // archive entry name -> CRC-32
	// version identifies the current snapshot. A re-read that finishes
	// after a newer one began detects itself as superseded and aborts.
	version uint64

	watcher *fsnotify.Watcher
	watchWG sync.WaitGroup
}

// NewZipSource snapshots the archive at path into memory.
func NewZipSource(path string) (*ZipSource, error) {
	s := &ZipSource{path: path}
	reader, index, crcs, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	s.reader = reader
	s.index = index
	s.crcs = crcs
	return s, nil
}

// Path returns the archive file this source reads from.
func (s *ZipSource) Path() string {
	return s.path
}

// List returns every addressable path, sorted for deterministic preloads.
func (s *ZipSource) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.index))
	for p := range s.index {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Open resolves path to an archive entry and returns its decompressed
// content. The entry is copied out under the lock so a concurrent reload
// cannot swap the snapshot out from under the reader.
func (s *ZipSource) Open(path string) (io.ReadCloser, error) {
	path = Normalize(path)

	s.mu.Lock()
	matches := s.index[path]
	var file *zip.File
	switch len(matches) {
	case 0:
		s.mu.Unlock()
		return nil, &NotFoundError{Path: path}
	case 1:
		file = matches[0]
	default:
		names := make([]string, len(matches))
		for i, f := range matches {
			names[i] = f.Name
		}
		s.mu.Unlock()
		return nil, &DuplicateMatchError{Path: path, Matches: names}
	}

	rc, err := file.Open()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("zip %s: opening %q: %w", s.path, file.Name, err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("zip %s: reading %q: %w", s.path, file.Name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Reload re-reads the archive and swaps in the new snapshot, invoking
// onChanged for every addressable path whose CRC changed or that was added
// or removed. A reload superseded by a newer one aborts without touching
// the live index.
func (s *ZipSource) Reload(ctx context.Context, onChanged func(path string)) error {
	logger := ctxlog.FromContext(ctx)

	s.mu.Lock()
	s.version++
	target := s.version
	s.mu.Unlock()

	reader, index, crcs, err := s.snapshot()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.version != target {
		s.mu.Unlock()
		logger.Debug("Archive reload superseded, discarding.", "zip", s.path)
		return nil
	}
	changed := diffByCRC(s.crcs, crcs)
	s.reader = reader
	s.index = index
	s.crcs = crcs
	s.mu.Unlock()

	logger.Debug("Archive reloaded.", "zip", s.path, "changed_paths", len(changed))
	if onChanged != nil {
		for _, p := range changed {
			onChanged(p)
		}
	}
	return nil
}

// Watch starts a filesystem watch on the archive file and reloads on
// change. Changed paths are forwarded to onChanged.
func (s *ZipSource) Watch(ctx context.Context, onChanged func(path string)) error {
	logger := ctxlog.FromContext(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("zip %s: watch: %w", s.path, err)
	}
	// Watch the containing directory: editors and packers often replace
	// the file by rename, which a direct file watch loses.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("zip %s: watch: %w", s.path, err)
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
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(ctx, onChanged); err != nil {
					logger.Warn("Archive reload failed.", "zip", s.path, "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("Archive watch error.", "zip", s.path, "error", err)
			}
		}
	}()
	return nil
}

// Close stops any active watch.
func (s *ZipSource) Close() error {
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

func (s *ZipSource) snapshot() (*zip.Reader, map[string][]*zip.File, map[string]uint32, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("zip %s: %w", s.path, err)
	}
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("zip %s: %w", s.path, err)
	}

	index := make(map[string][]*zip.File)
	crcs := make(map[string]uint32)
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := Normalize(f.Name)
		index[stripExt(name)] = append(index[stripExt(name)], f)
		crcs[name] = f.CRC32
	}
	return reader, index, crcs, nil
}

// diffByCRC returns the addressable paths of entries that were added,
// removed, or whose CRC changed between two snapshots.
func diffByCRC(prev, next map[string]uint32) []string {
	seen := make(map[string]struct{})
	var changed []string
	mark := func(name string) {
		key := stripExt(name)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			changed = append(changed, key)
		}
	}
	for name, crc := range next {
		if prevCRC, ok := prev[name]; !ok || prevCRC != crc {
			mark(name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			mark(name)
		}
	}
	sort.Strings(changed)
	return changed
}
