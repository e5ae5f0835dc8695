package manager

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/modkit/internal/manifest"
)

// WatchManifests watches every mod directory for manifest rewrites and
// hot-reloads the affected mod. The watch runs until Close; content
// changes are handled separately by each cache's own source watch.
func (m *Manager) WatchManifests() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.opts.ModsRoot); err != nil {
		_ = w.Close()
		return err
	}
	for _, mod := range m.mods.snapshot() {
		if err := w.Add(mod.Dir()); err != nil {
			m.logger.Warn("Cannot watch mod directory.", "mod", mod.Name(), "error", err)
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-m.watchCtx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				m.handleManifestEvent(event)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("Manifest watch error.", "error", err)
			}
		}
	}()
	return nil
}

func (m *Manager) handleManifestEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != manifest.FileName {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	mod, ok := m.mods.byDir(filepath.Dir(event.Name))
	if !ok {
		return
	}
	if mod.Status() != StatusLoaded {
		return
	}
	m.logger.Info("Manifest changed, reloading mod.", "mod", mod.Name())
	if err := m.Reload(m.watchCtx, mod.Name()); err != nil {
		m.logger.Error("Manifest-triggered reload failed.", "mod", mod.Name(), "error", err)
	}
}
