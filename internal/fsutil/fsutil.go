// Package fsutil holds the small filesystem helpers shared by mod
// discovery and the test harnesses.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListModDirs returns the absolute paths of root's immediate
// subdirectories, sorted by name. Files and hidden directories at the top
// level are skipped; discovery never descends further, a mod is exactly
// one directory deep.
func ListModDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("listing mods root %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, filepath.Join(root, e.Name()))
	}
	sort.Strings(dirs)
	return dirs, nil
}
