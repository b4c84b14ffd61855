// Package workdir manages the host directories that are bind-mounted into
// sandboxes as /workspace.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zpdzap/sandpreview/internal/config"
)

// Path returns the host directory for the named sandbox.
func Path(projectDir, name string) string {
	return filepath.Join(projectDir, config.Dir, config.WorkdirDir, name)
}

// Create makes an empty workdir for a sandbox and returns its absolute path.
func Create(projectDir, name string) (string, error) {
	path := Path(projectDir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("workdir %s already exists", name)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating workdir: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return absPath, nil
}

// Remove deletes a sandbox workdir. A missing workdir is not an error.
func Remove(projectDir, name string) error {
	if err := os.RemoveAll(Path(projectDir, name)); err != nil {
		return fmt.Errorf("removing workdir %s: %w", name, err)
	}
	return nil
}

// RemoveDir deletes a workdir by its full path, as stored in a persisted
// sandbox record. Paths outside a workdirs directory are refused.
func RemoveDir(path string) error {
	if filepath.Base(filepath.Dir(path)) != config.WorkdirDir {
		return fmt.Errorf("refusing to remove %s: not a sandbox workdir", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing workdir %s: %w", filepath.Base(path), err)
	}
	return nil
}

// List returns the names of existing workdirs.
func List(projectDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(projectDir, config.Dir, config.WorkdirDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing workdirs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
