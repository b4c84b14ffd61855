package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/zpdzap/sandpreview/internal/config"
)

// State holds the persistent session state for a project.
type State struct {
	Instance *Record `json:"instance,omitempty"`
}

func statePath(projectDir string) string {
	return filepath.Join(projectDir, config.Dir, config.StateFile)
}

// LoadState reads .sandpreview/state.json. A missing file is an empty state.
func LoadState(projectDir string) (*State, error) {
	data, err := os.ReadFile(statePath(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	return &s, nil
}

// SaveState atomically replaces .sandpreview/state.json.
func SaveState(projectDir string, s *State) error {
	dir := filepath.Join(projectDir, config.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := atomic.WriteFile(statePath(projectDir), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}
