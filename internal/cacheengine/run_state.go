package cacheengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// sanitizeTarget maps a target string (e.g. "web#build", "lib:test") to
// a filesystem-safe directory component by replacing the separator
// characters a Target.String() may contain.
func sanitizeTarget(target string) string {
	replacer := strings.NewReplacer(":", "_", "#", "_", "^", "_", "~", "_", "/", "_")
	return replacer.Replace(target)
}

func runStatePath(cacheDir, target string) string {
	return filepath.Join(cacheDir, "states", sanitizeTarget(target), "lastRun.json")
}

// WriteRunState persists target's TaskRunState to its states/<target>/
// lastRun.json side-car, per spec.md §8 Scenario 1: a later run reads
// this back to decide whether re-extracting a cache hit is even
// necessary.
func WriteRunState(cacheDir, target string, state types.TaskRunState) error {
	path := runStatePath(cacheDir, target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errorsx.CacheError{Hash: string(state.Hash), Op: "run-state-mkdir", Message: err.Error()}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &errorsx.CacheError{Hash: string(state.Hash), Op: "run-state-marshal", Message: err.Error()}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errorsx.CacheError{Hash: string(state.Hash), Op: "run-state-write", Message: err.Error()}
	}
	return nil
}

// ReadRunState reads back target's last recorded TaskRunState. A missing
// side-car (first run for this target) is reported as a plain error; the
// caller treats any error as "no usable prior state".
func ReadRunState(cacheDir, target string) (*types.TaskRunState, error) {
	data, err := os.ReadFile(runStatePath(cacheDir, target))
	if err != nil {
		return nil, err
	}
	var state types.TaskRunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &errorsx.CacheError{Op: "run-state-parse", Message: err.Error()}
	}
	return &state, nil
}
