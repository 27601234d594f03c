package cacheengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// WriteHashManifest persists a task's HashManifest side-car to
// <cache>/hashes/<hash>.json for `query hash-diff` (SPEC_FULL.md's
// supplemented feature) to read back later without recomputing.
func WriteHashManifest(cacheDir string, manifest *types.HashManifest) error {
	dir := filepath.Join(cacheDir, "hashes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errorsx.CacheError{Hash: string(manifest.Hash), Op: "manifest-mkdir", Message: err.Error()}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return &errorsx.CacheError{Hash: string(manifest.Hash), Op: "manifest-marshal", Message: err.Error()}
	}
	path := filepath.Join(dir, string(manifest.Hash)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errorsx.CacheError{Hash: string(manifest.Hash), Op: "manifest-write", Message: err.Error()}
	}
	return nil
}

// ReadHashManifest reads back a previously written HashManifest.
func ReadHashManifest(cacheDir string, hash types.Hash) (*types.HashManifest, error) {
	path := filepath.Join(cacheDir, "hashes", string(hash)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errorsx.CacheError{Hash: string(hash), Op: "manifest-read", Message: err.Error()}
	}
	var manifest types.HashManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &errorsx.CacheError{Hash: string(hash), Op: "manifest-parse", Message: err.Error()}
	}
	return &manifest, nil
}

// RunReport is the summary written to runReport.json at the end of a
// pipeline run: per-action status, duration and cache provenance.
// SPEC_FULL.md's supplemented feature, grounded on the shape of the
// teacher's internal/runsummary package without adopting its full
// schema (no framework/package-manager telemetry fields, since those
// belong to turborepo's hosted-analytics surface, which spec.md's
// Non-goals exclude).
type RunReport struct {
	RunID       string           `json:"runId"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Tasks       []RunReportEntry `json:"tasks"`
}

type RunReportEntry struct {
	Target   string            `json:"target"`
	Hash     types.Hash        `json:"hash"`
	Status   types.ActionStatus `json:"status"`
	Duration int               `json:"durationMs"`
}

// WriteRunReport writes runReport.json into cacheDir (the workspace cache
// root), with tasks sorted by target for deterministic diffs.
func WriteRunReport(cacheDir string, report *RunReport) error {
	sort.Slice(report.Tasks, func(i, j int) bool { return report.Tasks[i].Target < report.Tasks[j].Target })
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return &errorsx.CacheError{Op: "run-report-marshal", Message: err.Error()}
	}
	path := filepath.Join(cacheDir, "runReport.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errorsx.CacheError{Op: "run-report-write", Message: err.Error()}
	}
	return nil
}
