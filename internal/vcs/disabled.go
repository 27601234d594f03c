package vcs

import "github.com/stratum-build/stratum/internal/types"

// Disabled is the no-op VCS used when no repository is found, per spec.md
// §7: caching and affected-detection degrade gracefully rather than
// failing the whole run.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) GetLocalBranch() (string, error) { return "", nil }

func (Disabled) GetDefaultBranch() (string, error) { return "", nil }

func (Disabled) GetFileHashes(paths []string, allowIgnored bool) (map[string]string, error) {
	return map[string]string{}, nil
}

func (Disabled) GetFileTree(dir string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (Disabled) GetTouchedFiles() (*types.TouchedFiles, error) {
	return types.NewTouchedFiles(), nil
}

func (Disabled) GetTouchedFilesBetweenRevisions(base, head string) (*types.TouchedFiles, error) {
	return types.NewTouchedFiles(), nil
}

func (Disabled) IsIgnored(path string) (bool, error) { return false, nil }
