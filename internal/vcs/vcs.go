// Package vcs implements the VCS-Aware File State of spec.md §4.9: git
// file hashing, touched-files enumeration and submodule/worktree-aware
// path resolution. Grounded directly in the teacher's internal/scm
// (git_go.go: ChangedFiles via `git diff --name-only`/merge-base `...`
// syntax, untracked via `ls-files --other --exclude-standard`) and
// internal/hashing/package_deps_hash_go.go (gitStatus's X/Y porcelain
// parsing, gitHashObject's stdin-piped batch hashing, getTraversePath's
// `git rev-parse --show-cdup` caching) — adapted from turborepo's
// per-package dependency hashing use case to spec.md's general-purpose
// VCS interface.
package vcs

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// VCS is the capability-polymorphic interface spec.md §4.9 names. Git is
// the only implementation; a no-op implementation (Disabled) degrades
// gracefully per spec.md §7's VcsError policy.
type VCS interface {
	Enabled() bool
	GetLocalBranch() (string, error)
	GetDefaultBranch() (string, error)
	GetFileHashes(paths []string, allowIgnored bool) (map[string]string, error)
	GetFileTree(dir string) (map[string]string, error)
	GetTouchedFiles() (*types.TouchedFiles, error)
	GetTouchedFilesBetweenRevisions(base, head string) (*types.TouchedFiles, error)
	IsIgnored(path string) (bool, error)
}

// Git implements VCS by shelling out to the system git binary.
type Git struct {
	repoRoot   string // absolute path to the repository root (where .git lives)
	rootPrefix string // workspace root's position within the repo, workspace-relative

	submodulesOnce sync.Once
	submodules     map[string]string // module path -> absolute path
}

// New probes dir for a git repository and returns a Git VCS handle. If no
// repository is found, it returns a Disabled handle rather than an error,
// per spec.md §7's "degrades gracefully... by disabling caching and
// affected-detection".
func New(dir string) VCS {
	root, err := findRepoRoot(dir)
	if err != nil {
		return Disabled{}
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		rel = "."
	}
	return &Git{repoRoot: root, rootPrefix: toUnix(rel)}
}

func findRepoRoot(dir string) (string, error) {
	out, err := runGit(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) Enabled() bool { return true }

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &errorsx.VcsError{Op: strings.Join(args, " "), Message: fmt.Sprintf("%v: %s", err, stderr.String())}
	}
	return stdout.String(), nil
}

func toUnix(p string) string { return filepath.ToSlash(p) }

// toWorkspaceRelative strips the repository root's rootPrefix from a
// repo-relative path, per spec.md §4.9's path normalisation rule.
func (g *Git) toWorkspaceRelative(repoRelative string) string {
	repoRelative = toUnix(repoRelative)
	if g.rootPrefix == "." || g.rootPrefix == "" {
		return repoRelative
	}
	return strings.TrimPrefix(strings.TrimPrefix(repoRelative, g.rootPrefix), "/")
}

// GetLocalBranch returns the current branch name.
func (g *Git) GetLocalBranch() (string, error) {
	out, err := runGit(g.repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GetDefaultBranch resolves the remote's default branch, falling back to
// "main" if no remote HEAD is configured.
func (g *Git) GetDefaultBranch() (string, error) {
	out, err := runGit(g.repoRoot, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return "main", nil
	}
	parts := strings.Split(strings.TrimSpace(out), "/")
	return parts[len(parts)-1], nil
}

// IsIgnored reports whether git would ignore path.
func (g *Git) IsIgnored(path string) (bool, error) {
	_, err := runGit(g.repoRoot, "check-ignore", "-q", path)
	if err == nil {
		return true, nil
	}
	var vcsErr *errorsx.VcsError
	if errors.As(err, &vcsErr) {
		return false, nil // check-ignore exits 1 for "not ignored"; treat as non-fatal
	}
	return false, err
}
