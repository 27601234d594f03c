package vcs

import (
	"bufio"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/stratum-build/stratum/internal/errorsx"
)

// GetFileHashes batches paths through a single `git hash-object
// --stdin-paths` process, grounded on package_deps_hash_go.go's
// gitHashObject: one long-lived process fed newline-delimited paths on
// stdin, reading one hash per line back on stdout, instead of spawning a
// process per file. Paths that `git check-ignore` reports as ignored are
// silently skipped unless allowIgnored; untracked paths that are not
// ignored are hashed like tracked ones.
func (g *Git) GetFileHashes(paths []string, allowIgnored bool) (map[string]string, error) {
	if len(paths) == 0 {
		return map[string]string{}, nil
	}

	if !allowIgnored {
		filtered := make([]string, 0, len(paths))
		for _, p := range paths {
			ignored, err := g.IsIgnored(p)
			if err != nil {
				return nil, err
			}
			if !ignored {
				filtered = append(filtered, p)
			}
		}
		paths = filtered
	}
	if len(paths) == 0 {
		return map[string]string{}, nil
	}

	cmd := exec.Command("git", "hash-object", "--stdin-paths")
	cmd.Dir = g.repoRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errorsx.VcsError{Op: "hash-object", Message: err.Error()}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errorsx.VcsError{Op: "hash-object", Message: err.Error()}
	}
	if err := cmd.Start(); err != nil {
		return nil, &errorsx.VcsError{Op: "hash-object", Message: err.Error()}
	}

	go func() {
		w := bufio.NewWriter(stdin)
		for _, p := range paths {
			fmt.Fprintln(w, filepath.Join(g.repoRoot, p))
		}
		w.Flush()
		stdin.Close()
	}()

	result := make(map[string]string, len(paths))
	scanner := bufio.NewScanner(stdout)
	i := 0
	for scanner.Scan() && i < len(paths) {
		result[toUnix(paths[i])] = strings.TrimSpace(scanner.Text())
		i++
	}
	if err := cmd.Wait(); err != nil {
		return nil, &errorsx.VcsError{Op: "hash-object", Message: err.Error()}
	}
	return result, nil
}
