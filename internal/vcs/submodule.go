package vcs

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// submoduleMap lazily parses .gitmodules into module-path -> absolute-path,
// grounded on the worktree/submodule awareness git_go.go's
// fixGitRelativePath implies is needed (it re-relativizes paths that git
// reports relative to a submodule's own root back to the caller's root).
func (g *Git) submoduleMap() map[string]string {
	g.submodulesOnce.Do(func() {
		g.submodules = map[string]string{}
		path := filepath.Join(g.repoRoot, ".gitmodules")
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()

		var currentPath string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if strings.HasPrefix(line, "path") {
				parts := strings.SplitN(line, "=", 2)
				if len(parts) == 2 {
					currentPath = strings.TrimSpace(parts[1])
					g.submodules[currentPath] = filepath.Join(g.repoRoot, currentPath)
				}
			}
		}
	})
	return g.submodules
}

// GetFileTree returns the content hash of every git-tracked file under
// dir (repo-relative), listed with `git ls-tree`. When dir falls inside a
// submodule, the listing comes from that submodule's repository alone,
// with keys relative to the submodule root; nothing from the parent
// repository is merged in.
func (g *Git) GetFileTree(dir string) (map[string]string, error) {
	for modPath, modAbs := range g.submoduleMap() {
		if dir == modPath || strings.HasPrefix(dir, modPath+"/") {
			sub := &Git{repoRoot: modAbs, rootPrefix: "."}
			return sub.GetFileTree(strings.TrimPrefix(strings.TrimPrefix(dir, modPath), "/"))
		}
	}

	out, err := runGit(g.repoRoot, "ls-tree", "-r", "--name-only", "-z", "HEAD", "--", dir)
	if err != nil {
		return nil, err
	}
	paths := splitZ(out)
	if len(paths) == 0 {
		return map[string]string{}, nil
	}
	return g.GetFileHashes(paths, true)
}
