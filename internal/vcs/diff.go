package vcs

import (
	"strings"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// remoteCandidates is the fallback order for resolving a merge base when
// `base` is a branch name rather than a concrete revision: origin, then
// upstream, then the bare local ref itself. This is SPEC_FULL.md's
// merge-base multi-remote supplement to spec.md §4.9, which only
// specifies "diff against a base revision" without naming which remote
// wins when several are configured.
var remoteCandidates = []string{"origin", "upstream", ""}

// GetTouchedFilesBetweenRevisions diffs head against the merge-base of
// base and head, grounded on git_go.go's ChangedFiles (`git diff
// --name-status` using the `base...head` three-dot syntax, which already
// computes against the merge base). When head is empty or "HEAD",
// untracked files are folded in as Untracked, mirroring ChangedFiles's
// `ls-files --other --exclude-standard` supplement.
func (g *Git) GetTouchedFilesBetweenRevisions(base, head string) (*types.TouchedFiles, error) {
	mergeBase, err := g.resolveMergeBase(base, head)
	if err != nil {
		return nil, err
	}

	out, err := runGit(g.repoRoot, "diff", "--name-status", "--no-color", "--relative", "--ignore-submodules", "-z", mergeBase+"..."+head)
	if err != nil {
		return nil, err
	}

	tf := types.NewTouchedFiles()
	fields := splitZ(out)
	for i := 0; i+1 < len(fields); i += 2 {
		status := fields[i]
		path := fields[i+1]
		rel := g.toWorkspaceRelative(path)
		switch status[0] {
		case 'A':
			tf.Added[rel] = struct{}{}
		case 'D':
			tf.Deleted[rel] = struct{}{}
		default: // M, R, C, T
			tf.Modified[rel] = struct{}{}
		}
	}

	if head == "" || head == "HEAD" {
		untracked, err := runGit(g.repoRoot, "ls-files", "--other", "--exclude-standard")
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(strings.TrimSpace(untracked), "\n") {
			if line == "" {
				continue
			}
			rel := g.toWorkspaceRelative(line)
			tf.Untracked[rel] = struct{}{}
		}
	}

	return tf, nil
}

// resolveMergeBase tries each remoteCandidate's view of base in turn,
// falling back to the bare ref name, and finally to base itself if no
// merge-base can be computed (e.g. unrelated histories in a shallow
// clone).
func (g *Git) resolveMergeBase(base, head string) (string, error) {
	var lastErr error
	for _, remote := range remoteCandidates {
		ref := base
		if remote != "" {
			ref = remote + "/" + base
		}
		if !g.refExists(ref) {
			continue
		}
		out, err := runGit(g.repoRoot, "merge-base", ref, head)
		if err == nil {
			return strings.TrimSpace(out), nil
		}
		lastErr = err
	}
	if g.refExists(base) {
		return base, nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", &errorsx.VcsError{Op: "merge-base", Message: "no candidate ref resolved for base " + base}
}

func (g *Git) refExists(ref string) bool {
	_, err := runGit(g.repoRoot, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func splitZ(s string) []string {
	trimmed := strings.TrimRight(s, "\x00")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\x00")
}
