package vcs

import (
	"strings"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// statusCode mirrors the teacher's internal/hashing statusCode{x,y}: the
// two porcelain-v1 status columns for one path, from `git status -z`.
type statusCode struct {
	x, y byte
}

// GetTouchedFiles parses `git status -z --untracked-files --no-renames`
// into TouchedFiles, grounded directly on package_deps_hash_go.go's
// gitStatus: NUL-delimited porcelain records, X/Y status-code columns,
// with the X/Y -> added/deleted/modified/untracked mapping spec.md §4.9
// specifies.
func (g *Git) GetTouchedFiles() (*types.TouchedFiles, error) {
	out, err := runGit(g.repoRoot, "status", "--untracked-files", "--no-renames", "-z", "--")
	if err != nil {
		return nil, err
	}
	codes, err := parsePorcelainZ(out)
	if err != nil {
		return nil, err
	}

	tf := types.NewTouchedFiles()
	for path, c := range codes {
		rel := g.toWorkspaceRelative(path)
		switch {
		case c.x == '?' && c.y == '?':
			tf.Untracked[rel] = struct{}{}
		case c.x == 'A' || c.y == 'A':
			tf.Added[rel] = struct{}{}
		case c.x == 'D' || c.y == 'D':
			tf.Deleted[rel] = struct{}{}
		default: // M, R, C, T in either column
			tf.Modified[rel] = struct{}{}
		}
		if c.x != ' ' && c.x != '?' {
			tf.Staged[rel] = struct{}{}
		}
		if c.y != ' ' && c.y != '?' {
			tf.Unstaged[rel] = struct{}{}
		}
	}
	return tf, nil
}

// parsePorcelainZ splits `git status -z` output into NUL-delimited
// records. Rename/copy records carry two paths (old NUL new); since we
// invoke git with --no-renames, every record has exactly one path.
func parsePorcelainZ(out string) (map[string]statusCode, error) {
	result := map[string]statusCode{}
	records := strings.Split(strings.TrimRight(out, "\x00"), "\x00")
	for _, rec := range records {
		if rec == "" {
			continue
		}
		if len(rec) < 4 {
			return nil, &errorsx.VcsError{Op: "status", Message: "malformed status record: " + rec}
		}
		code := statusCode{x: rec[0], y: rec[1]}
		path := rec[3:]
		result[path] = code
	}
	return result, nil
}
