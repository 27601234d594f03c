package token

import (
	"fmt"
	"strconv"

	"github.com/stratum-build/stratum/internal/errorsx"
)

// expandFunc evaluates one @name(arg) token function call against c,
// within scope. name/arg come from the regex capture groups, so arg is
// never further quoted.
func (c *Context) expandFunc(scope Scope, name, arg string) (Result, error) {
	if !scope.allows(name) {
		return Result{}, c.tokenErr("InvalidTokenScope", fmt.Sprintf("@%s is not valid in this scope", name))
	}

	switch name {
	case "root":
		if _, err := c.fileGroup(arg); err != nil {
			return Result{}, err
		}
		return Result{Single: c.Project.Source}, nil
	case "dirs":
		group, err := c.fileGroup(arg)
		if err != nil {
			return Result{}, err
		}
		return Result{IsList: true, List: dirsOf(group.Files)}, nil
	case "files":
		group, err := c.fileGroup(arg)
		if err != nil {
			return Result{}, err
		}
		out := append([]string(nil), group.Files...)
		if c.InferInputs && scope == ScopeInputs {
			c.InferredInputs = append(c.InferredInputs, out...)
		}
		return Result{IsList: true, List: out}, nil
	case "globs":
		group, err := c.fileGroup(arg)
		if err != nil {
			return Result{}, err
		}
		if err := group.MustHaveGlobs(); err != nil {
			return Result{}, c.tokenErr("UnknownFileGroup", err.Error())
		}
		out := append([]string(nil), group.Globs...)
		if c.InferInputs && scope == ScopeInputs {
			c.InferredInputs = append(c.InferredInputs, out...)
		}
		return Result{IsList: true, List: out}, nil
	case "group":
		group, err := c.fileGroup(arg)
		if err != nil {
			return Result{}, err
		}
		out := append([]string(nil), group.Files...)
		out = append(out, group.Globs...)
		if scope == ScopeInputs {
			out = append(out, group.Env...)
			if c.InferInputs {
				c.InferredInputs = append(c.InferredInputs, out...)
			}
		}
		return Result{IsList: true, List: out}, nil
	case "envs":
		group, err := c.fileGroup(arg)
		if err != nil {
			return Result{}, err
		}
		return Result{IsList: true, List: append([]string(nil), group.Env...)}, nil
	case "in":
		idx, err := parseIndex(arg)
		if err != nil {
			return Result{}, c.tokenErr("InvalidTokenIndex", err.Error())
		}
		if idx < 0 || idx >= len(c.Inputs) {
			return Result{}, c.tokenErr("MissingInIndex", fmt.Sprintf("@in(%d) out of range (%d inputs)", idx, len(c.Inputs)))
		}
		return Result{Single: c.Inputs[idx]}, nil
	case "out":
		idx, err := parseIndex(arg)
		if err != nil {
			return Result{}, c.tokenErr("InvalidTokenIndex", err.Error())
		}
		if idx < 0 || idx >= len(c.Outputs) {
			return Result{}, c.tokenErr("MissingOutIndex", fmt.Sprintf("@out(%d) out of range (%d outputs)", idx, len(c.Outputs)))
		}
		return Result{Single: c.Outputs[idx]}, nil
	case "meta":
		if c.Project.Metadata == nil {
			return Result{}, c.tokenErr("UnknownToken", fmt.Sprintf("no metadata field %q", arg))
		}
		v, ok := c.Project.Metadata[arg]
		if !ok {
			return Result{}, c.tokenErr("UnknownToken", fmt.Sprintf("no metadata field %q", arg))
		}
		return Result{Single: v}, nil
	default:
		return Result{}, c.tokenErr("UnknownToken", fmt.Sprintf("unknown token function @%s", name))
	}
}

func (c *Context) fileGroup(name string) (FileGroupLike, error) {
	g, ok := c.Project.FileGroups[name]
	if !ok {
		return FileGroupLike{}, c.tokenErr("UnknownFileGroup", fmt.Sprintf("no file group %q on project %s", name, c.Project.Id))
	}
	return FileGroupLike{Files: c.filterIgnored(g.Files), Globs: g.Globs, Env: g.Env}, nil
}

// filterIgnored drops any workspace-relative path matched by the
// workspace's `.stratumignore`, same as the teacher excludes
// `.gitignore`-matched paths before they reach the hasher.
func (c *Context) filterIgnored(files []string) []string {
	if c.Ignore == nil {
		return files
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !c.Ignore.MatchesPath(f) {
			out = append(out, f)
		}
	}
	return out
}

// FileGroupLike mirrors types.FileGroup's payload without importing it
// circularly into the function-local helper signature.
type FileGroupLike struct {
	Files []string
	Globs []string
	Env   []string
}

func (g FileGroupLike) MustHaveGlobs() error {
	if len(g.Globs) == 0 {
		return fmt.Errorf("file group has no globs")
	}
	return nil
}

func dirsOf(files []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range files {
		d := parentDir(f)
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func parseIndex(raw string) (int, error) {
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid token index %q: %w", raw, err)
	}
	return idx, nil
}

func (c *Context) tokenErr(reason, msg string) error {
	return &errorsx.TokenError{Task: taskName(c.Task), Reason: reason, Message: msg}
}
