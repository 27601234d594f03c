// Package envbag implements the "global state" design note of spec.md §9:
// the only process-wide state is an environment-variable bag, snapshotted
// once at startup and re-queryable during token expansion. Tests inject a
// bag rather than mutating the real environment, mirroring the teacher's
// internal/env.EnvironmentVariableMap, which is likewise built once from
// os.Environ() and then passed by value.
package envbag

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// Bag is an immutable snapshot of environment variables.
type Bag struct {
	vars map[string]string
}

// Snapshot captures the current process environment into a Bag.
func Snapshot() *Bag {
	b := &Bag{vars: map[string]string{}}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			b.vars[kv[:i]] = kv[i+1:]
		}
	}
	return b
}

// New builds a Bag from an explicit map, for tests that want a
// deterministic environment without touching the real process.
func New(vars map[string]string) *Bag {
	b := &Bag{vars: map[string]string{}}
	for k, v := range vars {
		b.vars[k] = v
	}
	return b
}

// Get returns the value of name and whether it was present.
func (b *Bag) Get(name string) (string, bool) {
	v, ok := b.vars[name]
	return v, ok
}

// With returns a new Bag equal to b with the given overrides applied; b is
// left unmodified.
func (b *Bag) With(overrides map[string]string) *Bag {
	out := &Bag{vars: map[string]string{}}
	for k, v := range b.vars {
		out.vars[k] = v
	}
	for k, v := range overrides {
		out.vars[k] = v
	}
	return out
}

// Names returns every variable name in the bag, sorted.
func (b *Bag) Names() []string {
	names := make([]string, 0, len(b.vars))
	for k := range b.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MatchWildcards expands a list of wildcard patterns ("FOO_*", "!FOO_BAR")
// against the bag's variable names, mirroring the teacher's
// internal/env.wildcardToRegexPattern: "*" becomes ".*", a leading "!"
// excludes. Returns the matched names sorted, include-before-exclude.
func (b *Bag) MatchWildcards(patterns []string) []string {
	included := map[string]struct{}{}
	excluded := map[string]struct{}{}
	for _, pat := range patterns {
		negate := strings.HasPrefix(pat, "!")
		p := strings.TrimPrefix(pat, "!")
		re := wildcardToRegexp(p)
		for _, name := range b.Names() {
			if re.MatchString(name) {
				if negate {
					excluded[name] = struct{}{}
				} else {
					included[name] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(included))
	for name := range included {
		if _, ex := excluded[name]; !ex {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func wildcardToRegexp(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	return regexp.MustCompile("^" + quoted + "$")
}
