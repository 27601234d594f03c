package types

// TouchedFiles partitions workspace-relative paths by how they differ from
// the VCS base state (spec.md §3.2, §4.9).
type TouchedFiles struct {
	Added     map[string]struct{}
	Deleted   map[string]struct{}
	Modified  map[string]struct{}
	Staged    map[string]struct{}
	Unstaged  map[string]struct{}
	Untracked map[string]struct{}
}

// NewTouchedFiles returns a TouchedFiles with every set initialised empty.
func NewTouchedFiles() *TouchedFiles {
	return &TouchedFiles{
		Added:     map[string]struct{}{},
		Deleted:   map[string]struct{}{},
		Modified:  map[string]struct{}{},
		Staged:    map[string]struct{}{},
		Unstaged:  map[string]struct{}{},
		Untracked: map[string]struct{}{},
	}
}

// All returns the union of every partition, useful for affected-filter
// matching where the specific status doesn't matter.
func (t *TouchedFiles) All() map[string]struct{} {
	out := map[string]struct{}{}
	for _, set := range []map[string]struct{}{t.Added, t.Deleted, t.Modified, t.Staged, t.Unstaged, t.Untracked} {
		for k := range set {
			out[k] = struct{}{}
		}
	}
	return out
}

// Merge unions every partition of other into t in place.
func (t *TouchedFiles) Merge(other *TouchedFiles) {
	if other == nil {
		return
	}
	mergeInto(t.Added, other.Added)
	mergeInto(t.Deleted, other.Deleted)
	mergeInto(t.Modified, other.Modified)
	mergeInto(t.Staged, other.Staged)
	mergeInto(t.Unstaged, other.Unstaged)
	mergeInto(t.Untracked, other.Untracked)
}

func mergeInto(dst, src map[string]struct{}) {
	for k := range src {
		dst[k] = struct{}{}
	}
}
