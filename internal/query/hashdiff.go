package query

import (
	"encoding/json"
	"sort"

	"github.com/stratum-build/stratum/internal/types"
)

// HashDiffEntry reports one component key's status between two hash
// manifests.
type HashDiffEntry struct {
	Name   string
	Status string // added|removed|changed
	Before interface{} `json:",omitempty"`
	After  interface{} `json:",omitempty"`
}

// HashDiff is the `query hash-diff` command's supplemented operation
// (spec.md §6.4 names the command but leaves its behavior unspecified):
// a structural diff between two hash manifests' component trees,
// grounded in the moon original's crates/core/query/src/builder.rs,
// which reports exactly this added/removed/changed-keys shape.
func HashDiff(before, after *types.HashManifest) []HashDiffEntry {
	beforeIdx := componentIndex(before)
	afterIdx := componentIndex(after)

	names := map[string]bool{}
	for name := range beforeIdx {
		names[name] = true
	}
	for name := range afterIdx {
		names[name] = true
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var out []HashDiffEntry
	for _, name := range sorted {
		b, hasBefore := beforeIdx[name]
		a, hasAfter := afterIdx[name]
		switch {
		case !hasBefore:
			out = append(out, HashDiffEntry{Name: name, Status: "added", After: a})
		case !hasAfter:
			out = append(out, HashDiffEntry{Name: name, Status: "removed", Before: b})
		case !jsonEqual(b, a):
			out = append(out, HashDiffEntry{Name: name, Status: "changed", Before: b, After: a})
		}
	}
	return out
}

func componentIndex(m *types.HashManifest) map[string]interface{} {
	idx := map[string]interface{}{}
	if m == nil {
		return idx
	}
	for _, c := range m.Components {
		idx[c.Name] = c.Value
	}
	return idx
}

// jsonEqual compares two component values by their canonical JSON
// encoding, since HashComponent.Value is documented as "canonical-JSON-
// serialisable" rather than a comparable Go value.
func jsonEqual(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
