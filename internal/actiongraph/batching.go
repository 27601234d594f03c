package actiongraph

import (
	"sort"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// Batches returns the action graph's nodes grouped into antichains safe
// to execute in parallel, per spec.md §4.4's sort_batched_topological:
// Kahn's algorithm over the dependency (down-edge) relation, with each
// batch's nodes ordered by stable key for reproducible logs. Edges point
// dependent -> dependency, so nodes with no dependencies form batch 0 and
// every other node enters the first batch after every action it depends
// on has already been placed in an earlier batch; the final
// result is already in dependency-first order (setup before run), which
// is the reverse of how Kahn's algorithm is normally described over
// dependents-point-to-dependencies graphs (spec.md's note on "emitted in
// reverse of the produced order").
func (g *Graph) Batches() ([][]types.ActionKey, error) {
	keys := make([]types.ActionKey, 0, len(g.actions))
	for k := range g.actions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	remaining := map[string]bool{}
	for _, k := range keys {
		remaining[k.String()] = true
	}

	var batches [][]types.ActionKey
	placed := map[string]bool{}

	for len(remaining) > 0 {
		var batch []types.ActionKey
		for _, k := range keys {
			name := k.String()
			if !remaining[name] {
				continue
			}
			ready := true
			for _, dep := range g.Dependencies(k) {
				if !placed[dep.String()] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, k)
			}
		}
		if len(batch) == 0 {
			return nil, &errorsx.GraphCycleError{Chain: findCycle(g, keys, remaining)}
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].String() < batch[j].String() })
		batches = append(batches, batch)
		for _, k := range batch {
			delete(remaining, k.String())
			placed[k.String()] = true
		}
	}
	return batches, nil
}

// findCycle produces a minimal participating chain for the error message
// when Batches detects unvisited nodes after exhausting ready nodes: it
// walks dependency edges from an arbitrary unresolved node until a repeat
// is found.
func findCycle(g *Graph, all []types.ActionKey, remaining map[string]bool) []string {
	var start types.ActionKey
	for _, k := range all {
		if remaining[k.String()] {
			start = k
			break
		}
	}
	visited := map[string]bool{}
	chain := []string{}
	cur := start
	for {
		name := cur.String()
		if visited[name] {
			// drop the lead-in before the repeated node so only the
			// cycle itself is reported
			for i, n := range chain {
				if n == name {
					chain = chain[i:]
					break
				}
			}
			chain = append(chain, name)
			return chain
		}
		visited[name] = true
		chain = append(chain, name)
		deps := g.Dependencies(cur)
		var next *types.ActionKey
		for _, d := range deps {
			if remaining[d.String()] {
				dd := d
				next = &dd
				break
			}
		}
		if next == nil {
			return chain
		}
		cur = *next
	}
}

// Validate reports a GraphCycleError if the graph is not acyclic. It runs
// the full Batches computation and discards the batches, so it costs the
// same as Batches; a caller can use it eagerly after AddTargets.
func (g *Graph) Validate() error {
	_, err := g.Batches()
	return err
}
