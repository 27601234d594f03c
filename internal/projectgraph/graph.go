// Package projectgraph implements the Project Graph of spec.md §4.3: a
// DAG of projects built from workspace-declared sources/globs, consulting
// platform plugins for implicit dependencies. Grounded in the teacher's
// internal/context (the in-memory workspace graph) and internal/graph
// (its thin dag.AcyclicGraph wrapper), reusing github.com/pyr-sh/dag for
// the underlying graph exactly as internal/core/engine.go does for its
// task graph.
package projectgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/pyr-sh/dag"

	"github.com/stratum-build/stratum/internal/plugin"
	"github.com/stratum-build/stratum/internal/types"
)

// Graph is a validated DAG of projects keyed by id.
type Graph struct {
	g        dag.AcyclicGraph
	projects map[types.ProjectId]*types.Project
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{projects: map[types.ProjectId]*types.Project{}}
}

// AddProject registers a project as a vertex. Re-adding the same id is a
// no-op aside from refreshing the stored Project value.
func (g *Graph) AddProject(p *types.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.projects[p.Id] = p
	g.g.Add(string(p.Id))
	return nil
}

// AddDependency records that `from` depends on `to` with the given scope.
// Per spec.md §4.3, Build and Peer scopes are permitted to form cycles;
// the edge is still recorded in both cases, since only the task graph
// (§4.4) treats cycles as fatal.
func (g *Graph) AddDependency(from, to types.ProjectId, scope types.DependencyScope, source types.DependencySource) error {
	if _, ok := g.projects[from]; !ok {
		return fmt.Errorf("projectgraph: unknown project %q", from)
	}
	if _, ok := g.projects[to]; !ok {
		return fmt.Errorf("projectgraph: unknown project %q", to)
	}
	fromProject := g.projects[from]
	fromProject.Dependencies = append(fromProject.Dependencies, types.DependencyConfig{Id: to, Scope: scope, Source: source})
	g.g.Connect(dag.BasicEdge(string(from), string(to)))
	return nil
}

// ResolveImplicitDependencies asks each project's registered toolchain
// plugin for dependencies the user never declared explicitly (spec.md
// §4.3, e.g. a Node project's package.json workspace deps), folding any
// that resolve to a known project id into the graph as DependencyImplicit
// edges. A project whose toolchain has no registered plugin, or whose
// plugin names a dependency outside the workspace, is simply skipped.
func (g *Graph) ResolveImplicitDependencies(ctx context.Context, plugins *plugin.Registry) error {
	for _, p := range g.All() {
		impl, ok := plugins.Get(projectToolchain(p))
		if !ok {
			continue
		}
		deps, err := impl.ImplicitDependencies(ctx, p)
		if err != nil {
			return fmt.Errorf("projectgraph: implicit dependencies for %q: %w", p.Id, err)
		}

		existing := map[types.ProjectId]bool{}
		for _, id := range g.DependenciesOf(p.Id) {
			existing[id] = true
		}
		for _, dep := range deps {
			if dep.Id == p.Id || existing[dep.Id] {
				continue
			}
			if _, known := g.projects[dep.Id]; !known {
				continue
			}
			if err := g.AddDependency(p.Id, dep.Id, dep.Scope, types.DependencyImplicit); err != nil {
				return err
			}
			existing[dep.Id] = true
		}
	}
	return nil
}

// projectToolchain picks a representative toolchain for a project's
// implicit-dependency lookup: the declared toolchain of whichever task
// map iteration reaches first (the order is unspecified), or "system"
// when no task declares one.
func projectToolchain(p *types.Project) string {
	for _, task := range p.Tasks {
		if task.Toolchain != "" {
			return task.Toolchain
		}
	}
	return "system"
}

// Get returns the project for id.
func (g *Graph) Get(id types.ProjectId) (*types.Project, bool) {
	p, ok := g.projects[id]
	return p, ok
}

// All returns every project, sorted by id for deterministic iteration.
func (g *Graph) All() []*types.Project {
	ids := make([]string, 0, len(g.projects))
	for id := range g.projects {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]*types.Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.projects[types.ProjectId(id)])
	}
	return out
}

// DependenciesOf returns the direct upstream dependency ids of id, sorted.
func (g *Graph) DependenciesOf(id types.ProjectId) []types.ProjectId {
	p, ok := g.projects[id]
	if !ok {
		return nil
	}
	out := make([]types.ProjectId, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		out = append(out, d.Id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DependentsOf returns every project that directly depends on id, sorted.
func (g *Graph) DependentsOf(id types.ProjectId) []types.ProjectId {
	var out []types.ProjectId
	for _, p := range g.All() {
		for _, d := range p.Dependencies {
			if d.Id == id {
				out = append(out, p.Id)
				break
			}
		}
	}
	return out
}

// TransitiveDependentsOf returns every project reachable by walking
// DependentsOf repeatedly from id (not including id itself), used by the
// affected-filter supplement in SPEC_FULL.md §4.
func (g *Graph) TransitiveDependentsOf(id types.ProjectId) []types.ProjectId {
	visited := map[types.ProjectId]bool{id: true}
	queue := []types.ProjectId{id}
	var out []types.ProjectId
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.DependentsOf(cur) {
			if !visited[dep] {
				visited[dep] = true
				out = append(out, dep)
				queue = append(queue, dep)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
