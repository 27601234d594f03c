// Package actiongraph implements the Task & Action Graph of spec.md §4.4:
// lowering target locators into a DAG of SetupToolchain/InstallDeps/
// SyncProject/RunTask actions, with deterministic batching and cycle
// detection. Grounded in the teacher's internal/core/engine.go (Engine:
// dag.AcyclicGraph-backed task graph, ROOT_NODE_NAME sentinel for leaf
// tasks, Prepare()/AddTask()/AddDep() shape) generalised from "task
// depends on task" to the richer action-kind model spec.md requires.
package actiongraph

import (
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pyr-sh/dag"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/projectgraph"
	"github.com/stratum-build/stratum/internal/types"
)

// rootNodeName is the sentinel leaf every setup/install/sync node with no
// further predecessor connects to, mirroring the teacher's ROOT_NODE_NAME
// in internal/core/engine.go — it gives Kahn's algorithm a single
// well-defined root rather than N disconnected components.
const rootNodeName = "___ROOT___"

// ToolchainManifest reports, for a runtime, whether it has a dependency
// manifest requiring an InstallDeps action (e.g. package.json/yarn.lock
// for "node", none for "system").
type ToolchainManifest func(runtime string) bool

// Graph is the built action DAG.
type Graph struct {
	g       dag.AcyclicGraph
	actions map[types.ActionKey]types.Action
	workspaceRoot string
}

// Builder constructs a Graph from target locators.
type Builder struct {
	projects  *projectgraph.Graph
	hasManifest ToolchainManifest
	workspaceRoot string

	graph *Graph
}

// NewBuilder returns a Builder over the given project graph.
func NewBuilder(projects *projectgraph.Graph, workspaceRoot string, hasManifest ToolchainManifest) *Builder {
	return &Builder{
		projects:      projects,
		hasManifest:   hasManifest,
		workspaceRoot: workspaceRoot,
		graph: &Graph{
			actions:       map[types.ActionKey]types.Action{},
			workspaceRoot: workspaceRoot,
		},
	}
}

func (b *Builder) ensure(a types.Action) types.ActionKey {
	if _, ok := b.graph.actions[a.ActionKey]; !ok {
		b.graph.actions[a.ActionKey] = a
		b.graph.g.Add(a.ActionKey.String())
	}
	return a.ActionKey
}

func (b *Builder) connect(from, to types.ActionKey) {
	b.graph.g.Connect(dag.BasicEdge(from.String(), to.String()))
}

// AddTargets resolves every locator (per spec.md §4.4's target
// resolution rules) and inserts the resulting RunTask actions, with their
// Setup/Sync/Install/dependency edges, into the graph. Locators are
// independent of one another, so a bad one doesn't stop the rest from
// being checked: every failure is collected and returned together via
// go-multierror, the same aggregation the teacher uses for independent
// per-package failures.
func (b *Builder) AddTargets(locators []string) error {
	var errs *multierror.Error
	for _, raw := range locators {
		target, err := types.ParseTarget(raw)
		if err != nil {
			errs = multierror.Append(errs, &errorsx.TargetError{Target: raw, Message: err.Error()})
			continue
		}
		tasks, err := b.resolveLocator(target, nil)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, rt := range tasks {
			if err := b.addRunTask(rt, map[types.ActionKey]bool{}); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if errs.ErrorOrNil() != nil {
		return errs.ErrorOrNil()
	}
	return b.finalize()
}

// resolveLocator expands a Target's scope against the project graph.
// owner is the enclosing project for ^:task / ~:task forms (nil at the
// top level, where those forms are meaningless).
func (b *Builder) resolveLocator(target types.Target, owner *types.Project) ([]*types.Task, error) {
	switch target.Scope {
	case types.ScopeProject:
		p, ok := b.projects.Get(target.Project)
		if !ok {
			return nil, &errorsx.TargetError{Target: target.String(), Message: "unknown project"}
		}
		task, ok := p.Tasks[target.Task]
		if !ok {
			return nil, &errorsx.TargetError{Target: target.String(), Message: "unknown task"}
		}
		return []*types.Task{task}, nil

	case types.ScopeAll:
		var out []*types.Task
		for _, p := range b.projects.All() {
			if task, ok := p.Tasks[target.Task]; ok && !task.Options.Internal {
				out = append(out, task)
			}
		}
		return out, nil

	case types.ScopeDeps:
		if owner == nil {
			return nil, &errorsx.TargetError{Target: target.String(), Message: "^:task has no enclosing project at top level"}
		}
		var out []*types.Task
		for _, depID := range b.projects.DependenciesOf(owner.Id) {
			dep, ok := b.projects.Get(depID)
			if !ok {
				continue
			}
			if task, ok := dep.Tasks[target.Task]; ok && !task.Options.Internal {
				out = append(out, task)
			}
		}
		return out, nil

	case types.ScopeOwnSelf:
		if owner == nil {
			return nil, &errorsx.TargetError{Target: target.String(), Message: "~:task has no enclosing project at top level"}
		}
		task, ok := owner.Tasks[target.Task]
		if !ok {
			return nil, &errorsx.TargetError{Target: target.String(), Message: "unknown task"}
		}
		return []*types.Task{task}, nil

	case types.ScopeTag:
		var out []*types.Task
		for _, p := range b.projects.All() {
			if !p.HasTag(target.Tag) {
				continue
			}
			if task, ok := p.Tasks[target.Task]; ok && !task.Options.Internal {
				out = append(out, task)
			}
		}
		return out, nil

	default:
		return nil, &errorsx.TargetError{Target: target.String(), Message: "unknown scope"}
	}
}

// addRunTask inserts the RunTask(task) node and its required Setup/Sync/
// Install predecessors, then recursively resolves task.Deps. visiting
// guards against re-entering a node already on the current DFS stack;
// the cycle itself is reported by Graph.Batches (or Graph.Validate). This
// guard only prevents infinite recursion during insertion.
func (b *Builder) addRunTask(task *types.Task, visiting map[types.ActionKey]bool) error {
	target := task.Target
	runKey := types.NewRunTaskAction(target, task.Toolchain).ActionKey
	if _, exists := b.graph.actions[runKey]; exists {
		return nil
	}
	if visiting[runKey] {
		return nil // cycle; reported by Graph.Batches
	}
	visiting[runKey] = true
	defer delete(visiting, runKey)

	run := types.NewRunTaskAction(target, task.Toolchain)
	runID := b.ensure(run)

	setup := types.NewSetupToolchainAction(task.Toolchain)
	setupID := b.ensure(setup)
	b.connect(runID, setupID)

	sync := types.NewSyncProjectAction(target.Project)
	syncID := b.ensure(sync)
	b.connect(runID, syncID)

	if b.hasManifest != nil && b.hasManifest(task.Toolchain) {
		install := types.NewInstallDepsAction(task.Toolchain, b.workspaceRoot)
		installID := b.ensure(install)
		b.connect(runID, installID)
		b.connect(installID, setupID)
	}

	project, _ := b.projects.Get(target.Project)
	for _, dep := range task.Deps {
		depTasks, err := b.resolveLocator(dep, project)
		if err != nil {
			return err
		}
		for _, depTask := range depTasks {
			if err := b.addRunTask(depTask, visiting); err != nil {
				return err
			}
			depRun := types.NewRunTaskAction(depTask.Target, depTask.Toolchain)
			depID := b.ensure(depRun)
			b.connect(runID, depID)
		}
	}

	return nil
}

// finalize connects every action with no outgoing edge to the root
// sentinel, so the graph has a single connected traversal root.
func (b *Builder) finalize() error {
	for key := range b.graph.actions {
		if len(b.graph.g.DownEdges(key.String())) == 0 {
			b.graph.g.Add(rootNodeName)
			b.graph.g.Connect(dag.BasicEdge(key.String(), rootNodeName))
		}
	}
	return nil
}

// Graph returns the built action graph. Call after AddTargets.
func (b *Builder) Graph() *Graph { return b.graph }

// Action looks up a node by key.
func (g *Graph) Action(key types.ActionKey) (types.Action, bool) {
	a, ok := g.actions[key]
	return a, ok
}

// Actions returns every action in the graph, sorted by key for
// deterministic iteration.
func (g *Graph) Actions() []types.Action {
	keys := make([]string, 0, len(g.actions))
	byKey := map[string]types.Action{}
	for k, a := range g.actions {
		keys = append(keys, k.String())
		byKey[k.String()] = a
	}
	sort.Strings(keys)
	out := make([]types.Action, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// Dependencies returns the direct predecessors (things this action
// depends on) of key, sorted.
func (g *Graph) Dependencies(key types.ActionKey) []types.ActionKey {
	var out []types.ActionKey
	for down := range g.g.DownEdges(key.String()) {
		name := down.(string)
		if name == rootNodeName {
			continue
		}
		for k := range g.actions {
			if k.String() == name {
				out = append(out, k)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ActionCount returns the number of non-sentinel nodes.
func (g *Graph) ActionCount() int { return len(g.actions) }
