package actiongraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/projectgraph"
	"github.com/stratum-build/stratum/internal/types"
)

func mkTask(project types.ProjectId, id types.TaskId, deps ...types.Target) *types.Task {
	return &types.Task{
		Id:      id,
		Target:  types.NewProjectTarget(project, id),
		Command: "echo hi",
		Deps:    deps,
		Toolchain: "system",
	}
}

func twoProjectGraph() *projectgraph.Graph {
	g := projectgraph.New()
	app := &types.Project{Id: "app", Source: "apps/app", Root: "/repo/apps/app", Tasks: map[types.TaskId]*types.Task{}}
	lib := &types.Project{Id: "lib", Source: "libs/lib", Root: "/repo/libs/lib", Tasks: map[types.TaskId]*types.Task{}}
	app.Tasks["build"] = mkTask("app", "build", types.NewProjectTarget("lib", "build"))
	lib.Tasks["build"] = mkTask("lib", "build")
	_ = g.AddProject(lib)
	_ = g.AddProject(app)
	_ = g.AddDependency("app", "lib", types.DependencyProduction, types.DependencyExplicit)
	return g
}

func TestAddTargetsBuildsSetupSyncEdges(t *testing.T) {
	g := twoProjectGraph()
	b := NewBuilder(g, "/repo", func(runtime string) bool { return false })
	require.NoError(t, b.AddTargets([]string{"app:build"}))

	graph := b.Graph()
	run := types.NewRunTaskAction(types.NewProjectTarget("app", "build"), "system")
	_, ok := graph.Action(run.ActionKey)
	require.True(t, ok)

	deps := graph.Dependencies(run.ActionKey)
	assert.Len(t, deps, 3) // setup, sync, dep run-task
}

func TestBatchesOrderSetupBeforeRun(t *testing.T) {
	g := twoProjectGraph()
	b := NewBuilder(g, "/repo", func(runtime string) bool { return false })
	require.NoError(t, b.AddTargets([]string{"app:build"}))

	batches, err := b.Graph().Batches()
	require.NoError(t, err)
	require.NotEmpty(t, batches)

	position := map[string]int{}
	for i, batch := range batches {
		for _, k := range batch {
			position[k.String()] = i
		}
	}
	libRun := types.NewRunTaskAction(types.NewProjectTarget("lib", "build"), "system").ActionKey.String()
	appRun := types.NewRunTaskAction(types.NewProjectTarget("app", "build"), "system").ActionKey.String()
	assert.Less(t, position[libRun], position[appRun])
}

func TestWildcardTargetSkipsInternalTasks(t *testing.T) {
	g := projectgraph.New()
	p := &types.Project{Id: "p", Source: "p", Root: "/repo/p", Tasks: map[types.TaskId]*types.Task{}}
	visible := mkTask("p", "build")
	internal := mkTask("p", "_internal")
	internal.Options.Internal = true
	p.Tasks["build"] = visible
	p.Tasks["_internal"] = internal
	require.NoError(t, g.AddProject(p))

	b := NewBuilder(g, "/repo", func(string) bool { return false })
	require.NoError(t, b.AddTargets([]string{":build"}))
	_, ok := b.Graph().Action(types.NewRunTaskAction(types.NewProjectTarget("p", "build"), "system").ActionKey)
	assert.True(t, ok)

	b2 := NewBuilder(g, "/repo", func(string) bool { return false })
	require.NoError(t, b2.AddTargets([]string{":_internal"}))
	assert.Equal(t, 0, b2.Graph().ActionCount())
}

func TestUnknownProjectIsTargetError(t *testing.T) {
	g := projectgraph.New()
	b := NewBuilder(g, "/repo", func(string) bool { return false })
	err := b.AddTargets([]string{"ghost:build"})
	require.Error(t, err)
}
