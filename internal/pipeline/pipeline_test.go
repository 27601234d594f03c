package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/actiongraph"
	"github.com/stratum-build/stratum/internal/cacheengine"
	"github.com/stratum-build/stratum/internal/events"
	"github.com/stratum-build/stratum/internal/exec"
	"github.com/stratum-build/stratum/internal/plugin"
	"github.com/stratum-build/stratum/internal/projectgraph"
	"github.com/stratum-build/stratum/internal/types"
	"github.com/stratum-build/stratum/internal/vcs"
)

func mkTask(project types.ProjectId, id types.TaskId, deps ...types.Target) *types.Task {
	return &types.Task{
		Id:        id,
		Target:    types.NewProjectTarget(project, id),
		Command:   "echo hi",
		Deps:      deps,
		Toolchain: "system",
	}
}

func twoProjectGraph(t *testing.T, workspaceRoot string) *projectgraph.Graph {
	t.Helper()
	g := projectgraph.New()
	libRoot := filepath.Join(workspaceRoot, "libs", "lib")
	appRoot := filepath.Join(workspaceRoot, "apps", "app")
	require.NoError(t, os.MkdirAll(libRoot, 0o755))
	require.NoError(t, os.MkdirAll(appRoot, 0o755))

	lib := &types.Project{Id: "lib", Source: "libs/lib", Root: libRoot, Tasks: map[types.TaskId]*types.Task{}}
	app := &types.Project{Id: "app", Source: "apps/app", Root: appRoot, Tasks: map[types.TaskId]*types.Task{}}
	lib.Tasks["build"] = mkTask("lib", "build")
	app.Tasks["build"] = mkTask("app", "build", types.NewProjectTarget("lib", "build"))

	require.NoError(t, g.AddProject(lib))
	require.NoError(t, g.AddProject(app))
	require.NoError(t, g.AddDependency("app", "lib", types.DependencyProduction, types.DependencyExplicit))
	return g
}

func TestExecutorRunsBothTasksAndCaches(t *testing.T) {
	workspaceRoot := t.TempDir()
	projects := twoProjectGraph(t, workspaceRoot)

	builder := actiongraph.NewBuilder(projects, workspaceRoot, func(string) bool { return false })
	require.NoError(t, builder.AddTargets([]string{"app:build"}))

	registry := plugin.NewRegistry()
	registry.Register(plugin.ShellPlugin{})

	cacheDir := t.TempDir()
	cache, err := cacheengine.NewFSCache(cacheDir)
	require.NoError(t, err)

	runner := exec.New(nil)
	defer runner.Close()
	emitter := events.New()

	executor := New(builder.Graph(), projects, registry, cache, vcs.Disabled{}, runner, emitter, workspaceRoot, cacheDir, Options{Concurrency: 2})

	report, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)

	statuses := map[string]types.ActionStatus{}
	for _, entry := range report.Tasks {
		statuses[entry.Target] = entry.Status
	}
	assert.Equal(t, types.ActionPassed, statuses["lib:build"])
	assert.Equal(t, types.ActionPassed, statuses["app:build"])
}

func TestExecutorFailFastSkipsDownstream(t *testing.T) {
	workspaceRoot := t.TempDir()
	projects := twoProjectGraph(t, workspaceRoot)
	projects.All()[0].Tasks["build"].Command = "exit 1" // whichever project sorts first

	for _, p := range projects.All() {
		if p.Id == "lib" {
			p.Tasks["build"].Command = "sh -c 'exit 1'"
		}
	}

	builder := actiongraph.NewBuilder(projects, workspaceRoot, func(string) bool { return false })
	require.NoError(t, builder.AddTargets([]string{"app:build"}))

	registry := plugin.NewRegistry()
	registry.Register(plugin.ShellPlugin{})

	cacheDir := t.TempDir()
	cache, err := cacheengine.NewFSCache(cacheDir)
	require.NoError(t, err)

	runner := exec.New(nil)
	defer runner.Close()
	emitter := events.New()

	executor := New(builder.Graph(), projects, registry, cache, vcs.Disabled{}, runner, emitter, workspaceRoot, cacheDir, Options{Concurrency: 2, FailFast: true})

	_, err = executor.Run(context.Background())
	require.Error(t, err)
}
