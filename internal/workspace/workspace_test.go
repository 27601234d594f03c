package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/types"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadDiscoversProjectsAndResolvesInheritance(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, ".stratum", "workspace.yml"), `
globs:
  - "apps/*"
  - "libs/*"
layers:
  "*":
    tasks:
      build:
        command: "echo base"
        toolchain: system
`)

	writeFile(t, filepath.Join(root, "libs", "lib", "stratum.yml"), `
language: js
layer: library
`)
	writeFile(t, filepath.Join(root, "apps", "app", "stratum.yml"), `
language: js
layer: application
dependencies:
  - id: lib
    scope: production
`)

	ws, err := Load(root)
	require.NoError(t, err)

	lib, ok := ws.Projects.Get("lib")
	require.True(t, ok)
	assert.Equal(t, "library", lib.Layer)
	assert.Contains(t, lib.Tasks, types.TaskId("build"))

	app, ok := ws.Projects.Get("app")
	require.True(t, ok)
	assert.Contains(t, app.Tasks, types.TaskId("build"))
	assert.Equal(t, "echo base", app.Tasks[types.TaskId("build")].Command)

	deps := ws.Projects.DependenciesOf("app")
	require.Len(t, deps, 1)
	assert.Equal(t, "lib", string(deps[0]))
}
