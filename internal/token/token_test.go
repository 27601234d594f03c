package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/envbag"
	"github.com/stratum-build/stratum/internal/types"
)

func testContext() *Context {
	project := &types.Project{
		Id:     "web",
		Source: "apps/web",
		Root:   "/repo/apps/web",
		Language: "node",
		Layer:  "application",
		FileGroups: map[string]types.FileGroup{
			"sources": {Name: "sources", Files: []string{"apps/web/src/a.ts"}, Globs: []string{"apps/web/src/**/*.ts"}},
			"nofile":  {Name: "nofile"},
		},
		Metadata: map[string]string{"owner": "web-team"},
	}
	task := &types.Task{Id: "build", Target: types.NewProjectTarget("web", "build")}
	return &Context{
		WorkspaceRoot: "/repo",
		WorkingDir:    "/repo",
		Project:       project,
		Task:          task,
		Inputs:        []string{"apps/web/src/a.ts"},
		Outputs:       []string{"apps/web/dist/a.js"},
		OS:            "linux",
		Arch:          "amd64",
		Now:           time.Unix(0, 0).UTC(),
		Env:           envbag.New(nil),
	}
}

func TestExpandVarsFixedPoint(t *testing.T) {
	c := testContext()
	once := c.ExpandVars("$project/$task")
	twice := c.ExpandVars(once)
	assert.Equal(t, "web/build", once)
	assert.Equal(t, once, twice)
}

func TestExpandFilesToken(t *testing.T) {
	c := testContext()
	res, err := c.Expand(ScopeInputs, "@files(sources)")
	require.NoError(t, err)
	assert.True(t, res.IsList)
	assert.Equal(t, []string{"apps/web/src/a.ts"}, res.List)
}

func TestExpandGlobsOnEmptyGroupFails(t *testing.T) {
	c := testContext()
	_, err := c.Expand(ScopeInputs, "@globs(nofile)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnknownFileGroup")
}

func TestExpandInOutIndices(t *testing.T) {
	c := testContext()
	in, err := c.Expand(ScopeArgs, "@in(0)")
	require.NoError(t, err)
	assert.Equal(t, "apps/web/src/a.ts", in.Single)

	_, err = c.Expand(ScopeArgs, "@in(5)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MissingInIndex")

	_, err = c.Expand(ScopeArgs, "@out(5)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MissingOutIndex")
}

func TestExpandRejectsEmbeddedTokenOutsideScript(t *testing.T) {
	c := testContext()
	_, err := c.Expand(ScopeArgs, "prefix-@in(0)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidTokenScope")
}

func TestExpandScriptEmbedsAndQuotes(t *testing.T) {
	c := testContext()
	out, err := c.ExpandScript("build @in(0) --tag $project")
	require.NoError(t, err)
	assert.Equal(t, "build 'apps/web/src/a.ts' --tag web", out)
}

func TestExpandMetaField(t *testing.T) {
	c := testContext()
	res, err := c.Expand(ScopeEnv, "@meta(owner)")
	require.NoError(t, err)
	assert.Equal(t, "web-team", res.Single)

	_, err = c.Expand(ScopeEnv, "@meta(missing)")
	require.Error(t, err)
}

func TestUnknownTokenFunction(t *testing.T) {
	c := testContext()
	_, err := c.Expand(ScopeCommand, "@bogus(x)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnknownToken")
}
