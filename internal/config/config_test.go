package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLookupChainPrecedence(t *testing.T) {
	cacheOn := true
	ws := WorkspaceInheritance{Layers: map[string]LayerConfig{
		"*": {Tasks: map[string]TaskConfig{
			"build": {Command: "echo global", Args: []string{"--global"}},
		}},
		"node": {Tasks: map[string]TaskConfig{
			"build": {Command: "echo node", Args: []string{"--node"}},
		}},
		"application": {Tasks: map[string]TaskConfig{
			"build": {Cache: &cacheOn},
		}},
		"node-application": {Tasks: map[string]TaskConfig{
			"build": {Command: "echo node-app"},
		}},
		"tag-frontend": {Tasks: map[string]TaskConfig{
			"build": {Args: []string{"--frontend"}},
		}},
	}}

	r := NewResolver(ws)
	ctx := ProjectContext{Language: "node", Layer: "application", Tags: []string{"frontend"}}
	resolved, err := r.Resolve(ctx, map[string]TaskConfig{
		"build": {Args: []string{"--project"}},
	})
	require.NoError(t, err)

	build := resolved.Tasks["build"]
	assert.Equal(t, "echo node-app", build.Command)
	assert.Equal(t, []string{"--global", "--node", "--frontend", "--project"}, build.Args)
	assert.NotNil(t, build.Cache)
	assert.True(t, *build.Cache)
}

func TestResolveDetectsExtendsCycle(t *testing.T) {
	ws := WorkspaceInheritance{Layers: map[string]LayerConfig{
		"a": {Tasks: map[string]TaskConfig{}, ExtendsFrom: "b"},
		"b": {Tasks: map[string]TaskConfig{}, ExtendsFrom: "a"},
	}}
	r := NewResolver(ws)
	_, err := r.Resolve(ProjectContext{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic extends chain")
}

func TestResolveRejectsInvalidDependencyTarget(t *testing.T) {
	ws := WorkspaceInheritance{Layers: map[string]LayerConfig{}}
	r := NewResolver(ws)
	_, err := r.Resolve(ProjectContext{}, map[string]TaskConfig{
		"build": {Deps: []string{"not-a-target"}},
	})
	require.Error(t, err)
}

func TestMergeStrategies(t *testing.T) {
	ws := WorkspaceInheritance{Layers: map[string]LayerConfig{
		"*": {Tasks: map[string]TaskConfig{
			"lint": {Args: []string{"base"}},
		}},
	}}
	r := NewResolver(ws)

	replaced, err := r.Resolve(ProjectContext{}, map[string]TaskConfig{
		"lint": {Args: []string{"only"}, MergeStrategies: map[string]string{"args": "replace"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, replaced.Tasks["lint"].Args)

	preserved, err := r.Resolve(ProjectContext{}, map[string]TaskConfig{
		"lint": {Args: []string{"ignored"}, MergeStrategies: map[string]string{"args": "preserve"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, preserved.Tasks["lint"].Args)
}
