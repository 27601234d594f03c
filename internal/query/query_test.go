package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

func TestParseSimpleCondition(t *testing.T) {
	node, err := Parse("language=js")
	require.NoError(t, err)
	cond, ok := node.(*Condition)
	require.True(t, ok)
	assert.Equal(t, FieldLanguage, cond.Field)
	assert.Equal(t, OpEq, cond.Op)
	assert.Equal(t, []string{"js"}, cond.Values)
}

func TestParseListValue(t *testing.T) {
	node, err := Parse("tag=[web,api]")
	require.NoError(t, err)
	cond := node.(*Condition)
	assert.Equal(t, []string{"web", "api"}, cond.Values)
}

func TestParseAndChain(t *testing.T) {
	node, err := Parse("language=js AND projectType=library")
	require.NoError(t, err)
	logic, ok := node.(*Logic)
	require.True(t, ok)
	assert.Equal(t, LogicalAnd, logic.Op)
	assert.Len(t, logic.Nodes, 2)
}

func TestParseMixedLogicalOperatorsIsAnError(t *testing.T) {
	_, err := Parse("language=js AND projectType=lib OR tag=web")
	require.Error(t, err)
	_, ok := err.(*errorsx.LogicalOperatorMismatch)
	assert.True(t, ok)
}

func TestParseUnsupportedLikeOnEnumFieldInChain(t *testing.T) {
	_, err := Parse("language=js AND projectType~lib")
	require.Error(t, err)
}

func TestParseRejectsLikeOnEnumField(t *testing.T) {
	_, err := Parse("language~j*")
	require.Error(t, err)
}

func TestParseGroupingResetsMixingRule(t *testing.T) {
	node, err := Parse("(language=js AND projectType=library) OR tag=legacy")
	require.NoError(t, err)
	logic := node.(*Logic)
	assert.Equal(t, LogicalOr, logic.Op)
	assert.Len(t, logic.Nodes, 2)
}

func TestMatchEqualityCaseInsensitive(t *testing.T) {
	node, err := Parse("language=JS")
	require.NoError(t, err)
	p := &types.Project{Id: "app", Language: "js"}
	ok, err := Match(node, Record{Project: p})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchGlobOperator(t *testing.T) {
	node, err := Parse("projectSource~apps/*")
	require.NoError(t, err)
	p := &types.Project{Id: "app", Source: "apps/web"}
	ok, err := Match(node, Record{Project: p})
	require.NoError(t, err)
	assert.True(t, ok)

	other := &types.Project{Id: "lib", Source: "libs/shared"}
	ok, err = Match(node, Record{Project: other})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchTagMembership(t *testing.T) {
	node, err := Parse("tag=web")
	require.NoError(t, err)
	p := &types.Project{Id: "app", Tags: []string{"web", "frontend"}}
	ok, err := Match(node, Record{Project: p})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchProjectsFilters(t *testing.T) {
	node, err := Parse("projectType=library")
	require.NoError(t, err)
	projects := []*types.Project{
		{Id: "a", Layer: "library"},
		{Id: "b", Layer: "application"},
	}
	matched, err := MatchProjects(node, projects)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, types.ProjectId("a"), matched[0].Id)
}

func TestHashDiffAddedRemovedChanged(t *testing.T) {
	before := &types.HashManifest{Components: []types.HashComponent{
		{Name: "task-definition", Value: "v1"},
		{Name: "input-files", Value: map[string]string{"a.go": "h1"}},
	}}
	after := &types.HashManifest{Components: []types.HashComponent{
		{Name: "task-definition", Value: "v2"},
		{Name: "platform", Value: "linux"},
	}}

	diff := HashDiff(before, after)
	statuses := map[string]string{}
	for _, entry := range diff {
		statuses[entry.Name] = entry.Status
	}
	assert.Equal(t, "changed", statuses["task-definition"])
	assert.Equal(t, "removed", statuses["input-files"])
	assert.Equal(t, "added", statuses["platform"])
}
