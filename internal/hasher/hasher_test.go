package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/types"
)

func baseInput() CommonInput {
	return CommonInput{
		TaskDefinition: TaskDefinition{Command: "build", Args: []string{"--release"}},
		InputFileHashes: map[string]string{
			"src/a.ts": "hash-a",
			"src/b.ts": "hash-b",
		},
	}
}

func TestHashTaskIsDeterministic(t *testing.T) {
	h := New()
	hash1, _, err := h.HashTask(baseInput(), nil)
	require.NoError(t, err)
	hash2, _, err := h.HashTask(baseInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
	assert.True(t, hash1.Valid())
}

func TestHashTaskMapOrderDoesNotMatter(t *testing.T) {
	h := New()
	a := baseInput()
	b := CommonInput{
		TaskDefinition: TaskDefinition{Command: "build", Args: []string{"--release"}},
		InputFileHashes: map[string]string{
			"src/b.ts": "hash-b",
			"src/a.ts": "hash-a",
		},
	}
	hashA, _, err := h.HashTask(a, nil)
	require.NoError(t, err)
	hashB, _, err := h.HashTask(b, nil)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

func TestLocalChangesOverrideCleanSnapshot(t *testing.T) {
	h := New()
	withoutOverlay := baseInput()
	hashWithout, _, err := h.HashTask(withoutOverlay, nil)
	require.NoError(t, err)

	withOverlay := baseInput()
	withOverlay.LocalChangesOverlay = map[string]string{"src/a.ts": "hash-a-modified"}
	hashWith, _, err := h.HashTask(withOverlay, nil)
	require.NoError(t, err)

	assert.NotEqual(t, hashWithout, hashWith)
}

func TestArgsAreOrderSignificant(t *testing.T) {
	h := New()
	a := baseInput()
	a.TaskDefinition.Args = []string{"--release", "--verbose"}
	b := baseInput()
	b.TaskDefinition.Args = []string{"--verbose", "--release"}

	hashA, _, _ := h.HashTask(a, nil)
	hashB, _, _ := h.HashTask(b, nil)
	assert.NotEqual(t, hashA, hashB)
}

func TestPlatformBytesAffectHash(t *testing.T) {
	h := New()
	without, _, _ := h.HashTask(baseInput(), nil)
	with, _, _ := h.HashTask(baseInput(), []byte("node-18.0.0"))
	assert.NotEqual(t, without, with)
}

func TestNewTaskDefinitionSortsDepsAndEnvKeys(t *testing.T) {
	task := &types.Task{
		Deps: []types.Target{
			types.NewProjectTarget("b", "build"),
			types.NewProjectTarget("a", "build"),
		},
		Env: []types.EnvPair{{Key: "ZETA", Value: "1"}, {Key: "ALPHA", Value: "2"}},
	}
	def := NewTaskDefinition(task)
	assert.Equal(t, []string{"a:build", "b:build"}, def.Deps)
	assert.Equal(t, []string{"ALPHA", "ZETA"}, def.EnvKeys)
}
