package exec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/types"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	r := New(nil)
	defer r.Close()

	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout.log")

	result, err := r.Run(Request{
		Target:     types.NewProjectTarget("app", "build"),
		Command:    "echo",
		Args:       []string{"hello"},
		Dir:        dir,
		Env:        os.Environ(),
		StdoutPath: stdoutPath,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	data, err := os.ReadFile(stdoutPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestRunReportsNonZeroExit(t *testing.T) {
	r := New(nil)
	defer r.Close()

	_, err := r.Run(Request{
		Target:  types.NewProjectTarget("app", "build"),
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		Dir:     t.TempDir(),
		Env:     os.Environ(),
	})
	require.Error(t, err)
}
