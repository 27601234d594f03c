package plugin

import (
	"context"

	"github.com/stratum-build/stratum/internal/types"
)

// ShellPlugin is the generic toolchain: it requires no language tooling,
// installs nothing, and runs tasks' commands verbatim. It demonstrates
// that the Plugin trait is genuinely pluggable rather than node-specific.
type ShellPlugin struct{}

func (ShellPlugin) Name() string { return "system" }

func (ShellPlugin) Setup(ctx context.Context, version string) error { return nil }

func (ShellPlugin) InstallDeps(ctx context.Context, workspaceRoot string) (Operations, error) {
	return Operations{}, nil
}

func (ShellPlugin) SyncProject(ctx context.Context, project *types.Project, deps []types.ProjectId) (bool, error) {
	return false, nil
}

func (ShellPlugin) HashManifest(ctx context.Context, project *types.Project, manifestPath string) ([]byte, error) {
	return []byte("system"), nil
}

func (ShellPlugin) CreateRunCommand(ctx context.Context, task *types.Task, workingDir string, env []string) (Command, error) {
	return Command{Path: "/bin/sh", Args: []string{"-c", task.Command}, Dir: workingDir, Env: env}, nil
}

func (ShellPlugin) ImplicitDependencies(ctx context.Context, project *types.Project) ([]types.DependencyConfig, error) {
	return nil, nil
}
