// Package plugin implements the toolchain/platform plugin trait of
// spec.md §6.2. Grounded in the teacher's internal/packagemanager
// (PackageManager as a struct of function fields implementing
// detect/Matches/GetWorkspaces). Unlike that struct of function fields,
// Plugin here is a Go interface, implemented by NodePlugin and
// ShellPlugin and looked up by name through a Registry.
package plugin

import (
	"context"

	"github.com/stratum-build/stratum/internal/types"
)

// Command is a spawnable command returned by CreateRunCommand: the
// executable, its arguments, working directory and environment.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Operations is the result of InstallDeps: the commands that were run (or
// would be run), for logging/dry-run purposes.
type Operations struct {
	Commands []string
}

// Plugin is the core's view of a toolchain/platform, invoked through this
// trait; spec.md §6.2 explicitly rules out dynamic loading, so Plugin
// values are registered in-process (see Registry).
type Plugin interface {
	// Name is the toolchain identifier tasks reference via Task.Toolchain.
	Name() string

	// Setup installs the toolchain at the given version. Idempotent.
	Setup(ctx context.Context, version string) error

	// InstallDeps runs the toolchain's dependency installer rooted at
	// workspaceRoot.
	InstallDeps(ctx context.Context, workspaceRoot string) (Operations, error)

	// SyncProject writes back any generated config (e.g. tsconfig
	// references, Cargo.toml workspace members) for project given its
	// resolved dependencies, returning whether any file changed.
	SyncProject(ctx context.Context, project *types.Project, deps []types.ProjectId) (bool, error)

	// HashManifest contributes opaque bytes to the platform hasher layer
	// (spec.md §4.5): e.g. a resolved language version plus lockfile
	// digest. The hasher treats this as a black box (spec.md §9).
	HashManifest(ctx context.Context, project *types.Project, manifestPath string) ([]byte, error)

	// CreateRunCommand returns the spawnable command for running task in
	// the given working directory, with env already merged.
	CreateRunCommand(ctx context.Context, task *types.Task, workingDir string, env []string) (Command, error)

	// ImplicitDependencies inspects project for dependencies on sibling
	// projects that the user did not explicitly declare (spec.md §4.3):
	// e.g. Cargo.toml path deps, package.json workspace deps.
	ImplicitDependencies(ctx context.Context, project *types.Project) ([]types.DependencyConfig, error)
}

// Registry looks up a Plugin by the toolchain name tasks declare.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{plugins: map[string]Plugin{}} }

// Register adds p under its own Name().
func (r *Registry) Register(p Plugin) { r.plugins[p.Name()] = p }

// Get returns the plugin registered for name.
func (r *Registry) Get(name string) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}
