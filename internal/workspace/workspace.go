// Package workspace ties together the Project Graph, Config &
// Inheritance Resolver, VCS handle, and Cache root into the single
// Workspace entity spec.md §3.3 describes: "the Workspace exclusively
// owns the Project Graph, VCS handle, and Cache root; they live for the
// duration of a single invocation." Grounded in the teacher's
// internal/context (the struct that loads turbo.json + package.json
// workspaces into one in-memory graph at the start of a run).
package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	stratumfs "github.com/stratum-build/stratum/internal/fs"

	"github.com/stratum-build/stratum/internal/config"
	"github.com/stratum-build/stratum/internal/doublestar"
	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/projectgraph"
	"github.com/stratum-build/stratum/internal/types"
	"github.com/stratum-build/stratum/internal/vcs"
)

// WorkspaceConfigDir, WorkspaceConfigFile, CacheDirName, and
// ProjectConfigFile name this module's on-disk layout (spec.md §6.1,
// adapted to the `.stratum/` root this project's own config uses
// instead of the spec's `.moon/`).
const (
	WorkspaceConfigDir  = ".stratum"
	WorkspaceConfigFile = "workspace.yml"
	CacheDirName        = "cache"
	ProjectConfigFile   = "stratum.yml"
)

// Workspace is the loaded, ready-to-query root of one invocation: every
// project, the resolved inheritance chain, the VCS handle, and the
// cache root directory.
type Workspace struct {
	Root     string
	CacheDir string
	Projects *projectgraph.Graph
	VCS      vcs.VCS
	Resolver *config.Resolver
	File     *config.WorkspaceFile
}

// Load discovers every project under root (per workspace.yml's explicit
// `sources` map and `globs` patterns), resolves each project's inherited
// task configuration, and returns a ready Workspace. A missing
// .stratum/workspace.yml is itself a ConfigError: spec.md's Workspace
// entity cannot exist without at least an empty declaration.
func Load(root string) (*Workspace, error) {
	fsys := afero.NewOsFs()
	configPath := stratumfs.UnsafeToAbsolutePath(filepath.Join(root, WorkspaceConfigDir, WorkspaceConfigFile))

	wf, err := config.LoadWorkspaceFile(fsys, configPath)
	if err != nil {
		return nil, &errorsx.ConfigError{Path: configPath.ToString(), Message: err.Error()}
	}

	cacheDir := wf.Cache.Dir
	if cacheDir == "" {
		cacheDir = filepath.Join(root, WorkspaceConfigDir, CacheDirName)
	} else if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(root, cacheDir)
	}

	ws := &Workspace{
		Root:     root,
		CacheDir: cacheDir,
		Projects: projectgraph.New(),
		VCS:      vcs.New(root),
		Resolver: config.NewResolver(wf.ToWorkspaceInheritance()),
		File:     wf,
	}

	sources, err := discoverSources(root, wf)
	if err != nil {
		return nil, err
	}

	type loaded struct {
		id   types.ProjectId
		pf   *config.ProjectFile
		root string
	}
	var all []loaded
	for id, source := range sources {
		projectRoot := filepath.Join(root, source)
		pf, err := config.LoadProjectFile(fsys, stratumfs.UnsafeToAbsolutePath(filepath.Join(projectRoot, ProjectConfigFile)))
		if err != nil {
			return nil, &errorsx.ConfigError{Path: source, Message: err.Error()}
		}
		all = append(all, loaded{id: types.ProjectId(id), pf: pf, root: projectRoot})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })

	for _, l := range all {
		rel, relErr := filepath.Rel(root, l.root)
		if relErr != nil {
			rel = l.root
		}
		project := &types.Project{
			Id:         l.id,
			Source:     filepath.ToSlash(rel),
			Root:       l.root,
			Language:   l.pf.Language,
			Layer:      l.pf.Layer,
			Stack:      l.pf.Stack,
			Tags:       l.pf.Tags,
			Alias:      l.pf.Alias,
			Metadata:   l.pf.Metadata,
			FileGroups: mergeFileGroups(wf.FileGroups, l.pf.FileGroups),
			Tasks:      map[types.TaskId]*types.Task{},
		}
		if err := ws.Projects.AddProject(project); err != nil {
			return nil, err
		}

		inherited, err := ws.Resolver.Resolve(config.ProjectContext{
			Platform: detectPlatform(l.pf),
			Language: l.pf.Language,
			Layer:    l.pf.Layer,
			Stack:    l.pf.Stack,
			Tags:     l.pf.Tags,
		}, l.pf.Tasks)
		if err != nil {
			return nil, err
		}
		for taskID, tc := range inherited.Tasks {
			project.Tasks[types.TaskId(taskID)] = taskFromConfig(project, types.TaskId(taskID), tc)
		}
	}

	for _, l := range all {
		for _, dep := range l.pf.Dependencies {
			scope := dependencyScope(dep.Scope)
			if err := ws.Projects.AddDependency(l.id, types.ProjectId(dep.Id), scope, types.DependencyExplicit); err != nil {
				return nil, err
			}
		}
	}

	return ws, nil
}

// mergeFileGroups converts the on-disk file-group declarations from both
// the workspace file and a project's own stratum.yml into the Project
// entity's FileGroups map, project entries winning on a name collision;
// this is the map the @files/@dirs/@globs/@group token functions read
// from (internal/token), so a project with no fileGroups: block of its
// own still sees every workspace-wide group.
func mergeFileGroups(workspaceGroups, projectGroups map[string]config.FileGroupFile) map[string]types.FileGroup {
	out := map[string]types.FileGroup{}
	for name, g := range workspaceGroups {
		out[name] = types.FileGroup{Name: name, Files: g.Files, Globs: g.Globs, Env: g.Env}
	}
	for name, g := range projectGroups {
		out[name] = types.FileGroup{Name: name, Files: g.Files, Globs: g.Globs, Env: g.Env}
	}
	return out
}

func detectPlatform(pf *config.ProjectFile) string {
	// The node/system toolchain split is carried on each task, not at
	// project scope, so there is no single "platform" value to surface
	// here yet; left empty until a project names one explicitly via
	// metadata.
	return pf.Metadata["platform"]
}

func dependencyScope(raw string) types.DependencyScope {
	switch strings.ToLower(raw) {
	case "development", "dev":
		return types.DependencyDevelopment
	case "build":
		return types.DependencyBuild
	case "peer":
		return types.DependencyPeer
	default:
		return types.DependencyProduction
	}
}

func taskFromConfig(project *types.Project, id types.TaskId, tc config.TaskConfig) *types.Task {
	deps := make([]types.Target, 0, len(tc.Deps))
	for _, d := range tc.Deps {
		if target, err := types.ParseTarget(d); err == nil {
			deps = append(deps, target)
		}
	}
	env := make([]types.EnvPair, 0, len(tc.Env))
	keys := make([]string, 0, len(tc.Env))
	for k := range tc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, types.EnvPair{Key: k, Value: tc.Env[k]})
	}

	return &types.Task{
		Id:          id,
		Target:      types.NewProjectTarget(project.Id, id),
		Command:     tc.Command,
		Args:        tc.Args,
		Script:      tc.Script,
		Env:         env,
		InputFiles:  tc.Inputs,
		InputGlobs:  tc.InputGlobs,
		OutputFiles: tc.Outputs,
		OutputGlobs: tc.OutputGlobs,
		Deps:        deps,
		Toolchain:   tc.Toolchain,
		Type:        taskType(tc.Type),
		Options: types.TaskOptions{
			Cache:                tc.Cache,
			Persistent:           tc.Persistent,
			RunFromWorkspaceRoot: tc.RunFromWorkspaceRoot,
			RetryCount:           tc.RetryCount,
			Timeout:              tc.Timeout,
			Internal:             tc.Internal,
			InferInputs:          tc.InferInputs,
		},
	}
}

func taskType(raw string) types.TaskType {
	switch raw {
	case "run":
		return types.TaskRun
	case "test":
		return types.TaskTest
	default:
		return types.TaskBuild
	}
}

// discoverSources resolves workspace.yml's explicit `sources` map and
// `globs` patterns into a project-id -> workspace-relative-directory
// map; a directory matched by a glob is assigned the id of its deepest
// path segment, mirroring a package-manager workspace's implicit
// naming (stratum.yml has no `id:` field to override it). An id already
// taken by an explicit source or an earlier match is not reassigned.
func discoverSources(root string, wf *config.WorkspaceFile) (map[string]string, error) {
	out := map[string]string{}
	for id, source := range wf.Sources {
		out[id] = source
	}

	fsys := os.DirFS(root)
	for _, pattern := range wf.Globs {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, &errorsx.ConfigError{Path: pattern, Message: err.Error()}
		}
		for _, match := range matches {
			info, statErr := fs.Stat(fsys, match)
			if statErr != nil || !info.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(root, match, ProjectConfigFile)); err != nil {
				continue
			}
			id := filepath.Base(match)
			if _, exists := out[id]; !exists {
				out[id] = match
			}
		}
	}
	return out, nil
}
