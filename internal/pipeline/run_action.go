package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gobwas/glob"

	"github.com/stratum-build/stratum/internal/cacheengine"
	"github.com/stratum-build/stratum/internal/doublestar"
	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/events"
	"github.com/stratum-build/stratum/internal/exec"
	"github.com/stratum-build/stratum/internal/hasher"
	"github.com/stratum-build/stratum/internal/plugin"
	"github.com/stratum-build/stratum/internal/token"
	"github.com/stratum-build/stratum/internal/types"
)

// runAction dispatches one action node through Setup/InstallDeps/
// SyncProject/RunTask handling, emitting the ActionStarted/ActionFinished
// envelope spec.md §4.7 requires around every action regardless of kind.
func (e *Executor) runAction(ctx context.Context, action types.Action) (types.ActionStatus, error) {
	_, _ = e.emitter.Emit(ctx, events.Event{Name: events.ActionStarted, Data: events.ActionStartedData{ActionKey: action.ActionKey.String()}})
	status, err := e.dispatch(ctx, action)
	_, _ = e.emitter.Emit(ctx, events.Event{Name: events.ActionFinished, Data: events.ActionStartedData{ActionKey: action.ActionKey.String()}})
	return status, err
}

func (e *Executor) dispatch(ctx context.Context, action types.Action) (types.ActionStatus, error) {
	switch action.Kind {
	case types.ActionSetupToolchain:
		p, ok := e.plugins.Get(action.Runtime)
		if !ok {
			return types.ActionSkipped, nil
		}
		if err := p.Setup(ctx, ""); err != nil {
			return types.ActionFailed, err
		}
		return types.ActionPassed, nil

	case types.ActionInstallDeps:
		p, ok := e.plugins.Get(action.Runtime)
		if !ok {
			return types.ActionSkipped, nil
		}
		if _, err := p.InstallDeps(ctx, e.workspace); err != nil {
			return types.ActionFailed, err
		}
		return types.ActionPassed, nil

	case types.ActionSyncProject:
		project, ok := e.projects.Get(action.Project)
		if !ok {
			return types.ActionFailed, &errorsx.TargetError{Target: string(action.Project), Message: "unknown project"}
		}
		toolchain := projectToolchain(project)
		p, ok := e.plugins.Get(toolchain)
		if !ok {
			return types.ActionSkipped, nil
		}
		if _, err := p.SyncProject(ctx, project, e.projects.DependenciesOf(project.Id)); err != nil {
			return types.ActionFailed, err
		}
		return types.ActionPassed, nil

	case types.ActionRunTask:
		return e.runTask(ctx, action)
	}
	return types.ActionSkipped, nil
}

// projectToolchain picks a representative toolchain for a project's
// Setup/Sync actions: the declared toolchain of whichever task map
// iteration reaches first (so not a fixed task when tasks declare
// different toolchains), or "system" when no task declares one.
func projectToolchain(project *types.Project) string {
	for _, task := range project.Tasks {
		if task.Toolchain != "" {
			return task.Toolchain
		}
	}
	return "system"
}

// runTask executes the hash-check -> hydrate-or-run -> archive sequence
// of spec.md §4.6/§4.7 for one RunTask action.
func (e *Executor) runTask(ctx context.Context, action types.Action) (types.ActionStatus, error) {
	project, ok := e.projects.Get(action.Project)
	if !ok {
		return types.ActionFailed, &errorsx.TargetError{Target: action.Target.String(), Message: "unknown project"}
	}
	task := project.Tasks[action.Target.Task]
	if task == nil {
		return types.ActionFailed, &errorsx.TargetError{Target: action.Target.String(), Message: "unknown task"}
	}

	_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetRunning, Data: action.Target.String()})

	anchor := project.Root
	if task.Options.RunFromWorkspaceRoot {
		anchor = e.workspace
	}

	task, err := e.expandTask(project, task, anchor)
	if err != nil {
		return types.ActionFailed, err
	}

	hash, manifest, err := e.hashTask(project, task)
	if err != nil {
		return types.ActionFailed, err
	}

	flow, err := e.emitter.Emit(ctx, events.Event{Name: events.TargetOutputCacheCheck, Data: events.TargetOutputCacheCheckData{Target: action.Target.String(), Hash: string(hash)}})
	if err != nil {
		return types.ActionFailed, err
	}
	// Break tells the cache check to be skipped outright (force a fresh
	// run); Continue or Return("local-cache"/"remote-cache") both proceed
	// to the fetch attempt below, which asks the single Cache this executor
	// was given; the returned value does not select a tier.
	skipCacheLookup := flow.Kind == events.Break

	if e.cache != nil && !taskCacheDisabled(task) && !skipCacheLookup {
		if state, serr := cacheengine.ReadRunState(e.cacheDir, action.Target.String()); serr == nil && state.Hash == hash && outputsPresent(anchor, task.OutputFiles) {
			// Same hash as the last run recorded in this cache root and
			// its outputs are still sitting on disk: spec.md §8 Scenario 1
			// requires skipping extraction entirely, not just the hash
			// recompute.
			_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetOutputHydrated, Data: action.Target.String()})
			_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetCached, Data: action.Target.String()})
			e.recordReport(action.Target, hash, types.ActionCached, 0)
			return types.ActionCached, nil
		}

		_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetOutputHydrating, Data: action.Target.String()})
		if hit, duration, ferr := e.cache.Fetch(ctx, anchor, hash, task.OutputFiles); ferr == nil && hit {
			_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetOutputHydrated, Data: action.Target.String()})
			_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetCached, Data: action.Target.String()})
			e.recordReport(action.Target, hash, types.ActionCached, duration)
			_ = cacheengine.WriteRunState(e.cacheDir, action.Target.String(), types.TaskRunState{Hash: hash, ExitCode: 0, LastRunMs: time.Now().UnixMilli()})
			return types.ActionCached, nil
		}
	}

	runCmd, err := e.createRunCommand(ctx, task, anchor)
	if err != nil {
		return types.ActionFailed, err
	}

	stdoutPath := filepath.Join(e.cacheDir, "logs", string(hash)+".stdout.log")
	stderrPath := filepath.Join(e.cacheDir, "logs", string(hash)+".stderr.log")

	start := time.Now()
	req := exec.Request{
		Target:        action.Target,
		Command:       runCmd.Path,
		Args:          runCmd.Args,
		Dir:           runCmd.Dir,
		Env:           runCmd.Env,
		StdoutPath:    stdoutPath,
		StderrPath:    stderrPath,
		CacheDir:      e.cacheDir,
		ProjectRoot:   project.Root,
		ProjectSource: project.Source,
		WorkspaceRoot: e.workspace,
		WorkingDir:    anchor,
	}
	// a failing command is re-run up to RetryCount more times; the last
	// attempt's result stands
	result, runErr := e.runner.Run(req)
	for attempt := 1; attempt <= task.Options.RetryCount && runErr != nil && ctx.Err() == nil; attempt++ {
		result, runErr = e.runner.Run(req)
	}
	duration := int(time.Since(start).Milliseconds())

	if runErr != nil {
		_ = cacheengine.WriteRunState(e.cacheDir, action.Target.String(), types.TaskRunState{
			Hash: hash, ExitCode: result.ExitCode, LastRunMs: time.Now().UnixMilli(),
			StdoutPath: stdoutPath, StderrPath: stderrPath,
		})
		e.recordReport(action.Target, hash, types.ActionFailed, duration)
		return types.ActionFailed, runErr
	}

	outputs, err := resolveOutputs(anchor, task)
	if err != nil {
		return types.ActionFailed, err
	}

	if e.cache != nil && !taskCacheDisabled(task) {
		_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetOutputArchiving, Data: action.Target.String()})
		// a failed archive write leaves a cache miss for the next run; it
		// does not fail the task
		if perr := e.cache.Put(ctx, anchor, hash, duration, outputs); perr == nil {
			_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetOutputArchived, Data: action.Target.String()})
		}
	}
	_ = cacheengine.WriteHashManifest(e.cacheDir, manifest)
	_ = cacheengine.WriteRunState(e.cacheDir, action.Target.String(), types.TaskRunState{
		Hash: hash, ExitCode: result.ExitCode, LastRunMs: time.Now().UnixMilli(),
		StdoutPath: stdoutPath, StderrPath: stderrPath,
	})

	_, _ = e.emitter.Emit(ctx, events.Event{Name: events.TargetRan, Data: action.Target.String()})
	e.recordReport(action.Target, hash, types.ActionPassed, duration)
	return types.ActionPassed, nil
}

// expandTask resolves task's Command/Script/Args/Env/Inputs/Outputs
// token strings (internal/token) against the project and executor
// context, per spec.md §4.2. anchor is the task's working directory
// (project root, or workspace root for a RunFromWorkspaceRoot task).
func (e *Executor) expandTask(project *types.Project, task *types.Task, anchor string) (*types.Task, error) {
	var vcsInfo token.VcsInfo
	if e.vcs != nil && e.vcs.Enabled() {
		if branch, err := e.vcs.GetLocalBranch(); err == nil {
			vcsInfo.Branch = branch
		}
	}
	tctx := &token.Context{
		WorkspaceRoot:        e.workspace,
		WorkingDir:           anchor,
		Project:              project,
		Task:                 task,
		Inputs:               task.InputFiles,
		Outputs:              task.OutputFiles,
		Vcs:                  vcsInfo,
		OS:                   runtime.GOOS,
		Arch:                 runtime.GOARCH,
		Now:                  time.Now(),
		Env:                  e.env,
		Ignore:               e.ignore,
		RunFromWorkspaceRoot: task.Options.RunFromWorkspaceRoot,
		InferInputs:          task.Options.InferInputs,
	}
	return token.ExpandTask(tctx, task)
}

// outputsPresent reports whether every one of task's declared output
// paths already exists under anchor, the condition spec.md §8 Scenario 1
// requires before skipping cache-archive extraction on an unchanged hash.
func outputsPresent(anchor string, outputFiles []string) bool {
	if len(outputFiles) == 0 {
		return false
	}
	for _, rel := range outputFiles {
		if _, err := os.Stat(filepath.Join(anchor, rel)); err != nil {
			return false
		}
	}
	return true
}

// resolveOutputs expands task.OutputGlobs against anchor and merges the
// matches into task.OutputFiles, so a glob-declared output (spec.md's
// DATA MODEL) is actually archived by the Cache Engine instead of being
// silently dropped.
func resolveOutputs(anchor string, task *types.Task) ([]string, error) {
	out := append([]string(nil), task.OutputFiles...)
	if len(task.OutputGlobs) == 0 {
		return out, nil
	}
	seen := map[string]bool{}
	for _, p := range out {
		seen[p] = true
	}
	fsys := os.DirFS(anchor)
	for _, pattern := range task.OutputGlobs {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, &errorsx.CacheError{Op: "output-glob", Message: err.Error()}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// createRunCommand translates a task definition into a literal executable
// invocation via the owning toolchain's plugin, e.g. ShellPlugin wraps
// task.Command in "/bin/sh -c ..." since it is a shell-syntax string, not
// an executable path.
func (e *Executor) createRunCommand(ctx context.Context, task *types.Task, anchor string) (plugin.Command, error) {
	p, ok := e.plugins.Get(task.Toolchain)
	if !ok {
		return plugin.Command{}, &errorsx.TargetError{Target: task.Target.String(), Message: "unknown toolchain: " + task.Toolchain}
	}
	cmd, err := p.CreateRunCommand(ctx, task, anchor, taskEnvironment(task))
	if err != nil {
		return plugin.Command{}, err
	}
	return cmd, nil
}

func taskCacheDisabled(task *types.Task) bool {
	return task.Options.Cache != nil && !*task.Options.Cache
}

func taskEnvironment(task *types.Task) []string {
	env := make([]string, 0, len(task.Env))
	for _, kv := range task.Env {
		env = append(env, kv.Key+"="+kv.Value)
	}
	return env
}

// hashTask assembles the Hasher's CommonInput: dependency hashes already
// computed earlier in this run, plus the VCS-provided clean-tree file
// hashes overlaid with touched-file hashes, per spec.md §4.5.
func (e *Executor) hashTask(project *types.Project, task *types.Task) (types.Hash, *types.HashManifest, error) {
	depHashes := map[string]types.Hash{}
	e.mu.Lock()
	for _, dep := range task.Deps {
		if h, ok := e.hashes[types.NewRunTaskAction(dep, "").ActionKey.String()]; ok {
			depHashes[dep.String()] = h
		}
	}
	e.mu.Unlock()

	inputFileHashes := map[string]string{}
	localChanges := map[string]string{}
	if e.vcs != nil && e.vcs.Enabled() {
		tree, err := e.vcs.GetFileTree(relativeToWorkspace(e.workspace, project.Root))
		if err == nil {
			inputFileHashes = filterToInputs(tree, task)
		}
		touched, err := e.vcs.GetTouchedFiles()
		if err == nil {
			paths := make([]string, 0, len(touched.All()))
			for p := range touched.All() {
				paths = append(paths, p)
			}
			if len(paths) > 0 {
				if h, err := e.vcs.GetFileHashes(paths, true); err == nil {
					localChanges = h
				}
			}
		}
	}

	input := hasher.CommonInput{
		TaskDefinition:      hasher.NewTaskDefinition(task),
		DependencyHashes:    depHashes,
		InputFileHashes:     inputFileHashes,
		LocalChangesOverlay: localChanges,
	}

	var platformBytes []byte
	hash, manifest, err := e.hasher.HashTask(input, platformBytes)
	if err != nil {
		return "", nil, err
	}

	e.mu.Lock()
	e.hashes[types.NewRunTaskAction(task.Target, task.Toolchain).ActionKey.String()] = hash
	e.mu.Unlock()

	return hash, manifest, nil
}

// filterToInputs narrows tree (a project's whole clean-tree file-hash
// map) down to the entries task actually declares as inputs, per spec.md
// §4.5's per-task input model: hashing the entire project tree for every
// task over-invalidates every other task in that project whenever an
// unrelated file changes. A task declaring neither InputFiles nor
// InputGlobs falls back to the whole tree, since "no inputs declared"
// means every project file is an input by default.
func filterToInputs(tree map[string]string, task *types.Task) map[string]string {
	if len(task.InputFiles) == 0 && len(task.InputGlobs) == 0 {
		return tree
	}

	literal := make(map[string]bool, len(task.InputFiles))
	for _, f := range task.InputFiles {
		literal[filepath.ToSlash(f)] = true
	}

	globs := make([]glob.Glob, 0, len(task.InputGlobs))
	for _, pattern := range task.InputGlobs {
		if g, err := glob.Compile(pattern, '/'); err == nil {
			globs = append(globs, g)
		}
	}

	out := map[string]string{}
	for path, hash := range tree {
		p := filepath.ToSlash(path)
		if literal[p] {
			out[path] = hash
			continue
		}
		for _, g := range globs {
			if g.Match(p) {
				out[path] = hash
				break
			}
		}
	}
	return out
}

func relativeToWorkspace(workspace, projectRoot string) string {
	rel, err := filepath.Rel(workspace, projectRoot)
	if err != nil {
		return "."
	}
	return rel
}

func (e *Executor) recordReport(target types.Target, hash types.Hash, status types.ActionStatus, duration int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report = append(e.report, cacheengine.RunReportEntry{
		Target:   target.String(),
		Hash:     hash,
		Status:   status,
		Duration: duration,
	})
}
