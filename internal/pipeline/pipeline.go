// Package pipeline implements the Pipeline Executor of spec.md §4.7:
// batched topological scheduling over the action graph, bounded
// concurrency, per-task hashing and cache hydration, and fail-fast /
// cancellation propagation. Grounded in the teacher's core.scheduler
// (Walk over a dag.AcyclicGraph with a semaphore-gated callback per
// vertex) generalised from a single task graph to spec.md's
// Setup/Sync/Install/RunTask action kinds, and in runcache.RunCache's
// hash-check-then-execute-then-save shape.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/stratum-build/stratum/internal/actiongraph"
	"github.com/stratum-build/stratum/internal/cacheengine"
	"github.com/stratum-build/stratum/internal/envbag"
	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/events"
	"github.com/stratum-build/stratum/internal/exec"
	"github.com/stratum-build/stratum/internal/hasher"
	"github.com/stratum-build/stratum/internal/plugin"
	"github.com/stratum-build/stratum/internal/projectgraph"
	"github.com/stratum-build/stratum/internal/token"
	"github.com/stratum-build/stratum/internal/types"
	"github.com/stratum-build/stratum/internal/vcs"
)

// Options configures one pipeline run.
type Options struct {
	Concurrency int
	FailFast    bool
}

// Executor runs an action graph to completion, per spec.md §4.7.
type Executor struct {
	graph       *actiongraph.Graph
	projects    *projectgraph.Graph
	plugins     *plugin.Registry
	hasher      *hasher.Hasher
	cache       cacheengine.Cache
	vcs         vcs.VCS
	runner      *exec.Runner
	emitter     *events.Emitter
	workspace   string
	cacheDir    string
	opts        Options

	// ignore and env feed the Token Expander's Context for every RunTask
	// action (internal/token.ExpandTask): the workspace's .stratumignore,
	// if any, and a single environment snapshot taken for the run.
	ignore *gitignore.GitIgnore
	env    *envbag.Bag

	mu          sync.Mutex
	hashes      map[string]types.Hash // RunTask ActionKey.String() -> computed hash
	statuses    map[string]types.ActionStatus
	report      []cacheengine.RunReportEntry
	persistent  []context.CancelFunc
}

// New builds an Executor wired to every collaborating subsystem.
func New(
	graph *actiongraph.Graph,
	projects *projectgraph.Graph,
	plugins *plugin.Registry,
	cache cacheengine.Cache,
	vcsHandle vcs.VCS,
	runner *exec.Runner,
	emitter *events.Emitter,
	workspace, cacheDir string,
	opts Options,
) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	ignore, _ := token.LoadIgnore(workspace)
	return &Executor{
		graph:     graph,
		projects:  projects,
		plugins:   plugins,
		hasher:    hasher.New(),
		cache:     cache,
		vcs:       vcsHandle,
		runner:    runner,
		emitter:   emitter,
		workspace: workspace,
		cacheDir:  cacheDir,
		opts:      opts,
		ignore:    ignore,
		env:       envbag.Snapshot(),
		hashes:    map[string]types.Hash{},
		statuses:  map[string]types.ActionStatus{},
	}
}

// Run executes every batch in order, running the actions of one batch
// concurrently (bounded by Options.Concurrency), and returns the
// assembled RunReport. Non-persistent actions are awaited before the
// next batch starts, matching spec.md §4.4's batch-barrier invariant;
// persistent actions (long-running dev servers) are launched and left
// running, tracked only so Close can stop them.
func (e *Executor) Run(ctx context.Context) (*cacheengine.RunReport, error) {
	runID := uuid.NewString()

	batches, err := e.graph.Batches()
	if err != nil {
		return nil, err
	}

	sem := make(chan struct{}, e.opts.Concurrency)
	aborted := false

	for _, batch := range batches {
		if aborted {
			e.markSkipped(batch)
			continue
		}

		var wg sync.WaitGroup
		batchFailed := make(chan bool, len(batch))

		for _, key := range batch {
			action, ok := e.graph.Action(key)
			if !ok {
				continue
			}
			if e.dependencyFailed(key) {
				e.setStatus(key, types.ActionSkipped)
				batchFailed <- true
				continue
			}

			if action.Kind == types.ActionRunTask {
				task := e.taskFor(action)
				if task != nil && task.Options.Persistent {
					e.runPersistent(action, task)
					continue
				}
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(a types.Action) {
				defer wg.Done()
				defer func() { <-sem }()
				status, err := e.runAction(ctx, a)
				e.setStatus(a.ActionKey, status)
				if err != nil || status == types.ActionFailed {
					batchFailed <- true
				}
			}(action)
		}

		wg.Wait()
		close(batchFailed)
		anyFailed := false
		for f := range batchFailed {
			if f {
				anyFailed = true
			}
		}
		if anyFailed && e.opts.FailFast {
			aborted = true
		}
	}

	report := &cacheengine.RunReport{RunID: runID, GeneratedAt: time.Now(), Tasks: e.report}
	if aborted {
		return report, &errorsx.PipelineAborted{Reason: "fail-fast: a batch contained a failed action"}
	}
	return report, nil
}

// Close stops every persistent action's process.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.persistent {
		cancel()
	}
	e.runner.Close()
}

func (e *Executor) dependencyFailed(key types.ActionKey) bool {
	for _, dep := range e.graph.Dependencies(key) {
		e.mu.Lock()
		status, ok := e.statuses[dep.String()]
		e.mu.Unlock()
		if ok && (status == types.ActionFailed || status == types.ActionSkipped || status == types.ActionAborted) {
			return true
		}
	}
	return false
}

func (e *Executor) setStatus(key types.ActionKey, status types.ActionStatus) {
	e.mu.Lock()
	e.statuses[key.String()] = status
	e.mu.Unlock()
}

func (e *Executor) markSkipped(batch []types.ActionKey) {
	for _, key := range batch {
		e.setStatus(key, types.ActionSkipped)
	}
}

func (e *Executor) taskFor(action types.Action) *types.Task {
	project, ok := e.projects.Get(action.Project)
	if !ok {
		return nil
	}
	return project.Tasks[action.Target.Task]
}

// runPersistent launches a long-running task without blocking the batch;
// per spec.md §4.4, persistent tasks (e.g. a dev server) never reach a
// terminal status within the run and are excluded from downstream
// dependency-completion checks.
func (e *Executor) runPersistent(action types.Action, task *types.Task) {
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.persistent = append(e.persistent, cancel)
	e.mu.Unlock()
	e.setStatus(action.ActionKey, types.ActionRunning)
	go func() {
		project, _ := e.projects.Get(action.Project)
		dir := e.workspace
		if project != nil && !task.Options.RunFromWorkspaceRoot {
			dir = project.Root
		}
		runCmd, err := e.createRunCommand(ctx, task, dir)
		if err != nil {
			e.setStatus(action.ActionKey, types.ActionFailed)
			return
		}
		_, _ = e.runner.Run(exec.Request{
			Target:  action.Target,
			Command: runCmd.Path,
			Args:    runCmd.Args,
			Dir:     runCmd.Dir,
			Env:     runCmd.Env,
		})
	}()
}

