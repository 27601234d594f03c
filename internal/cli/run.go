package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratum-build/stratum/internal/actiongraph"
	"github.com/stratum-build/stratum/internal/cacheengine"
	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/events"
	"github.com/stratum-build/stratum/internal/exec"
	"github.com/stratum-build/stratum/internal/pipeline"
	"github.com/stratum-build/stratum/internal/plugin"
	"github.com/stratum-build/stratum/internal/types"
	"github.com/stratum-build/stratum/internal/util"
)

// newRunCommand builds the `run` command, the pipeline's sole consumer:
// locators -> actiongraph.Builder -> pipeline.Executor -> RunReport,
// with the exit-code contract of spec.md §6.4 (0 success, 1 user error,
// 2 internal error).
func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <target...>",
		Short: "Run one or more task targets and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(opts, args)
		},
	}
	return cmd
}

func runTargets(opts *rootOptions, locators []string) error {
	ws, err := opts.loadWorkspace()
	if err != nil {
		return exitError{code: 1, err: err}
	}

	plugins := plugin.NewRegistry()
	plugins.Register(&plugin.NodePlugin{PackageManager: "npm"})
	plugins.Register(plugin.ShellPlugin{})

	if err := ws.Projects.ResolveImplicitDependencies(context.Background(), plugins); err != nil {
		return exitError{code: 2, err: err}
	}

	hasManifest := func(runtime string) bool {
		return runtime == "node"
	}

	builder := actiongraph.NewBuilder(ws.Projects, ws.Root, hasManifest)
	if err := builder.AddTargets(locators); err != nil {
		return exitError{code: 1, err: err}
	}

	cache, err := cacheengine.NewFSCache(filepath.Join(ws.CacheDir, "artifacts"))
	if err != nil {
		return err
	}

	runner := exec.New(opts.logger)
	defer runner.Close()

	emitter := events.New()
	emitter.OnFunc(events.TargetRan, func(ctx context.Context, ev events.Event) (events.Flow, error) {
		opts.logger.Debug("target ran", "target", ev.Data)
		return events.ContinueFlow, nil
	})
	emitter.OnFunc(events.TargetCached, func(ctx context.Context, ev events.Event) (events.Flow, error) {
		opts.logger.Debug("target restored from cache", "target", ev.Data)
		return events.ContinueFlow, nil
	})

	executor := pipeline.New(
		builder.Graph(),
		ws.Projects,
		plugins,
		cache,
		ws.VCS,
		runner,
		emitter,
		ws.Root,
		ws.CacheDir,
		pipeline.Options{Concurrency: opts.concurrency, FailFast: opts.failFast},
	)
	defer executor.Close()

	ctx := context.Background()
	report, runErr := executor.Run(ctx)
	if report != nil {
		if err := cacheengine.WriteRunReport(ws.CacheDir, report); err != nil {
			opts.logger.Warn("failed to persist run report", "error", err)
		}
	}

	if opts.jsonOutput && report != nil {
		if err := printJSON(opts, report); err != nil {
			return err
		}
	} else if report != nil {
		printRunSummary(opts, report)
	}

	if runErr != nil {
		if _, aborted := runErr.(*errorsx.PipelineAborted); aborted {
			return exitError{code: 1, err: runErr}
		}
		return exitError{code: 2, err: runErr}
	}
	return nil
}

func printRunSummary(opts *rootOptions, report *cacheengine.RunReport) {
	for _, entry := range report.Tasks {
		project := entry.Target
		if i := strings.IndexAny(project, ":#^~"); i >= 0 {
			project = project[:i]
		}
		prefix := opts.colors.PrefixWithColor(project, project)
		status := util.Sprintf("${%s}%s${RESET}", statusColorMacro(entry.Status), entry.Status)
		opts.ui.Output(fmt.Sprintf("%s%s\t%s\t%dms", prefix, entry.Target, status, entry.Duration))
	}
}

// statusColorMacro maps a terminal action status to one of
// internal/util.Sprintf's pseudo-shell color replacement names.
func statusColorMacro(status types.ActionStatus) string {
	switch status {
	case types.ActionPassed:
		return "GREEN"
	case types.ActionCached, types.ActionCachedFromRemote:
		return "CYAN"
	case types.ActionFailed, types.ActionAborted:
		return "BOLD_RED"
	case types.ActionSkipped:
		return "YELLOW"
	default:
		return "WHITE"
	}
}

// exitError carries the specific process exit code spec.md §6.4
// requires; cmd/stratum's main unwraps it after cobra's Execute returns.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

// ExitCode extracts the process exit code for err, defaulting to 1 for
// any plain error (a user-facing failure cobra already printed) and 0
// for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ec, ok := err.(exitError); ok {
		return ec.code
	}
	return 1
}
