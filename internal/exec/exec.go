// Package exec runs one task's command as a subprocess, grounded
// directly on the teacher's internal/process (Manager/Child: SIGINT-then
// -timeout-then-SIGKILL shutdown, ChildExit typed error) and
// internal/logstreamer (line-buffered, prefixed stdout/stderr
// forwarding). It additionally captures output into files for the
// Cache Engine's run-log persistence and injects the environment
// variables spec.md §6.5 specifies for every task invocation.
package exec

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-gatedio"
	"github.com/hashicorp/go-hclog"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/logstreamer"
	"github.com/stratum-build/stratum/internal/process"
	"github.com/stratum-build/stratum/internal/types"
)

// EnvPrefix is the prefix spec.md §6.5 assigns to every variable this
// package injects into a task's process environment.
const EnvPrefix = "STRATUM_"

// Request describes one subprocess invocation.
type Request struct {
	Target      types.Target
	Command     string
	Args        []string
	Dir         string
	Env         []string // full process environment, already resolved by the caller
	StdoutPath  string   // if non-empty, tee combined stdout into this file
	StderrPath  string
	LogPrefix   string

	// CacheDir, ProjectRoot, ProjectSource, ToolchainDir, WorkspaceRoot,
	// and WorkingDir feed the remaining STRATUM_-prefixed variables
	// spec.md §6.5 names; the zero value of each is simply omitted.
	CacheDir      string
	ProjectRoot   string
	ProjectSource string
	ProjectRunfile string
	ToolchainDir  string
	WorkspaceRoot string
	WorkingDir    string
}

// Runner executes task commands under a shared process.Manager so a
// single cancellation can stop every in-flight subprocess, matching the
// teacher's per-run single Manager instance.
type Runner struct {
	manager *process.Manager
}

// New builds a Runner. logger may be nil, in which case a discarding
// hclog.Logger is used.
func New(logger hclog.Logger) *Runner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Runner{manager: process.NewManager(logger.Named("exec"))}
}

// Close stops every in-flight subprocess, per spec.md §4.7's cancellation
// requirement (fail-fast / user interrupt must stop running commands,
// not just skip not-yet-started ones).
func (r *Runner) Close() { r.manager.Close() }

// Result captures what the Cache Engine and Event Emitter need after a
// task command finishes.
type Result struct {
	ExitCode int
}

// Run executes req.Command with req.Args, streaming combined output
// through a prefixed logstreamer and, if configured, into on-disk log
// files for later cache hydration.
func (r *Runner) Run(req Request) (Result, error) {
	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = append(append([]string(nil), req.Env...), taskEnv(req)...)

	stdoutBuf := gatedio.NewByteBuffer()
	stderrBuf := gatedio.NewByteBuffer()

	prefix := req.LogPrefix
	if prefix == "" {
		prefix = req.Target.String()
	}
	streamer := logstreamer.NewLogstreamer(log.New(os.Stdout, "", 0), prefix, false)
	defer streamer.Close()

	cmd.Stdout = io.MultiWriter(stdoutBuf, streamer)
	cmd.Stderr = io.MultiWriter(stderrBuf, streamer)

	err := r.manager.Exec(cmd)

	if req.StdoutPath != "" {
		if werr := writeLog(req.StdoutPath, stdoutBuf); werr != nil {
			return Result{}, werr
		}
	}
	if req.StderrPath != "" {
		if werr := writeLog(req.StderrPath, stderrBuf); werr != nil {
			return Result{}, werr
		}
	}

	if err == nil {
		return Result{ExitCode: 0}, nil
	}
	if exit, ok := err.(*process.ChildExit); ok {
		return Result{ExitCode: exit.ExitCode}, &errorsx.TaskExecutionError{Target: req.Target.String(), ExitCode: exit.ExitCode}
	}
	return Result{}, &errorsx.TaskExecutionError{Target: req.Target.String(), ExitCode: -1}
}

func writeLog(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errorsx.TaskExecutionError{Target: path, ExitCode: -1}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &errorsx.TaskExecutionError{Target: path, ExitCode: -1}
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := io.Copy(w, r); err != nil {
		return &errorsx.TaskExecutionError{Target: path, ExitCode: -1}
	}
	return w.Flush()
}

// taskEnv builds the STRATUM_-prefixed environment variables spec.md
// §6.5 requires every task to observe (renamed from the spec's MOON_
// prefix to this module's own, per the env var prefix chosen for this
// project). Built-in names are write-locked: callers must append these
// last, after any task-declared Env, so they win on duplicate keys.
func taskEnv(req Request) []string {
	env := []string{
		fmt.Sprintf("%sPROJECT_ID=%s", EnvPrefix, req.Target.Project),
		fmt.Sprintf("%sTASK_ID=%s", EnvPrefix, req.Target.Task),
		fmt.Sprintf("%sTARGET=%s", EnvPrefix, req.Target.String()),
	}
	add := func(name, value string) {
		if value != "" {
			env = append(env, fmt.Sprintf("%s%s=%s", EnvPrefix, name, value))
		}
	}
	add("CACHE_DIR", req.CacheDir)
	add("PROJECT_ROOT", req.ProjectRoot)
	add("PROJECT_SOURCE", req.ProjectSource)
	add("PROJECT_RUNFILE", req.ProjectRunfile)
	add("TOOLCHAIN_DIR", req.ToolchainDir)
	add("WORKSPACE_ROOT", req.WorkspaceRoot)
	add("WORKING_DIR", req.WorkingDir)
	return env
}
