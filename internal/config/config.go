// Package config implements the Config & Inheritance Resolver of
// spec.md §4.1: producing a fully-merged InheritedTasksConfig for a
// project from its (platform, language, layer, stack, tags). Grounded in
// the teacher's internal/config (layered precedence: flags, env via
// envconfig, then turbo.json) and internal/fs/turbo_json.go (the
// Pipeline/TurboConfigJSON shape merged into per-project config); the
// deep-merge-by-lookup-key algorithm itself has no teacher analog and is
// new code written in the same plain-struct style.
package config

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/stratum-build/stratum/internal/types"
)

// TaskConfig is the raw, unresolved shape of one task as declared in a
// stratum.yml file (workspace-level layer config or project-level
// override).
type TaskConfig struct {
	Command string
	Args    []string
	Script  string
	Env     map[string]string
	Inputs  []string
	InputGlobs []string
	Outputs []string
	OutputGlobs []string
	Deps    []string

	Cache                *bool
	Persistent           bool
	RunFromWorkspaceRoot bool
	RetryCount           int
	Timeout              int
	Internal             bool
	InferInputs          bool
	Toolchain            string
	Type                 string // "build"|"run"|"test"

	// MergeStrategies overrides the default Append strategy per list
	// field name ("args", "inputs", "outputs", "deps"; "inputs" and
	// "outputs" also govern InputGlobs and OutputGlobs). Env is always
	// merged key by key; no strategy applies to it.
	MergeStrategies map[string]string

	// Extends names another layer key. The Resolver does not read this
	// field: extends chains (and their cycle check) come from
	// LayerConfig.ExtendsFrom.
	Extends string
}

// InheritedTasksConfig is the deep-merged result of resolving the lookup
// chain for one project, keyed by task id.
type InheritedTasksConfig struct {
	Tasks map[string]TaskConfig
}

// LayerConfig is one entry in the workspace's global task-inheritance
// configuration, keyed by one of the lookup-chain key forms described in
// spec.md §4.1 (e.g. "*", "node", "typescript", "application",
// "node-application", "tag-frontend").
type LayerConfig struct {
	Key         string
	Tasks       map[string]TaskConfig
	ExtendsFrom string
}

// WorkspaceInheritance holds every layer a project's lookup chain may
// draw from, plus strict-mode toggle for unknown-field handling.
type WorkspaceInheritance struct {
	Layers map[string]LayerConfig
	Strict bool
}

// ProjectContext is the (platform, language, layer, stack, tags) key used
// to build a project's lookup chain.
type ProjectContext struct {
	Platform string
	Language string
	Layer    string
	Stack    string
	Tags     []string // declaration order preserved
}

// Resolver produces InheritedTasksConfig values for projects.
type Resolver struct {
	workspace WorkspaceInheritance
}

// NewResolver builds a Resolver over the given workspace-level
// inheritance layers.
func NewResolver(ws WorkspaceInheritance) *Resolver {
	return &Resolver{workspace: ws}
}

// lookupChain builds the ordered list of layer keys to consult, per
// spec.md §4.1: later entries in the list OVERRIDE earlier ones.
func (c ProjectContext) lookupChain() []string {
	chain := []string{"*"}
	if c.Platform != "" {
		chain = append(chain, c.Platform)
	}
	if c.Language != "" {
		chain = append(chain, c.Language)
	}
	if c.Layer != "" {
		chain = append(chain, c.Layer)
	}
	if c.Platform != "" && c.Layer != "" {
		chain = append(chain, c.Platform+"-"+c.Layer)
	}
	if c.Language != "" && c.Layer != "" {
		chain = append(chain, c.Language+"-"+c.Layer)
	}
	for _, tag := range c.Tags {
		chain = append(chain, "tag-"+tag)
	}
	return chain
}

// Resolve produces the fully-merged InheritedTasksConfig for a project,
// then merges projectConfig (the project's own stratum.yml) on top, as
// the final, highest-precedence step.
func (r *Resolver) Resolve(ctx ProjectContext, projectConfig map[string]TaskConfig) (*InheritedTasksConfig, error) {
	if err := r.checkExtendsCycles(); err != nil {
		return nil, err
	}

	acc := &InheritedTasksConfig{Tasks: map[string]TaskConfig{}}
	for _, key := range ctx.lookupChain() {
		layer, ok := r.workspace.Layers[key]
		if !ok {
			continue
		}
		for taskID, cfg := range layer.Tasks {
			existing, had := acc.Tasks[taskID]
			if !had {
				acc.Tasks[taskID] = cfg
				continue
			}
			merged, err := mergeTaskConfig(existing, cfg)
			if err != nil {
				return nil, errors.Wrapf(err, "merging layer %q into task %q", key, taskID)
			}
			acc.Tasks[taskID] = merged
		}
	}

	for taskID, cfg := range projectConfig {
		existing, had := acc.Tasks[taskID]
		if !had {
			acc.Tasks[taskID] = cfg
			continue
		}
		merged, err := mergeTaskConfig(existing, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "merging project config into task %q", taskID)
		}
		acc.Tasks[taskID] = merged
	}

	if err := r.validateDeps(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// strategyFor resolves the merge strategy for a list field, defaulting to
// Append per spec.md §4.1.
func strategyFor(cfg TaskConfig, field string) types.MergeStrategy {
	if cfg.MergeStrategies == nil {
		return types.MergeAppend
	}
	switch cfg.MergeStrategies[field] {
	case "prepend":
		return types.MergePrepend
	case "replace":
		return types.MergeReplace
	case "preserve":
		return types.MergePreserve
	default:
		return types.MergeAppend
	}
}

// mergeTaskConfig deep-merges child (higher precedence, e.g. from a more
// specific layer or the project file) over base: scalars replace, list
// fields combine per the active merge strategy, maps merge recursively.
func mergeTaskConfig(base, child TaskConfig) (TaskConfig, error) {
	out := base

	if child.Command != "" {
		out.Command = child.Command
	}
	if child.Script != "" {
		out.Script = child.Script
	}
	if child.Toolchain != "" {
		out.Toolchain = child.Toolchain
	}
	if child.Type != "" {
		out.Type = child.Type
	}
	if child.Cache != nil {
		out.Cache = child.Cache
	}
	out.Persistent = out.Persistent || child.Persistent
	out.RunFromWorkspaceRoot = out.RunFromWorkspaceRoot || child.RunFromWorkspaceRoot
	if child.RetryCount != 0 {
		out.RetryCount = child.RetryCount
	}
	if child.Timeout != 0 {
		out.Timeout = child.Timeout
	}
	out.Internal = out.Internal || child.Internal
	out.InferInputs = out.InferInputs || child.InferInputs

	out.Args = mergeList(out.Args, child.Args, strategyFor(child, "args"))
	out.Inputs = mergeList(out.Inputs, child.Inputs, strategyFor(child, "inputs"))
	out.InputGlobs = mergeList(out.InputGlobs, child.InputGlobs, strategyFor(child, "inputs"))
	out.Outputs = mergeList(out.Outputs, child.Outputs, strategyFor(child, "outputs"))
	out.OutputGlobs = mergeList(out.OutputGlobs, child.OutputGlobs, strategyFor(child, "outputs"))
	out.Deps = mergeList(out.Deps, child.Deps, strategyFor(child, "deps"))

	merged := map[string]string{}
	for k, v := range out.Env {
		merged[k] = v
	}
	for k, v := range child.Env {
		merged[k] = v
	}
	out.Env = merged

	return out, nil
}

func mergeList(base, child []string, strategy types.MergeStrategy) []string {
	switch strategy {
	case types.MergeReplace:
		if child != nil {
			return append([]string(nil), child...)
		}
		return base
	case types.MergePreserve:
		if len(base) > 0 {
			return base
		}
		return child
	case types.MergePrepend:
		out := append([]string(nil), child...)
		return append(out, base...)
	default: // Append
		out := append([]string(nil), base...)
		return append(out, child...)
	}
}

// checkExtendsCycles walks every layer's ExtendsFrom chain looking for a
// cycle, per spec.md §4.1's "cyclic extends chain (fatal)".
func (r *Resolver) checkExtendsCycles() error {
	keys := make([]string, 0, len(r.workspace.Layers))
	for k := range r.workspace.Layers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, start := range keys {
		visited := map[string]bool{}
		chain := []string{}
		cur := start
		for cur != "" {
			if visited[cur] {
				return &cycleError{chain: append(chain, cur)}
			}
			visited[cur] = true
			chain = append(chain, cur)
			layer, ok := r.workspace.Layers[cur]
			if !ok {
				break
			}
			cur = layer.ExtendsFrom
		}
	}
	return nil
}

type cycleError struct{ chain []string }

func (e *cycleError) Error() string {
	return fmt.Sprintf("ConfigError: cyclic extends chain: %v", e.chain)
}

// validateDeps checks that every dependency string in a resolved config
// is at least syntactically a valid target reference; spec.md §4.1:
// "invalid target reference in deps (fatal)".
func (r *Resolver) validateDeps(cfg *InheritedTasksConfig) error {
	for taskID, task := range cfg.Tasks {
		for _, dep := range task.Deps {
			if _, err := types.ParseTarget(dep); err != nil {
				return &invalidDepError{task: taskID, dep: dep, err: err}
			}
		}
	}
	return nil
}

type invalidDepError struct {
	task, dep string
	err       error
}

func (e *invalidDepError) Error() string {
	return fmt.Sprintf("ConfigError: task %q: invalid dependency target %q: %v", e.task, e.dep, e.err)
}

func (e *invalidDepError) Unwrap() error { return e.err }
