// Package errorsx implements the error taxonomy from spec.md §7: a small
// set of typed errors, each carrying a stable code and human message, that
// the pipeline and CLI check with errors.As rather than string matching.
// The pattern mirrors the teacher's MissingTaskError in
// internal/core/engine.go: small structs satisfying the error interface,
// wrapped with github.com/pkg/errors where extra context is needed.
package errorsx

import (
	"fmt"
	"strings"
)

// Code is the stable identifier attached to every typed error.
type Code string

const (
	CodeConfig        Code = "ConfigError"
	CodeTarget        Code = "TargetError"
	CodeGraphCycle    Code = "GraphCycleError"
	CodeToken         Code = "TokenError"
	CodeVcs           Code = "VcsError"
	CodeHasher        Code = "HasherError"
	CodeTaskExecution Code = "TaskExecutionError"
	CodeCache         Code = "CacheError"
	CodePipelineAbort Code = "PipelineAborted"
	CodeQueryParse    Code = "QueryParseError"
)

// ConfigError reports a parse, schema or reference failure at load time.
// Fatal; reported before any action runs.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", CodeConfig, e.Path, e.Message)
}

// TargetError reports a malformed target string or an unknown
// project/task reference. Fatal at graph-build time.
type TargetError struct {
	Target  string
	Message string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %q: %s", CodeTarget, e.Target, e.Message)
}

// GraphCycleError reports cyclic task dependencies, carrying the minimum
// offending chain.
type GraphCycleError struct {
	Chain []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("%s: %s", CodeGraphCycle, strings.Join(e.Chain, " -> "))
}

// TokenError reports a token-expansion failure. Fatal for the affected
// task only; the pipeline still builds the graph and reports every
// affected task.
type TokenError struct {
	Task    string
	Reason  string // UnknownFileGroup, UnknownToken, InvalidTokenScope, InvalidTokenIndex, MissingInIndex, MissingOutIndex, InvalidTokenIndexReference
	Message string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s: task %s: %s: %s", CodeToken, e.Task, e.Reason, e.Message)
}

// VcsError reports a git invocation failure. The VCS layer degrades
// gracefully by disabling caching and affected-detection rather than
// surfacing this as fatal, except where the caller explicitly needs VCS
// data to proceed.
type VcsError struct {
	Op      string
	Message string
}

func (e *VcsError) Error() string {
	return fmt.Sprintf("%s: %s: %s", CodeVcs, e.Op, e.Message)
}

// HasherError reports an inability to read an input file. Escalates to a
// TaskExecutionError for the owning task.
type HasherError struct {
	Path    string
	Message string
}

func (e *HasherError) Error() string {
	return fmt.Sprintf("%s: %s: %s", CodeHasher, e.Path, e.Message)
}

// TaskExecutionError reports a non-zero exit after all retries.
type TaskExecutionError struct {
	Target   string
	ExitCode int
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("%s: %s exited %d", CodeTaskExecution, e.Target, e.ExitCode)
}

// CacheError reports an archive read/write failure. Treated as a cache
// miss by callers: the run continues; no warning is printed.
type CacheError struct {
	Hash    string
	Op      string
	Message string
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", CodeCache, e.Op, e.Hash, e.Message)
}

// PipelineAborted reports user cancellation or fail-fast propagation.
type PipelineAborted struct {
	Reason string
}

func (e *PipelineAborted) Error() string {
	return fmt.Sprintf("%s: %s", CodePipelineAbort, e.Reason)
}

// UnsupportedLikeOperator reports that an MQL condition applied `~`/`!~`
// to a field whose values are a closed enum (spec.md §4.10 rule 8).
type UnsupportedLikeOperator struct {
	Field string
}

func (e *UnsupportedLikeOperator) Error() string {
	return fmt.Sprintf("%s: field %q does not support ~/!~, it is enum-valued", CodeQueryParse, e.Field)
}

// LogicalOperatorMismatch reports that a query mixed AND and OR at the
// same nesting level without disambiguating parentheses.
type LogicalOperatorMismatch struct {
	Query string
}

func (e *LogicalOperatorMismatch) Error() string {
	return fmt.Sprintf("%s: %q mixes AND and OR at the same nesting level, parenthesize to disambiguate", CodeQueryParse, e.Query)
}
