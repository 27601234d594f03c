// Package hasher implements the Hasher of spec.md §4.5: a layered,
// deterministic SHA-256 digest over a task's hash-input tree, plus the
// human-readable HashManifest side-car. Grounded in the teacher's
// internal/taskhash (Tracker.calculateTaskHashFromHashable: the same
// layered-components-then-digest shape, common hasher + platform hasher)
// but the digest algorithm is swapped from xxHash to SHA-256 over
// canonical JSON, because spec.md §3.2 fixes Hash at "64-hex-character
// lowercase string" — a SHA-256 hex digest, not an xxHash one. Go's
// encoding/json already sorts map keys and emits no insignificant
// whitespace, which is exactly spec.md §4.5's canonical-JSON requirement,
// so no third-party canonicalizer is needed here.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/stratum-build/stratum/internal/types"
)

// TaskDefinition is the task-shape component of the common hasher layer:
// command, args, deps, env keys and option flags that affect output.
// Args are order-significant and hashed verbatim; Deps and EnvKeys are
// semantically unordered and sorted before hashing, per spec.md §4.5's
// ordering rules.
type TaskDefinition struct {
	Command     string                 `json:"command"`
	Args        []string               `json:"args"`
	Deps        []string               `json:"deps"`
	EnvKeys     []string               `json:"envKeys"`
	OptionFlags map[string]interface{} `json:"optionFlags"`
}

// NewTaskDefinition builds a TaskDefinition from a resolved Task, sorting
// the unordered fields.
func NewTaskDefinition(task *types.Task) TaskDefinition {
	deps := make([]string, 0, len(task.Deps))
	for _, d := range task.Deps {
		deps = append(deps, d.String())
	}
	sort.Strings(deps)

	envKeys := make([]string, 0, len(task.Env))
	for _, kv := range task.Env {
		envKeys = append(envKeys, kv.Key)
	}
	sort.Strings(envKeys)

	return TaskDefinition{
		Command: task.Command,
		Args:    append([]string(nil), task.Args...),
		Deps:    deps,
		EnvKeys: envKeys,
		OptionFlags: map[string]interface{}{
			"persistent":           task.Options.Persistent,
			"runFromWorkspaceRoot": task.Options.RunFromWorkspaceRoot,
			"retryCount":           task.Options.RetryCount,
			"timeout":              task.Options.Timeout,
		},
	}
}

// CommonInput is the full common-hasher layer for one RunTask.
type CommonInput struct {
	TaskDefinition      TaskDefinition
	PassthroughArgs     []string
	DependencyHashes    map[string]types.Hash // target -> upstream hash
	InputFileHashes     map[string]string     // workspace-relative path -> content hash, clean-tree snapshot
	LocalChangesOverlay map[string]string     // workspace-relative path -> content hash, touched files
}

// Hasher computes HashManifests for RunTask actions.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher { return &Hasher{} }

// HashTask computes the layered digest for one task: the common layer,
// then (if non-nil) an opaque platform-hasher layer contributed by a
// toolchain plugin, concatenated in that order and fed to SHA-256.
// Per spec.md §4.5, touched files (LocalChangesOverlay) are merged into
// the input-file-hash component LAST, so they override identical entries
// from the clean-tree snapshot.
func (h *Hasher) HashTask(input CommonInput, platformBytes []byte) (types.Hash, *types.HashManifest, error) {
	mergedFiles := map[string]string{}
	for path, hash := range input.InputFileHashes {
		mergedFiles[path] = hash
	}
	for path, hash := range input.LocalChangesOverlay {
		mergedFiles[path] = hash
	}

	components := []types.HashComponent{
		{Name: "task-definition", Value: input.TaskDefinition},
		{Name: "passthrough-args", Value: input.PassthroughArgs},
		{Name: "dependency-hashes", Value: input.DependencyHashes},
		{Name: "input-files", Value: mergedFiles},
	}
	if platformBytes != nil {
		components = append(components, types.HashComponent{Name: "platform", Value: hex.EncodeToString(platformBytes)})
	}

	digest := sha256.New()
	for _, comp := range components {
		serialized, err := canonicalJSON(comp.Value)
		if err != nil {
			return "", nil, err
		}
		digest.Write([]byte(comp.Name))
		digest.Write([]byte{0})
		digest.Write(serialized)
		digest.Write([]byte{0})
	}
	hash := types.Hash(hex.EncodeToString(digest.Sum(nil)))

	manifest := &types.HashManifest{Hash: hash, Components: components}
	return hash, manifest, nil
}

// canonicalJSON serialises v per spec.md §4.5: sorted keys (Go's
// encoding/json sorts map[string]V keys by default), no insignificant
// whitespace (json.Marshal is already compact), and no trailing zeroes on
// integers (callers use int, not float, for every integral field so
// encoding/json never emits a decimal point).
func canonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
