package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	yarnlock "github.com/iseki0/go-yarnlock"

	"github.com/stratum-build/stratum/internal/types"
)

// NodePlugin implements Plugin for JavaScript/TypeScript projects. It
// hashes yarn.lock via github.com/iseki0/go-yarnlock when present,
// mirroring the teacher's internal/packagemanager yarn/berry detection,
// generalised to the plugin trait shape instead of a bespoke
// PackageManager struct.
type NodePlugin struct {
	PackageManager string // "npm"|"yarn"|"pnpm"
	Version        string
}

func (p *NodePlugin) Name() string { return "node" }

func (p *NodePlugin) Setup(ctx context.Context, version string) error {
	p.Version = version
	return nil
}

func (p *NodePlugin) InstallDeps(ctx context.Context, workspaceRoot string) (Operations, error) {
	cmd := p.PackageManager
	if cmd == "" {
		cmd = "npm"
	}
	return Operations{Commands: []string{cmd + " install"}}, nil
}

func (p *NodePlugin) SyncProject(ctx context.Context, project *types.Project, deps []types.ProjectId) (bool, error) {
	// Node projects resolve workspace deps through package.json directly;
	// there is nothing generated to write back, unlike Cargo.toml path
	// members, so this is always a no-op.
	return false, nil
}

func (p *NodePlugin) HashManifest(ctx context.Context, project *types.Project, manifestPath string) ([]byte, error) {
	lockPath := filepath.Join(project.Root, "yarn.lock")
	f, err := os.Open(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte(p.Version), nil
		}
		return nil, err
	}
	defer f.Close()

	parsed, err := yarnlock.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("node plugin: parsing yarn.lock: %w", err)
	}
	h := sha256.New()
	for _, entry := range parsed.Entries() {
		fmt.Fprintf(h, "%s=%s\n", entry.Key(), entry.Resolved())
	}
	return []byte(hex.EncodeToString(h.Sum(nil))), nil
}

func (p *NodePlugin) CreateRunCommand(ctx context.Context, task *types.Task, workingDir string, env []string) (Command, error) {
	return Command{
		Path: "/bin/sh",
		Args: []string{"-c", task.Command},
		Dir:  workingDir,
		Env:  env,
	}, nil
}

// ImplicitDependencies reads project's package.json dependencies and
// devDependencies, per spec.md §4.3: a Node project's workspace siblings
// are declared there, not in stratum.yml's own dependencies: list. Each
// declared package name is returned as a candidate; the Project Graph
// folds in only the names that resolve to a known project id and drops
// the rest (ordinary external npm packages) silently.
func (p *NodePlugin) ImplicitDependencies(ctx context.Context, project *types.Project) ([]types.DependencyConfig, error) {
	data, err := os.ReadFile(filepath.Join(project.Root, "package.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("node plugin: parsing package.json: %w", err)
	}

	var deps []types.DependencyConfig
	for name := range manifest.Dependencies {
		deps = append(deps, types.DependencyConfig{Id: types.ProjectId(name), Scope: types.DependencyProduction, Source: types.DependencyImplicit})
	}
	for name := range manifest.DevDependencies {
		deps = append(deps, types.DependencyConfig{Id: types.ProjectId(name), Scope: types.DependencyDevelopment, Source: types.DependencyImplicit})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Id < deps[j].Id })
	return deps, nil
}
