package types

import "fmt"

// DependencyScope classifies why one project depends on another.
type DependencyScope int

const (
	DependencyProduction DependencyScope = iota
	DependencyDevelopment
	DependencyBuild
	DependencyPeer
)

func (s DependencyScope) String() string {
	switch s {
	case DependencyProduction:
		return "production"
	case DependencyDevelopment:
		return "development"
	case DependencyBuild:
		return "build"
	case DependencyPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// AllowsCycle reports whether two projects connected by this scope may
// legally form a cycle in the project graph (§4.3: "Build and Peer allow
// cycles").
func (s DependencyScope) AllowsCycle() bool {
	return s == DependencyBuild || s == DependencyPeer
}

// DependencySource distinguishes dependencies a user wrote from ones a
// platform plugin inferred.
type DependencySource int

const (
	DependencyExplicit DependencySource = iota
	DependencyImplicit
)

// DependencyConfig is one edge from a Project to another.
type DependencyConfig struct {
	Id     ProjectId
	Scope  DependencyScope
	Source DependencySource
}

// FileGroup is a named bundle of files and globs declared at workspace or
// project scope, reused by tasks via the @group/@files/@dirs/@globs token
// functions.
type FileGroup struct {
	Name  string
	Files []string // workspace-relative literal paths
	Globs []string // glob patterns, workspace-relative
	Env   []string // env var names contributed by @envs(group)
}

// MustHaveGlobs returns an error if g declares no glob patterns, and nil
// otherwise: the data model's invariant is that glob-producing token calls
// fail on a file group with no glob entries.
func (g FileGroup) MustHaveGlobs() error {
	if len(g.Globs) == 0 {
		return fmt.Errorf("file group %q has no globs", g.Name)
	}
	return nil
}

// Project is a single buildable unit of the workspace.
type Project struct {
	Id       ProjectId
	Source   string // workspace-relative directory, normalised, forward-slash
	Root     string // absolute directory
	Language string
	Layer    string // application|library|tool|...
	Stack    string
	Tags     []string
	Alias    string

	Dependencies []DependencyConfig
	FileGroups   map[string]FileGroup
	Tasks        map[TaskId]*Task
	Metadata     map[string]string
}

// Validate enforces the Project entity's invariants: the id must match the
// identifier grammar, source must be non-empty, must not start with '/'
// and must not be exactly "..", and dependencies must not contain a
// self-reference. Other non-normalised forms (e.g. "a/../b") are not
// rejected.
func (p *Project) Validate() error {
	if !p.Id.Valid() {
		return fmt.Errorf("project: invalid id %q", p.Id)
	}
	if p.Source == "" || p.Source[0] == '/' || p.Source == ".." {
		return fmt.Errorf("project %s: source %q is not a normalised workspace-relative path", p.Id, p.Source)
	}
	for _, dep := range p.Dependencies {
		if dep.Id == p.Id {
			return fmt.Errorf("project %s: dependency list contains self-reference", p.Id)
		}
	}
	return nil
}

// HasTag reports whether the project carries the given tag.
func (p *Project) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
