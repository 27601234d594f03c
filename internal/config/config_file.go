package config

import (
	"errors"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/stratum-build/stratum/internal/fs"
)

// ProjectFile is the on-disk shape of a project's stratum.yml.
type ProjectFile struct {
	Language     string            `yaml:"language"`
	Layer        string            `yaml:"layer"`
	Stack        string            `yaml:"stack"`
	Tags         []string          `yaml:"tags"`
	Alias        string            `yaml:"alias"`
	Dependencies []DependencyEntry `yaml:"dependencies"`
	FileGroups   map[string]FileGroupFile `yaml:"fileGroups"`
	Tasks        map[string]TaskConfig    `yaml:"tasks"`
	Metadata     map[string]string        `yaml:"metadata"`
}

// DependencyEntry is one explicit dependency declaration in a project
// file.
type DependencyEntry struct {
	Id    string `yaml:"id"`
	Scope string `yaml:"scope"` // production|development|build|peer
}

// FileGroupFile is the on-disk shape of a named file group.
type FileGroupFile struct {
	Files []string `yaml:"files"`
	Globs []string `yaml:"globs"`
	Env   []string `yaml:"env"`
}

// WorkspaceFile is the on-disk shape of .stratum/workspace.yml.
type WorkspaceFile struct {
	Sources map[string]string `yaml:"sources"` // explicit id -> path
	Globs   []string          `yaml:"globs"`
	Strict  bool              `yaml:"strict"`
	// Layers maps a lookup-chain key ("*", "node", "application", ...)
	// to its tasks and optional extends-from key.
	Layers map[string]struct {
		Tasks   map[string]TaskConfig `yaml:"tasks"`
		Extends string                `yaml:"extends"`
	} `yaml:"layers"`
	FileGroups map[string]FileGroupFile `yaml:"fileGroups"`
	Cache      CacheFile                `yaml:"cache"`
	Vcs        VcsFile                  `yaml:"vcs"`
}

// CacheFile is the workspace-level cache configuration block.
type CacheFile struct {
	Dir        string `yaml:"dir"`
	RemoteUrl  string `yaml:"remoteUrl"`
	RemoteOnly bool   `yaml:"remoteOnly"`
}

// VcsFile is the workspace-level VCS configuration block.
type VcsFile struct {
	Manager      string `yaml:"manager"` // "git" only, currently
	DefaultBranch string `yaml:"defaultBranch"`
}

// LoadWorkspaceFile reads and parses the workspace config at path.
func LoadWorkspaceFile(fsys afero.Fs, path fs.AbsolutePath) (*WorkspaceFile, error) {
	b, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	var wf WorkspaceFile
	if err := yaml.Unmarshal(b, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadProjectFile reads and parses a project's stratum.yml at path. A
// missing file is not an error: projects may rely entirely on inherited
// config.
func LoadProjectFile(fsys afero.Fs, path fs.AbsolutePath) (*ProjectFile, error) {
	b, err := fs.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ProjectFile{}, nil
		}
		return nil, err
	}
	var pf ProjectFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

// ToWorkspaceInheritance converts a WorkspaceFile's layers into the
// WorkspaceInheritance the Resolver consumes.
func (wf *WorkspaceFile) ToWorkspaceInheritance() WorkspaceInheritance {
	layers := map[string]LayerConfig{}
	for key, l := range wf.Layers {
		layers[key] = LayerConfig{Key: key, Tasks: l.Tasks, ExtendsFrom: l.Extends}
	}
	return WorkspaceInheritance{Layers: layers, Strict: wf.Strict}
}
