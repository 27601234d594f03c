package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratum-build/stratum/internal/cacheengine"
	"github.com/stratum-build/stratum/internal/query"
	"github.com/stratum-build/stratum/internal/types"
	"github.com/stratum-build/stratum/internal/workspace"
)

// newQueryCommand builds the `query` subcommand tree of spec.md §6.4:
// projects, tasks, touched-files, hash, hash-diff.
func newQueryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect the project graph, tasks, and touched files",
	}
	cmd.AddCommand(newQueryProjectsCommand(opts))
	cmd.AddCommand(newQueryTasksCommand(opts))
	cmd.AddCommand(newQueryTouchedFilesCommand(opts))
	cmd.AddCommand(newQueryHashCommand(opts))
	cmd.AddCommand(newQueryHashDiffCommand(opts))
	return cmd
}

func newQueryProjectsCommand(opts *rootOptions) *cobra.Command {
	var affected bool
	cmd := &cobra.Command{
		Use:   "projects [<MQL>]",
		Short: "List projects, optionally filtered by an MQL expression",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.loadWorkspace()
			if err != nil {
				return err
			}
			projects := ws.Projects.All()

			if affected {
				projects, err = filterAffected(ws)
				if err != nil {
					return err
				}
			}

			if len(args) == 1 {
				node, err := query.Parse(args[0])
				if err != nil {
					return err
				}
				projects, err = query.MatchProjects(node, projects)
				if err != nil {
					return err
				}
			}

			return printProjects(opts, projects)
		},
	}
	cmd.Flags().BoolVar(&affected, "affected", false, "restrict to projects touched by the working tree, including their dependents")
	return cmd
}

// filterAffected implements the supplemented "affected projects propagate
// to dependents" rule (SPEC_FULL.md §4): a project is directly affected if
// any touched file falls under its source directory, and transitively
// affected if it depends, directly or indirectly, on a directly affected
// project.
func filterAffected(ws *workspace.Workspace) ([]*types.Project, error) {
	touched, err := ws.VCS.GetTouchedFiles()
	if err != nil {
		return nil, err
	}
	changed := touched.All()

	direct := map[types.ProjectId]bool{}
	for _, p := range ws.Projects.All() {
		prefix := p.Source
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		for path := range changed {
			if path == p.Source || strings.HasPrefix(path, prefix) {
				direct[p.Id] = true
				break
			}
		}
	}

	affected := map[types.ProjectId]bool{}
	for id := range direct {
		affected[id] = true
		for _, dep := range ws.Projects.TransitiveDependentsOf(id) {
			affected[dep] = true
		}
	}

	var out []*types.Project
	for _, p := range ws.Projects.All() {
		if affected[p.Id] {
			out = append(out, p)
		}
	}
	return out, nil
}

func printProjects(opts *rootOptions, projects []*types.Project) error {
	if opts.jsonOutput {
		return printJSON(opts, projects)
	}
	for _, p := range projects {
		opts.ui.Output(fmt.Sprintf("%s\t%s\t%s", p.Id, p.Layer, p.Source))
	}
	return nil
}

func newQueryTasksCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List every task across every project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.loadWorkspace()
			if err != nil {
				return err
			}
			type row struct {
				Target    string `json:"target"`
				Toolchain string `json:"toolchain"`
				Type      string `json:"type"`
			}
			var rows []row
			for _, p := range ws.Projects.All() {
				ids := make([]string, 0, len(p.Tasks))
				for id := range p.Tasks {
					ids = append(ids, string(id))
				}
				sort.Strings(ids)
				for _, id := range ids {
					task := p.Tasks[types.TaskId(id)]
					rows = append(rows, row{Target: task.Target.String(), Toolchain: task.Toolchain, Type: task.Type.String()})
				}
			}
			if opts.jsonOutput {
				return printJSON(opts, rows)
			}
			for _, r := range rows {
				opts.ui.Output(fmt.Sprintf("%s\t%s\t%s", r.Target, r.Toolchain, r.Type))
			}
			return nil
		},
	}
}

func newQueryTouchedFilesCommand(opts *rootOptions) *cobra.Command {
	var base, head string
	cmd := &cobra.Command{
		Use:   "touched-files",
		Short: "List files changed in the working tree, or between two revisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.loadWorkspace()
			if err != nil {
				return err
			}
			var touched *types.TouchedFiles
			if base != "" && head != "" {
				touched, err = ws.VCS.GetTouchedFilesBetweenRevisions(base, head)
			} else {
				touched, err = ws.VCS.GetTouchedFiles()
			}
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(opts, touchedFilesJSON(touched))
			}
			for path := range touched.All() {
				opts.ui.Output(path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base revision")
	cmd.Flags().StringVar(&head, "head", "", "head revision")
	return cmd
}

func touchedFilesJSON(t *types.TouchedFiles) map[string][]string {
	toSlice := func(m map[string]struct{}) []string {
		out := make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	return map[string][]string{
		"added":     toSlice(t.Added),
		"deleted":   toSlice(t.Deleted),
		"modified":  toSlice(t.Modified),
		"staged":    toSlice(t.Staged),
		"unstaged":  toSlice(t.Unstaged),
		"untracked": toSlice(t.Untracked),
	}
}

func newQueryHashCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <hash>",
		Short: "Print the stored hash manifest for a content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.loadWorkspace()
			if err != nil {
				return err
			}
			manifest, err := cacheengine.ReadHashManifest(ws.CacheDir, types.Hash(args[0]))
			if err != nil {
				return err
			}
			return printJSON(opts, manifest)
		},
	}
}

func newQueryHashDiffCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-diff <a> <b>",
		Short: "Structurally diff two hash manifests (added/removed/changed components)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.loadWorkspace()
			if err != nil {
				return err
			}
			before, err := cacheengine.ReadHashManifest(ws.CacheDir, types.Hash(args[0]))
			if err != nil {
				return err
			}
			after, err := cacheengine.ReadHashManifest(ws.CacheDir, types.Hash(args[1]))
			if err != nil {
				return err
			}
			diff := query.HashDiff(before, after)
			if opts.jsonOutput {
				return printJSON(opts, diff)
			}
			for _, entry := range diff {
				opts.ui.Output(fmt.Sprintf("%s\t%s", entry.Status, entry.Name))
			}
			return nil
		},
	}
}

func printJSON(opts *rootOptions, v interface{}) error {
	enc := json.NewEncoder(opts.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
