package query

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/stratum-build/stratum/internal/types"
)

// Record is one project, optionally scoped to a single one of its tasks.
// Query conditions over task* fields require a Task; conditions over
// project* fields never consult it.
type Record struct {
	Project *types.Project
	Task    *types.Task
}

// Match evaluates a parsed MQL node against one record, per spec.md
// §4.10's evaluation rule: `=`/`!=` compare equality after case-
// normalising enums, `~`/`!~` treat the RHS as a shell-style glob.
func Match(node Node, record Record) (bool, error) {
	switch n := node.(type) {
	case *Condition:
		return matchCondition(n, record)
	case *Logic:
		switch n.Op {
		case LogicalAnd:
			for _, child := range n.Nodes {
				ok, err := Match(child, record)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		case LogicalOr:
			for _, child := range n.Nodes {
				ok, err := Match(child, record)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return false, nil
}

// MatchProjects filters a project list against node, evaluating
// project-scoped fields only; a query that also names a task* field is
// evaluated with Task left nil, so those conditions never match (call
// Match with a Record that carries a Task to test both together).
func MatchProjects(node Node, projects []*types.Project) ([]*types.Project, error) {
	var out []*types.Project
	for _, p := range projects {
		ok, err := Match(node, Record{Project: p})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func matchCondition(c *Condition, record Record) (bool, error) {
	value, applicable := fieldValue(record, c.Field)
	if !applicable {
		return false, nil
	}

	switch c.Op {
	case OpEq:
		return containsFold(c.Values, value), nil
	case OpNeq:
		return !containsFold(c.Values, value), nil
	case OpLike:
		return anyGlobMatch(c.Values, value)
	case OpNotLike:
		matched, err := anyGlobMatch(c.Values, value)
		if err != nil {
			return false, err
		}
		return !matched, nil
	}
	return false, nil
}

func fieldValue(record Record, field Field) (string, bool) {
	switch field {
	case FieldProject:
		if record.Project == nil {
			return "", false
		}
		return string(record.Project.Id), true
	case FieldProjectAlias:
		if record.Project == nil {
			return "", false
		}
		return record.Project.Alias, true
	case FieldProjectSource:
		if record.Project == nil {
			return "", false
		}
		return record.Project.Source, true
	case FieldProjectType:
		if record.Project == nil {
			return "", false
		}
		return record.Project.Layer, true
	case FieldProjectStack:
		if record.Project == nil {
			return "", false
		}
		return record.Project.Stack, true
	case FieldLanguage:
		if record.Project == nil {
			return "", false
		}
		return record.Project.Language, true
	case FieldTag:
		if record.Project == nil {
			return "", false
		}
		return strings.Join(record.Project.Tags, ","), true
	case FieldTask:
		if record.Task == nil {
			return "", false
		}
		return string(record.Task.Id), true
	case FieldTaskToolchain:
		if record.Task == nil {
			return "", false
		}
		return record.Task.Toolchain, true
	case FieldTaskType:
		if record.Task == nil {
			return "", false
		}
		return record.Task.Type.String(), true
	}
	return "", false
}

func containsFold(values []string, actual string) bool {
	for _, v := range values {
		if strings.EqualFold(v, actual) {
			return true
		}
		// tag is a comma-joined set; treat equality as membership
		for _, part := range strings.Split(actual, ",") {
			if strings.EqualFold(v, part) {
				return true
			}
		}
	}
	return false
}

func anyGlobMatch(patterns []string, actual string) (bool, error) {
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return false, err
		}
		if g.Match(actual) {
			return true, nil
		}
	}
	return false, nil
}
