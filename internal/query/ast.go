// Package query implements the Moon Query Language (MQL) of spec.md
// §4.10: a small predicate grammar for filtering project/task sets at
// the graph boundary. Grounded in the teacher's internal/scope/filter
// (TargetSelector's glob-style package matching via a compiled regexp)
// generalised from "package filter" syntax to MQL's field=value grammar.
package query

// Field is one of the fixed MQL field names.
type Field string

const (
	FieldProject       Field = "project"
	FieldProjectAlias  Field = "projectAlias"
	FieldProjectSource Field = "projectSource"
	FieldProjectType   Field = "projectType"
	FieldProjectStack  Field = "projectStack"
	FieldLanguage      Field = "language"
	FieldTag           Field = "tag"
	FieldTask          Field = "task"
	FieldTaskToolchain Field = "taskToolchain"
	FieldTaskType      Field = "taskType"
)

var validFields = map[Field]bool{
	FieldProject:       true,
	FieldProjectAlias:  true,
	FieldProjectSource: true,
	FieldProjectType:   true,
	FieldProjectStack:  true,
	FieldLanguage:      true,
	FieldTag:           true,
	FieldTask:          true,
	FieldTaskToolchain: true,
	FieldTaskType:      true,
}

// enumFields reject the glob operators ~/!~ per spec.md §4.10 rule 8:
// "enum-valued fields reject ~/!~".
var enumFields = map[Field]bool{
	FieldLanguage:    true,
	FieldProjectType: true,
	FieldProjectStack: true,
	FieldTaskType:    true,
}

// Op is one of the four MQL comparison operators.
type Op string

const (
	OpEq      Op = "="
	OpNeq     Op = "!="
	OpLike    Op = "~"
	OpNotLike Op = "!~"
)

// Logical joins two conditions at the same nesting level.
type Logical string

const (
	LogicalAnd Logical = "AND"
	LogicalOr  Logical = "OR"
	logicalNone Logical = ""
)

// Node is a parsed MQL expression tree: either a leaf Condition or an
// internal And/Or/Group node.
type Node interface {
	node()
}

// Condition is one `field op value` leaf, where value may be a single
// bare token or an IN-style bracketed list.
type Condition struct {
	Field  Field
	Op     Op
	Values []string // len == 1 for a bare value, >1 for a [a,b,c] list
}

func (*Condition) node() {}

// Logic is a flat chain of conditions joined by a single logical
// operator (AND or OR, never both — mixing at one nesting level is a
// parse error per spec.md §4.10 rule).
type Logic struct {
	Op    Logical
	Nodes []Node
}

func (*Logic) node() {}
