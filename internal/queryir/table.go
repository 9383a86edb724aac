package queryir

// TableSource is an entry of a select's FROM list.
//
// This is a sealed interface - only types in this package implement it.
type TableSource interface {
	// Alias names the source for column references.
	Alias() string
	tableNode()
}

// Table is a base table.
type Table struct {
	Name   string
	Schema string
	As     string
}

func (t *Table) Alias() string { return t.As }
func (*Table) tableNode()      {}

// FromSQL is a literal SQL source. A composable source is rendered as a
// parenthesized derived table; a non-composable one (anything not starting
// with SELECT) is sent verbatim and must be the only table of a select with
// a star projection.
type FromSQL struct {
	SQL        string
	Args       []Expression
	As         string
	Composable bool
}

func (f *FromSQL) Alias() string { return f.As }
func (*FromSQL) tableNode()      {}

// Derived is a nested select used as a table.
type Derived struct {
	Select *SelectExpression
	As     string
}

func (d *Derived) Alias() string { return d.As }
func (*Derived) tableNode()      {}

// JoinKind enumerates join flavours.
type JoinKind int

const (
	JoinInner JoinKind = iota + 1
	JoinLeft
	JoinCross
)

func (k JoinKind) SQL() string {
	switch k {
	case JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	case JoinCross:
		return "CROSS JOIN"
	}
	return "JOIN"
}

// Join wraps a table source joined to everything before it. It is never
// the first entry of a table list.
type Join struct {
	Kind  JoinKind
	Table TableSource
	On    Expression // nil for cross joins
}

func (j *Join) Alias() string { return j.Table.Alias() }
func (*Join) tableNode()      {}
