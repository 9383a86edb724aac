package expr

import "reflect"

var (
	intType     = reflect.TypeOf(0)
	float64Type = reflect.TypeOf(float64(0))
)

// QuerySource is a logical position in the query that expressions can
// reference: a main from clause, a join, or an additional from clause.
// Identity is pointer identity.
type QuerySource struct {
	// Name is the item name ("c" in "from c in Customers"). May be empty.
	Name string

	// ItemType is the type of one element of the source.
	ItemType reflect.Type

	// FromExpr produces the sequence: *EntityQueryable, *SubQuery, or a
	// *Constant / *Parameter holding an in-memory slice.
	FromExpr Expr
}

// QueryModel is one query: sources, body clauses, selector and result
// operators, applied in that order.
type QueryModel struct {
	MainFrom        *QuerySource
	Body            []BodyClause
	Selector        Expr // nil selects the main source item
	ResultOperators []ResultOperator
}

// SelectorOrSource returns the selector, defaulting to a reference to the
// main source.
func (m *QueryModel) SelectorOrSource() Expr {
	if m.Selector != nil {
		return m.Selector
	}
	return &QuerySourceRef{Source: m.MainFrom}
}

// ItemType is the type of one selected element before result operators.
func (m *QueryModel) ItemType() reflect.Type {
	return m.SelectorOrSource().Type()
}

// ResultType is the type the whole query evaluates to.
func (m *QueryModel) ResultType() reflect.Type {
	item := m.ItemType()
	seq := reflect.Type(nil)
	if item != nil {
		seq = reflect.SliceOf(item)
	}
	for _, op := range m.ResultOperators {
		switch o := op.(type) {
		case *First, *Single:
			return item
		case *Count:
			return intType
		case *Any, *All, *Contains:
			return boolType
		case *Aggregate:
			if o.Func == AggAverage {
				return float64Type
			}
			return item
		case *GroupBy:
			item = GroupingType
			seq = reflect.SliceOf(GroupingType)
		}
	}
	return seq
}

// HasResultOperator reports whether the model carries an operator of the
// same dynamic type as op.
func (m *QueryModel) HasResultOperator(op ResultOperator) bool {
	t := reflect.TypeOf(op)
	for _, o := range m.ResultOperators {
		if reflect.TypeOf(o) == t {
			return true
		}
	}
	return false
}

// Sources returns every query source declared by the model in declaration
// order (main from first).
func (m *QueryModel) Sources() []*QuerySource {
	out := []*QuerySource{m.MainFrom}
	for _, c := range m.Body {
		switch cl := c.(type) {
		case *JoinClause:
			out = append(out, cl.Source)
		case *AdditionalFromClause:
			out = append(out, cl.Source)
		}
	}
	return out
}

// BodyClause is a clause between the main from and the selector.
//
// This is a sealed interface - only types in this package implement it.
type BodyClause interface {
	bodyClause()
}

// WhereClause filters items by Predicate.
type WhereClause struct {
	Predicate Expr
}

func (*WhereClause) bodyClause() {}

// JoinClause is an inner equi-join of Source on OuterKey == InnerKey.
type JoinClause struct {
	Source   *QuerySource
	OuterKey Expr
	InnerKey Expr
}

func (*JoinClause) bodyClause() {}

// AdditionalFromClause adds a cross-joined (possibly correlated) source.
type AdditionalFromClause struct {
	Source *QuerySource
}

func (*AdditionalFromClause) bodyClause() {}

// Ordering is a single sort key.
type Ordering struct {
	Expr       Expr
	Descending bool
}

// OrderByClause sorts by its orderings; a later OrderByClause takes
// precedence over an earlier one.
type OrderByClause struct {
	Orderings []Ordering
}

func (*OrderByClause) bodyClause() {}

// ResultOperator is applied to the selected sequence.
//
// This is a sealed interface - only types in this package implement it.
type ResultOperator interface {
	resultOperator()
}

// First returns the first element; OrDefault yields the zero value for an
// empty sequence instead of an error.
type First struct{ OrDefault bool }

// Single returns the only element.
type Single struct{ OrDefault bool }

// Take limits the sequence.
type Take struct{ Count Expr }

// Skip offsets the sequence.
type Skip struct{ Count Expr }

// Count counts elements.
type Count struct{}

// Any reports whether the sequence is non-empty.
type Any struct{}

// All reports whether Predicate holds for every element.
type All struct{ Predicate Expr }

// Contains reports whether Item is an element of the sequence.
type Contains struct{ Item Expr }

// Distinct removes duplicate elements.
type Distinct struct{}

// AggregateFunc enumerates scalar aggregates.
type AggregateFunc int

const (
	AggSum AggregateFunc = iota + 1
	AggMin
	AggMax
	AggAverage
)

func (f AggregateFunc) String() string {
	switch f {
	case AggSum:
		return "Sum"
	case AggMin:
		return "Min"
	case AggMax:
		return "Max"
	case AggAverage:
		return "Average"
	}
	return "Aggregate"
}

// Aggregate folds the selected values.
type Aggregate struct{ Func AggregateFunc }

// GroupBy groups elements by Key; each group holds Element values.
type GroupBy struct {
	Key     Expr
	Element Expr
}

// Include eager-loads the named reference navigation of the main source.
type Include struct{ Navigation string }

func (*First) resultOperator()     {}
func (*Single) resultOperator()    {}
func (*Take) resultOperator()      {}
func (*Skip) resultOperator()      {}
func (*Count) resultOperator()     {}
func (*Any) resultOperator()       {}
func (*All) resultOperator()       {}
func (*Contains) resultOperator()  {}
func (*Distinct) resultOperator()  {}
func (*Aggregate) resultOperator() {}
func (*GroupBy) resultOperator()   {}
func (*Include) resultOperator()   {}
