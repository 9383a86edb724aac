package queryir

import (
	"fmt"
	"reflect"
)

var (
	boolType    = reflect.TypeOf(false)
	intType     = reflect.TypeOf(0)
	float64Type = reflect.TypeOf(float64(0))
)

// Kind tags a bound expression.
type Kind int

const (
	KindColumn Kind = iota + 1
	KindConstant
	KindParameter
	KindComputed
	KindComposite
	KindSubSelect
)

func (k Kind) String() string {
	switch k {
	case KindColumn:
		return "column"
	case KindConstant:
		return "constant"
	case KindParameter:
		return "parameter"
	case KindComputed:
		return "computed"
	case KindComposite:
		return "composite"
	case KindSubSelect:
		return "subselect"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Expression is a store-native value expression.
//
// This is a sealed interface - only types in this package implement it.
type Expression interface {
	Kind() Kind
	// Type is the host type of the value. Pointer types are nullable.
	Type() reflect.Type
	expressionNode()
}

// IsNullable reports whether e may produce NULL.
func IsNullable(e Expression) bool {
	if e == nil {
		return true
	}
	if c, ok := e.(*Constant); ok && c.Value == nil {
		return true
	}
	t := e.Type()
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// Column is a column of the table with the given alias.
type Column struct {
	Table string // alias of the owning table source
	Name  string
	T     reflect.Type
}

func (*Column) Kind() Kind           { return KindColumn }
func (c *Column) Type() reflect.Type { return c.T }
func (*Column) expressionNode()      {}

// Constant is a literal captured at compile time. It is rendered as a
// positional argument, never interpolated.
type Constant struct {
	Value any
	T     reflect.Type
}

func (*Constant) Kind() Kind           { return KindConstant }
func (c *Constant) Type() reflect.Type { return c.T }
func (*Constant) expressionNode()      {}

// Parameter is a named value bound at execution time.
type Parameter struct {
	Name string
	T    reflect.Type
}

func (*Parameter) Kind() Kind           { return KindParameter }
func (p *Parameter) Type() reflect.Type { return p.T }
func (*Parameter) expressionNode()      {}

// BinaryOp enumerates store-level binary operators.
type BinaryOp int

const (
	OpEqual BinaryOp = iota + 1
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpAnd
	OpOr
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpConcat
)

var binaryOpSQL = map[BinaryOp]string{
	OpEqual:              "=",
	OpNotEqual:           "<>",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpAnd:                "AND",
	OpOr:                 "OR",
	OpAdd:                "+",
	OpSubtract:           "-",
	OpMultiply:           "*",
	OpDivide:             "/",
	OpModulo:             "%",
	OpConcat:             "||",
}

// SQL returns the operator token.
func (op BinaryOp) SQL() string {
	if s, ok := binaryOpSQL[op]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// IsComparison reports whether op compares two values.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEqual && op <= OpGreaterThanOrEqual
}

// Binary applies a binary operator. Comparisons and logical connectives are
// boolean-typed regardless of T.
type Binary struct {
	Op    BinaryOp
	Left  Expression
	Right Expression
	T     reflect.Type
}

func (*Binary) Kind() Kind { return KindComputed }
func (b *Binary) Type() reflect.Type {
	if b.Op.IsComparison() || b.Op == OpAnd || b.Op == OpOr {
		return boolType
	}
	return b.T
}
func (*Binary) expressionNode() {}

// UnaryOp enumerates store-level unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNegate
)

// Unary applies NOT or arithmetic negation.
type Unary struct {
	Op      UnaryOp
	Operand Expression
}

func (*Unary) Kind() Kind { return KindComputed }
func (u *Unary) Type() reflect.Type {
	if u.Op == OpNot {
		return boolType
	}
	return u.Operand.Type()
}
func (*Unary) expressionNode() {}

// IsNull tests Operand IS NULL, or IS NOT NULL when Negated.
type IsNull struct {
	Operand Expression
	Negated bool
}

func (*IsNull) Kind() Kind         { return KindComputed }
func (*IsNull) Type() reflect.Type { return boolType }
func (*IsNull) expressionNode()    {}

// Convert changes the host type of Operand. With an empty StoreType it is a
// widening that renders as the operand itself; otherwise it renders as
// CAST(operand AS StoreType).
type Convert struct {
	Operand   Expression
	T         reflect.Type
	StoreType string
}

func (*Convert) Kind() Kind           { return KindComputed }
func (c *Convert) Type() reflect.Type { return c.T }
func (*Convert) expressionNode()      {}

// Function is a store function call such as UPPER(x) or COALESCE(a, b).
type Function struct {
	Name string
	Args []Expression
	T    reflect.Type
}

func (*Function) Kind() Kind           { return KindComputed }
func (f *Function) Type() reflect.Type { return f.T }
func (*Function) expressionNode()      {}

// In tests membership of Operand in a value list or a single-column
// sub-select. Values is a Constant or Parameter holding a slice.
type In struct {
	Operand  Expression
	Values   Expression
	Subquery *SelectExpression
	Negated  bool
}

func (*In) Kind() Kind         { return KindComputed }
func (*In) Type() reflect.Type { return boolType }
func (*In) expressionNode()    {}

// Exists tests whether Subquery returns any row.
type Exists struct {
	Subquery *SelectExpression
	Negated  bool
}

func (*Exists) Kind() Kind         { return KindComputed }
func (*Exists) Type() reflect.Type { return boolType }
func (*Exists) expressionNode()    {}

// When is one arm of a Case.
type When struct {
	Test   Expression
	Result Expression
}

// Case is CASE WHEN ... THEN ... ELSE ... END.
type Case struct {
	Whens []When
	Else  Expression
	T     reflect.Type
}

func (*Case) Kind() Kind           { return KindComputed }
func (c *Case) Type() reflect.Type { return c.T }
func (*Case) expressionNode()      {}

// Composite groups several values, e.g. the members of an anonymous tuple.
type Composite struct {
	Parts []Expression
	T     reflect.Type
}

func (*Composite) Kind() Kind           { return KindComposite }
func (c *Composite) Type() reflect.Type { return c.T }
func (*Composite) expressionNode()      {}

// ScalarSubquery uses a single-column select as a value.
type ScalarSubquery struct {
	Subquery *SelectExpression
	T        reflect.Type
}

func (*ScalarSubquery) Kind() Kind           { return KindSubSelect }
func (s *ScalarSubquery) Type() reflect.Type { return s.T }
func (*ScalarSubquery) expressionNode()      {}

// AggregateFunc enumerates store aggregates.
type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
	AggAvg   AggregateFunc = "AVG"
)

// Aggregate folds Operand over the rows of a group. A nil Operand counts
// rows (COUNT(*)).
type Aggregate struct {
	Func    AggregateFunc
	Operand Expression
	T       reflect.Type
}

func (*Aggregate) Kind() Kind           { return KindComputed }
func (a *Aggregate) Type() reflect.Type { return a.T }
func (*Aggregate) expressionNode()      {}

// Equal builds left = right.
func Equal(left, right Expression) *Binary {
	return &Binary{Op: OpEqual, Left: left, Right: right}
}

// And combines two predicates, treating nil as "no predicate".
func And(left, right Expression) Expression {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	return &Binary{Op: OpAnd, Left: left, Right: right}
}

// Or combines two predicates, treating nil as "no predicate".
func Or(left, right Expression) Expression {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	return &Binary{Op: OpOr, Left: left, Right: right}
}

// Not negates a predicate, folding double negation and null tests.
func Not(e Expression) Expression {
	switch n := e.(type) {
	case *Unary:
		if n.Op == OpNot {
			return n.Operand
		}
	case *IsNull:
		return &IsNull{Operand: n.Operand, Negated: !n.Negated}
	case *Exists:
		return &Exists{Subquery: n.Subquery, Negated: !n.Negated}
	case *In:
		c := *n
		c.Negated = !n.Negated
		return &c
	}
	return &Unary{Op: OpNot, Operand: e}
}

// CountAll is COUNT(*).
func CountAll() *Aggregate {
	return &Aggregate{Func: AggCount, T: intType}
}
