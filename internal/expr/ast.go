package expr

import (
	"fmt"
	"reflect"
)

var boolType = reflect.TypeOf(false)

// Expr is a value-level node of the query tree.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	// Type returns the host type the expression evaluates to. A nil type is
	// only possible for untyped nil constants.
	Type() reflect.Type
	exprNode()
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota + 1
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpAndAlso
	OpOrElse
	OpCoalesce
)

var binaryOpNames = map[BinaryOp]string{
	OpAdd:                "+",
	OpSubtract:           "-",
	OpMultiply:           "*",
	OpDivide:             "/",
	OpModulo:             "%",
	OpEqual:              "==",
	OpNotEqual:           "!=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpAndAlso:            "&&",
	OpOrElse:             "||",
	OpCoalesce:           "??",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// IsComparison reports whether op yields a boolean from two values.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return true
	}
	return false
}

// IsLogical reports whether op is a short-circuit boolean connective.
func (op BinaryOp) IsLogical() bool {
	return op == OpAndAlso || op == OpOrElse
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNegate
	OpConvert
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "!"
	case OpNegate:
		return "-"
	case OpConvert:
		return "convert"
	}
	return fmt.Sprintf("UnaryOp(%d)", int(op))
}

// Constant is a literal value captured in the query.
type Constant struct {
	Value any
	T     reflect.Type // explicit type, required for typed nil constants
}

func (c *Constant) Type() reflect.Type {
	if c.T != nil {
		return c.T
	}
	if c.Value == nil {
		return nil
	}
	return reflect.TypeOf(c.Value)
}

func (*Constant) exprNode() {}

// IsNull reports whether the constant holds a nil value (untyped or typed).
func (c *Constant) IsNull() bool {
	if c.Value == nil {
		return true
	}
	v := reflect.ValueOf(c.Value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Parameter is a named value supplied at execution time.
type Parameter struct {
	Name string
	T    reflect.Type
}

func (p *Parameter) Type() reflect.Type { return p.T }
func (*Parameter) exprNode()            {}

// QuerySourceRef references the current item of a query source.
type QuerySourceRef struct {
	Source *QuerySource
}

func (r *QuerySourceRef) Type() reflect.Type {
	if r.Source == nil {
		return nil
	}
	return r.Source.ItemType
}

func (*QuerySourceRef) exprNode() {}

// Member is a field access on a struct-typed expression.
type Member struct {
	Object Expr
	Name   string
	T      reflect.Type
}

func (m *Member) Type() reflect.Type { return m.T }
func (*Member) exprNode()            {}

// Binary applies a binary operator.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	T     reflect.Type // result type for arithmetic; ignored for comparisons
}

func (b *Binary) Type() reflect.Type {
	if b.Op.IsComparison() || b.Op.IsLogical() {
		return boolType
	}
	if b.T != nil {
		return b.T
	}
	if b.Left != nil {
		return b.Left.Type()
	}
	return nil
}

func (*Binary) exprNode() {}

// Unary applies a unary operator. Convert uses T as the target type.
type Unary struct {
	Op      UnaryOp
	Operand Expr
	T       reflect.Type
}

func (u *Unary) Type() reflect.Type {
	switch {
	case u.Op == OpConvert:
		return u.T
	case u.Op == OpNot:
		return boolType
	case u.Operand != nil:
		return u.Operand.Type()
	}
	return nil
}

func (*Unary) exprNode() {}

// Conditional is the ternary test ? ifTrue : ifFalse.
type Conditional struct {
	Test    Expr
	IfTrue  Expr
	IfFalse Expr
	T       reflect.Type
}

func (c *Conditional) Type() reflect.Type {
	if c.T != nil {
		return c.T
	}
	if c.IfTrue != nil && c.IfTrue.Type() != nil {
		return c.IfTrue.Type()
	}
	if c.IfFalse != nil {
		return c.IfFalse.Type()
	}
	return nil
}

func (*Conditional) exprNode() {}

// Call is a method call on Object, or a static function when Object is nil.
// Method names are the host-level names ("Contains", "ToUpper",
// "math.Abs"); the method translator registry decides what they mean.
type Call struct {
	Object Expr
	Method string
	Args   []Expr
	T      reflect.Type
}

func (c *Call) Type() reflect.Type { return c.T }
func (*Call) exprNode()            {}

// New constructs an anonymous tuple. Member names must be exported Go
// identifiers; the tuple type is the struct built from them.
type New struct {
	Members []string
	Args    []Expr
	T       reflect.Type
}

func (n *New) Type() reflect.Type {
	if n.T != nil {
		return n.T
	}
	return TupleType(n.Members, n.Args)
}

func (*New) exprNode() {}

// TupleType returns the anonymous struct type for the given members.
// reflect.StructOf returns identical types for identical field lists.
func TupleType(members []string, args []Expr) reflect.Type {
	fields := make([]reflect.StructField, len(members))
	for i, name := range members {
		t := reflect.TypeOf((*any)(nil)).Elem()
		if i < len(args) && args[i] != nil && args[i].Type() != nil {
			t = args[i].Type()
		}
		fields[i] = reflect.StructField{Name: name, Type: t}
	}
	return reflect.StructOf(fields)
}

// MemberIndex returns the argument index of a tuple member, or -1.
func (n *New) MemberIndex(name string) int {
	for i, m := range n.Members {
		if m == name {
			return i
		}
	}
	return -1
}

// SubQuery embeds a nested query model as a value.
type SubQuery struct {
	Model *QueryModel
}

func (s *SubQuery) Type() reflect.Type {
	if s.Model == nil {
		return nil
	}
	return s.Model.ResultType()
}

func (*SubQuery) exprNode() {}

// RawSQL is a literal SQL text (or stored procedure call) used as a source.
type RawSQL struct {
	Text string
	Args []any
}

// EntityQueryable is the root "all entities of type Entity" sequence,
// optionally overridden by literal SQL.
type EntityQueryable struct {
	Entity reflect.Type
	SQL    *RawSQL
}

func (e *EntityQueryable) Type() reflect.Type {
	if e.Entity == nil {
		return nil
	}
	return reflect.SliceOf(e.Entity)
}

func (*EntityQueryable) exprNode() {}

// ValueBufferRead reads slot Index of the current row, converted to T. It
// never appears in user-built trees; the projection translator substitutes
// it for leaves bound to projection slots.
type ValueBufferRead struct {
	Index int
	T     reflect.Type
}

func (v *ValueBufferRead) Type() reflect.Type { return v.T }
func (*ValueBufferRead) exprNode()            {}

// Grouping is the host value produced for each group of a GroupBy.
type Grouping struct {
	Key      any
	Elements []any
}

// GroupingType is the item type of a source that iterates groupings.
var GroupingType = reflect.TypeOf((*Grouping)(nil))

// UnwrapNullable strips pointer indirections used for nullable scalars.
func UnwrapNullable(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// IsNullable reports whether values of t may be nil.
func IsNullable(t reflect.Type) bool {
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

// IsNullConstant reports whether e is a nil constant.
func IsNullConstant(e Expr) bool {
	c, ok := e.(*Constant)
	return ok && c.IsNull()
}
