package expr

import (
	"fmt"
	"reflect"
)

// From declares a source over all entities of the type carried by sample.
//
//	c := expr.From("c", Customer{})
//	q := expr.Query(c).Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Ann")))
func From(name string, sample any) *QuerySource {
	return FromType(name, typeOfSample(sample))
}

// FromType declares an entity source for t.
func FromType(name string, t reflect.Type) *QuerySource {
	return &QuerySource{
		Name:     name,
		ItemType: t,
		FromExpr: &EntityQueryable{Entity: t},
	}
}

// FromSQL declares an entity source whose rows come from literal SQL.
func FromSQL(name string, sample any, text string, args ...any) *QuerySource {
	t := typeOfSample(sample)
	return &QuerySource{
		Name:     name,
		ItemType: t,
		FromExpr: &EntityQueryable{Entity: t, SQL: &RawSQL{Text: text, Args: args}},
	}
}

// FromQuery declares a source over the results of a nested query.
func FromQuery(name string, m *QueryModel) *QuerySource {
	item := m.ItemType()
	if m.HasResultOperator(&GroupBy{}) {
		item = GroupingType
	}
	return &QuerySource{Name: name, ItemType: item, FromExpr: &SubQuery{Model: m}}
}

// FromGroup declares a source over the elements of the current group of a
// grouping source g.
func FromGroup(name string, g *QuerySource) *QuerySource {
	elem := reflect.TypeOf((*any)(nil)).Elem()
	if sub, ok := g.FromExpr.(*SubQuery); ok {
		for _, op := range sub.Model.ResultOperators {
			if gb, ok := op.(*GroupBy); ok && gb.Element.Type() != nil {
				elem = gb.Element.Type()
			}
		}
	}
	return &QuerySource{
		Name:     name,
		ItemType: elem,
		FromExpr: &Member{Object: Ref(g), Name: "Elements", T: reflect.SliceOf(elem)},
	}
}

// FromValues declares a source over an in-memory slice.
func FromValues(name string, values any) *QuerySource {
	t := reflect.TypeOf(values)
	if t == nil || t.Kind() != reflect.Slice {
		panic(fmt.Sprintf("expr: FromValues needs a slice, got %T", values))
	}
	return &QuerySource{Name: name, ItemType: t.Elem(), FromExpr: &Constant{Value: values}}
}

// FromParameter declares a source over a slice supplied at execution time.
func FromParameter(name, param string, sliceType reflect.Type) *QuerySource {
	return &QuerySource{Name: name, ItemType: sliceType.Elem(), FromExpr: &Parameter{Name: param, T: sliceType}}
}

func typeOfSample(sample any) reflect.Type {
	if t, ok := sample.(reflect.Type); ok {
		return t
	}
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Query starts a query model over its main source.
func Query(main *QuerySource) *QueryModel {
	return &QueryModel{MainFrom: main}
}

// Where appends a filter.
func (m *QueryModel) Where(predicate Expr) *QueryModel {
	m.Body = append(m.Body, &WhereClause{Predicate: predicate})
	return m
}

// Join appends an inner equi-join.
func (m *QueryModel) Join(src *QuerySource, outerKey, innerKey Expr) *QueryModel {
	m.Body = append(m.Body, &JoinClause{Source: src, OuterKey: outerKey, InnerKey: innerKey})
	return m
}

// SelectMany appends an additional from clause.
func (m *QueryModel) SelectMany(src *QuerySource) *QueryModel {
	m.Body = append(m.Body, &AdditionalFromClause{Source: src})
	return m
}

// OrderBy appends a new ordering clause.
func (m *QueryModel) OrderBy(e Expr) *QueryModel {
	m.Body = append(m.Body, &OrderByClause{Orderings: []Ordering{{Expr: e}}})
	return m
}

// OrderByDescending appends a new descending ordering clause.
func (m *QueryModel) OrderByDescending(e Expr) *QueryModel {
	m.Body = append(m.Body, &OrderByClause{Orderings: []Ordering{{Expr: e, Descending: true}}})
	return m
}

// ThenBy extends the last ordering clause.
func (m *QueryModel) ThenBy(e Expr, descending bool) *QueryModel {
	for i := len(m.Body) - 1; i >= 0; i-- {
		if ob, ok := m.Body[i].(*OrderByClause); ok {
			ob.Orderings = append(ob.Orderings, Ordering{Expr: e, Descending: descending})
			return m
		}
	}
	panic("expr: ThenBy without OrderBy")
}

// Select sets the selector.
func (m *QueryModel) Select(e Expr) *QueryModel {
	m.Selector = e
	return m
}

func (m *QueryModel) with(op ResultOperator) *QueryModel {
	m.ResultOperators = append(m.ResultOperators, op)
	return m
}

func (m *QueryModel) First() *QueryModel          { return m.with(&First{}) }
func (m *QueryModel) FirstOrDefault() *QueryModel { return m.with(&First{OrDefault: true}) }
func (m *QueryModel) Single() *QueryModel         { return m.with(&Single{}) }
func (m *QueryModel) Take(n int) *QueryModel      { return m.with(&Take{Count: Const(n)}) }
func (m *QueryModel) Skip(n int) *QueryModel      { return m.with(&Skip{Count: Const(n)}) }
func (m *QueryModel) Count() *QueryModel          { return m.with(&Count{}) }
func (m *QueryModel) Any() *QueryModel            { return m.with(&Any{}) }
func (m *QueryModel) All(p Expr) *QueryModel      { return m.with(&All{Predicate: p}) }
func (m *QueryModel) Contains(e Expr) *QueryModel { return m.with(&Contains{Item: e}) }
func (m *QueryModel) Distinct() *QueryModel       { return m.with(&Distinct{}) }
func (m *QueryModel) Sum() *QueryModel            { return m.with(&Aggregate{Func: AggSum}) }
func (m *QueryModel) Min() *QueryModel            { return m.with(&Aggregate{Func: AggMin}) }
func (m *QueryModel) Max() *QueryModel            { return m.with(&Aggregate{Func: AggMax}) }
func (m *QueryModel) Average() *QueryModel        { return m.with(&Aggregate{Func: AggAverage}) }

// GroupBy groups by key; element defaults to the main source item.
func (m *QueryModel) GroupBy(key, element Expr) *QueryModel {
	if element == nil {
		element = m.SelectorOrSource()
	}
	return m.with(&GroupBy{Key: key, Element: element})
}

// Include eager-loads a reference navigation of the main source.
func (m *QueryModel) Include(navigation string) *QueryModel {
	return m.with(&Include{Navigation: navigation})
}

// Sub wraps the model as a sub-query expression.
func (m *QueryModel) Sub() *SubQuery { return &SubQuery{Model: m} }

// Ref references the current item of src.
func Ref(src *QuerySource) *QuerySourceRef { return &QuerySourceRef{Source: src} }

// Const captures a literal.
func Const(v any) *Constant { return &Constant{Value: v} }

// Null is a typed nil constant.
func Null(t reflect.Type) *Constant { return &Constant{T: t} }

// Param declares a named parameter of type t.
func Param(name string, t reflect.Type) *Parameter { return &Parameter{Name: name, T: t} }

// Field accesses a struct field of e, resolving its type by reflection.
// It panics when the field does not exist; use FieldT for computed types.
func Field(e Expr, name string) *Member {
	t := UnwrapNullable(e.Type())
	if t == nil || t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("expr: cannot access %s on %v", name, e.Type()))
	}
	f, ok := t.FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("expr: %v has no field %s", t, name))
	}
	return &Member{Object: e, Name: name, T: f.Type}
}

// FieldT accesses a member with an explicitly supplied type.
func FieldT(e Expr, name string, t reflect.Type) *Member {
	return &Member{Object: e, Name: name, T: t}
}

// Key accesses the grouping key of a grouping source.
func Key(g *QuerySource) *Member {
	sub, ok := g.FromExpr.(*SubQuery)
	if !ok {
		panic("expr: Key on a non-grouping source")
	}
	for _, op := range sub.Model.ResultOperators {
		if gb, ok := op.(*GroupBy); ok {
			return &Member{Object: Ref(g), Name: "Key", T: gb.Key.Type()}
		}
	}
	panic("expr: Key on a non-grouping source")
}

func bin(op BinaryOp, l, r Expr) *Binary { return &Binary{Op: op, Left: l, Right: r} }

func Eq(l, r Expr) *Binary  { return bin(OpEqual, l, r) }
func Ne(l, r Expr) *Binary  { return bin(OpNotEqual, l, r) }
func Lt(l, r Expr) *Binary  { return bin(OpLessThan, l, r) }
func Le(l, r Expr) *Binary  { return bin(OpLessThanOrEqual, l, r) }
func Gt(l, r Expr) *Binary  { return bin(OpGreaterThan, l, r) }
func Ge(l, r Expr) *Binary  { return bin(OpGreaterThanOrEqual, l, r) }
func Add(l, r Expr) *Binary { return bin(OpAdd, l, r) }
func Sub(l, r Expr) *Binary { return bin(OpSubtract, l, r) }
func Mul(l, r Expr) *Binary { return bin(OpMultiply, l, r) }
func Div(l, r Expr) *Binary { return bin(OpDivide, l, r) }
func Mod(l, r Expr) *Binary { return bin(OpModulo, l, r) }

// Coalesce is l ?? r; its type is the type of r.
func Coalesce(l, r Expr) *Binary { return &Binary{Op: OpCoalesce, Left: l, Right: r, T: r.Type()} }

// And folds operands with &&.
func And(first Expr, rest ...Expr) Expr {
	out := first
	for _, e := range rest {
		out = bin(OpAndAlso, out, e)
	}
	return out
}

// Or folds operands with ||.
func Or(first Expr, rest ...Expr) Expr {
	out := first
	for _, e := range rest {
		out = bin(OpOrElse, out, e)
	}
	return out
}

func Not(e Expr) *Unary { return &Unary{Op: OpNot, Operand: e} }
func Neg(e Expr) *Unary { return &Unary{Op: OpNegate, Operand: e} }

// Convert converts e to t.
func Convert(e Expr, t reflect.Type) *Unary { return &Unary{Op: OpConvert, Operand: e, T: t} }

// Cond is test ? a : b.
func Cond(test, a, b Expr) *Conditional { return &Conditional{Test: test, IfTrue: a, IfFalse: b} }

// Method calls a method on obj.
func Method(obj Expr, name string, t reflect.Type, args ...Expr) *Call {
	return &Call{Object: obj, Method: name, Args: args, T: t}
}

// Func calls a static function such as "math.Abs".
func Func(name string, t reflect.Type, args ...Expr) *Call {
	return &Call{Method: name, Args: args, T: t}
}

// Pair is one named member of an anonymous tuple.
type Pair struct {
	Name string
	Expr Expr
}

// P is a shorthand for Pair.
func P(name string, e Expr) Pair { return Pair{Name: name, Expr: e} }

// Tuple builds an anonymous tuple from pairs.
func Tuple(pairs ...Pair) *New {
	n := &New{Members: make([]string, len(pairs)), Args: make([]Expr, len(pairs))}
	for i, p := range pairs {
		n.Members[i] = p.Name
		n.Args[i] = p.Expr
	}
	return n
}
