package compiler

import (
	"reflect"

	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/queryir"
)

// sqlTranslator translates host expressions of one query model into store
// expressions. Translation is total: anything that cannot be expressed in
// SQL yields nil and the caller schedules it for client evaluation.
type sqlTranslator struct {
	v *queryModelVisitor
}

var comparisonOps = map[expr.BinaryOp]queryir.BinaryOp{
	expr.OpEqual:              queryir.OpEqual,
	expr.OpNotEqual:           queryir.OpNotEqual,
	expr.OpLessThan:           queryir.OpLessThan,
	expr.OpLessThanOrEqual:    queryir.OpLessThanOrEqual,
	expr.OpGreaterThan:        queryir.OpGreaterThan,
	expr.OpGreaterThanOrEqual: queryir.OpGreaterThanOrEqual,
}

var arithmeticOps = map[expr.BinaryOp]queryir.BinaryOp{
	expr.OpAdd:      queryir.OpAdd,
	expr.OpSubtract: queryir.OpSubtract,
	expr.OpMultiply: queryir.OpMultiply,
	expr.OpDivide:   queryir.OpDivide,
	expr.OpModulo:   queryir.OpModulo,
}

func (t sqlTranslator) translate(e expr.Expr) queryir.Expression {
	switch n := e.(type) {
	case nil:
		return nil
	case *expr.Constant:
		return t.constant(n)
	case *expr.Parameter:
		if t.mappings().FindMapping(n.T) == nil {
			return nil
		}
		return &queryir.Parameter{Name: n.Name, T: n.T}
	case *expr.QuerySourceRef:
		return t.sourceRef(n)
	case *expr.Member:
		return t.member(n)
	case *expr.Binary:
		return t.binary(n)
	case *expr.Unary:
		return t.unary(n)
	case *expr.Conditional:
		return t.conditional(n)
	case *expr.Call:
		return t.call(n)
	case *expr.New:
		return t.tuple(n)
	case *expr.SubQuery:
		return t.v.VisitSubQuery(n)
	}
	return nil
}

func (t sqlTranslator) mappings() model.TypeMappingSource { return t.v.ctx.c.mappings }

func (t sqlTranslator) constant(n *expr.Constant) queryir.Expression {
	if n.IsNull() {
		return &queryir.Constant{Value: nil, T: n.Type()}
	}
	if t.mappings().FindMapping(n.Type()) == nil {
		return nil
	}
	return &queryir.Constant{Value: n.Value, T: n.Type()}
}

func (t sqlTranslator) sourceRef(n *expr.QuerySourceRef) queryir.Expression {
	b := t.v.scope.lookup(n.Source)
	if b == nil {
		if t.v.isFree(n) {
			return t.v.ctx.correlate(n)
		}
		return nil
	}
	if b.tuple != nil {
		return &queryir.Composite{Parts: b.tupleParts(), T: b.tuple.Type()}
	}
	return b.scalar
}

func (t sqlTranslator) member(n *expr.Member) queryir.Expression {
	if key, ok := t.v.groupingMember(n); ok {
		return t.translate(key)
	}
	if t.v.isFree(n) {
		return t.v.ctx.correlate(n)
	}
	if owner := t.v.entityBinding(n.Object); owner != nil {
		return owner.column(n.Name)
	}
	if col := t.v.tupleMember(n); col != nil {
		return col
	}
	o := t.translate(n.Object)
	if o == nil {
		return nil
	}
	if _, ok := o.(*queryir.Composite); ok {
		return nil
	}
	return t.v.ctx.c.translateMember(o, n.Name, n.T)
}

func (t sqlTranslator) binary(n *expr.Binary) queryir.Expression {
	switch n.Op {
	case expr.OpEqual, expr.OpNotEqual:
		return t.equality(n.Left, n.Right, n.Op == expr.OpNotEqual)
	case expr.OpAndAlso, expr.OpOrElse:
		l, r := t.translate(n.Left), t.translate(n.Right)
		if !scalar(l) || !scalar(r) {
			return nil
		}
		op := queryir.OpAnd
		if n.Op == expr.OpOrElse {
			op = queryir.OpOr
		}
		return &queryir.Binary{Op: op, Left: l, Right: r}
	}

	l, r := t.translate(n.Left), t.translate(n.Right)
	if !scalar(l) || !scalar(r) {
		return nil
	}
	if n.Op == expr.OpCoalesce {
		return fn("COALESCE", n.Type(), l, r)
	}
	if op, ok := comparisonOps[n.Op]; ok {
		l, r = widen(l, r)
		return &queryir.Binary{Op: op, Left: l, Right: r}
	}
	op, ok := arithmeticOps[n.Op]
	if !ok {
		return nil
	}
	if op == queryir.OpAdd && isString(l) {
		op = queryir.OpConcat
	}
	return &queryir.Binary{Op: op, Left: l, Right: r, T: n.Type()}
}

// equality translates == and != with host null semantics: nil == nil is
// true, nil != x is true.
func (t sqlTranslator) equality(left, right expr.Expr, negated bool) queryir.Expression {
	switch {
	case expr.IsNullConstant(right):
		return nullTest(t.translate(left), negated)
	case expr.IsNullConstant(left):
		return nullTest(t.translate(right), negated)
	}
	l, r := t.translate(left), t.translate(right)
	if l == nil || r == nil {
		return nil
	}
	lc, lok := l.(*queryir.Composite)
	rc, rok := r.(*queryir.Composite)
	switch {
	case lok && rok:
		return compositeEquality(lc, rc, negated)
	case lok || rok:
		return nil
	}
	l, r = widen(l, r)
	return nullSafeEquality(l, r, negated)
}

func nullTest(operand queryir.Expression, negated bool) queryir.Expression {
	if !scalar(operand) {
		return nil
	}
	return &queryir.IsNull{Operand: operand, Negated: negated}
}

// compositeEquality unfolds tuple equality per component: AND for ==, OR
// for !=. A single component stays a plain comparison.
func compositeEquality(l, r *queryir.Composite, negated bool) queryir.Expression {
	if len(l.Parts) != len(r.Parts) || len(l.Parts) == 0 {
		return nil
	}
	var out queryir.Expression
	for i := range l.Parts {
		if !scalar(l.Parts[i]) || !scalar(r.Parts[i]) {
			return nil
		}
		lp, rp := widen(l.Parts[i], r.Parts[i])
		part := nullSafeEquality(lp, rp, negated)
		if negated {
			out = queryir.Or(out, part)
		} else {
			out = queryir.And(out, part)
		}
	}
	return out
}

// nullSafeEquality expands comparisons of nullable operands so that SQL
// three-valued logic agrees with host equality.
//
//	l == r  both nullable   (l = r OR (l IS NULL AND r IS NULL))
//	l != r  l nullable      (l <> r OR (l IS NULL AND r IS NOT NULL))
//
// A nil parameter still renders as IS [NOT] NULL.
func nullSafeEquality(l, r queryir.Expression, negated bool) queryir.Expression {
	ln, rn := mayBeNull(l), mayBeNull(r)
	if !negated {
		eq := queryir.Equal(l, r)
		if ln && rn {
			return queryir.Or(eq, queryir.And(&queryir.IsNull{Operand: l}, &queryir.IsNull{Operand: r}))
		}
		return eq
	}
	var out queryir.Expression = &queryir.Binary{Op: queryir.OpNotEqual, Left: l, Right: r}
	if ln {
		out = queryir.Or(out, onlyNull(l, r, rn))
	}
	if rn {
		out = queryir.Or(out, onlyNull(r, l, ln))
	}
	return out
}

// onlyNull is "a IS NULL AND b IS NOT NULL", shortened when b is never
// NULL.
func onlyNull(a, b queryir.Expression, bNullable bool) queryir.Expression {
	isNull := &queryir.IsNull{Operand: a}
	if !bNullable {
		return isNull
	}
	return queryir.And(isNull, &queryir.IsNull{Operand: b, Negated: true})
}

// mayBeNull reports whether e can evaluate to NULL: its type is nullable,
// or NULL reaches it through an operand. A widened value keeps the
// nullability of what it widens.
func mayBeNull(e queryir.Expression) bool {
	switch n := e.(type) {
	case *queryir.Convert:
		return mayBeNull(n.Operand)
	case *queryir.Binary:
		return mayBeNull(n.Left) || mayBeNull(n.Right) || queryir.IsNullable(n)
	case *queryir.Unary:
		return mayBeNull(n.Operand)
	case *queryir.IsNull, *queryir.Exists:
		return false
	case *queryir.In:
		if n.Subquery != nil || n.Values == nil || n.Values.Type() == nil {
			return true
		}
		return mayBeNull(n.Operand) || expr.IsNullable(n.Values.Type().Elem())
	case *queryir.Function:
		if n.Name == "COALESCE" {
			return mayBeNull(n.Args[len(n.Args)-1])
		}
		for _, a := range n.Args {
			if mayBeNull(a) {
				return true
			}
		}
	case *queryir.Case:
		if n.Else == nil || mayBeNull(n.Else) {
			return true
		}
		for _, w := range n.Whens {
			if mayBeNull(w.Result) {
				return true
			}
		}
	case *queryir.ScalarSubquery:
		return true
	}
	return queryir.IsNullable(e)
}

// definite turns a NULL outcome of predicate p into FALSE, so that NOT p
// holds wherever p does not.
func definite(p queryir.Expression) queryir.Expression {
	if !mayBeNull(p) {
		return p
	}
	return coalesceFalse(p)
}

func coalesceFalse(p queryir.Expression) queryir.Expression {
	return fn("COALESCE", boolType, p, &queryir.Constant{Value: false, T: boolType})
}

// widen converts the non-nullable side of a comparison to the nullable
// type of the other side when both share an underlying type.
func widen(l, r queryir.Expression) (queryir.Expression, queryir.Expression) {
	lt, rt := l.Type(), r.Type()
	if lt == nil || rt == nil || lt == rt {
		return l, r
	}
	if expr.UnwrapNullable(lt) != expr.UnwrapNullable(rt) {
		return l, r
	}
	switch {
	case expr.IsNullable(lt) && !expr.IsNullable(rt):
		return l, &queryir.Convert{Operand: r, T: lt}
	case expr.IsNullable(rt) && !expr.IsNullable(lt):
		return &queryir.Convert{Operand: l, T: rt}, r
	}
	return l, r
}

func scalar(e queryir.Expression) bool {
	if e == nil {
		return false
	}
	_, composite := e.(*queryir.Composite)
	return !composite
}

func (t sqlTranslator) unary(n *expr.Unary) queryir.Expression {
	if b, ok := n.Operand.(*expr.Binary); ok && n.Op == expr.OpNot && (b.Op == expr.OpEqual || b.Op == expr.OpNotEqual) {
		return t.equality(b.Left, b.Right, b.Op == expr.OpEqual)
	}
	o := t.translate(n.Operand)
	if !scalar(o) {
		return nil
	}
	switch n.Op {
	case expr.OpNot:
		return queryir.Not(definite(o))
	case expr.OpNegate:
		return &queryir.Unary{Op: queryir.OpNegate, Operand: o}
	case expr.OpConvert:
		return t.convert(o, n.T)
	}
	return nil
}

// convert maps a host conversion onto a store cast. Conversions that only
// change nullability or name an enum type need no cast.
func (t sqlTranslator) convert(o queryir.Expression, to reflect.Type) queryir.Expression {
	if to == nil || t.mappings().FindMapping(to) == nil {
		return nil
	}
	from := expr.UnwrapNullable(o.Type())
	target := expr.UnwrapNullable(to)
	if from == nil {
		return &queryir.Convert{Operand: o, T: to}
	}
	switch {
	case from == target:
		return &queryir.Convert{Operand: o, T: to}
	case isInteger(target) && isInteger(from):
		return &queryir.Convert{Operand: o, T: to}
	case isInteger(target) && isFloat(from):
		return &queryir.Convert{Operand: o, T: to, StoreType: "INTEGER"}
	case isFloat(target) && (isInteger(from) || isFloat(from)):
		return &queryir.Convert{Operand: o, T: to, StoreType: "REAL"}
	case target.Kind() == reflect.String && from.Kind() == reflect.String:
		return &queryir.Convert{Operand: o, T: to}
	case target.Kind() == reflect.String && (isInteger(from) || isFloat(from)):
		return &queryir.Convert{Operand: o, T: to, StoreType: "TEXT"}
	}
	return nil
}

func isInteger(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func (t sqlTranslator) conditional(n *expr.Conditional) queryir.Expression {
	if access, ok := collapseNullCheck(n); ok {
		a := t.translate(access)
		if !scalar(a) {
			return nil
		}
		if nt := n.Type(); nt != nil && expr.IsNullable(nt) && !expr.IsNullable(a.Type()) {
			return &queryir.Convert{Operand: a, T: nt}
		}
		return a
	}
	test := t.translate(n.Test)
	a, b := t.translate(n.IfTrue), t.translate(n.IfFalse)
	if !scalar(test) || !scalar(a) || !scalar(b) {
		return nil
	}
	if n.Type() == boolType && !mayBeNull(a) && !mayBeNull(b) {
		test = definite(test)
		return queryir.Or(
			&queryir.Binary{Op: queryir.OpAnd, Left: test, Right: a},
			&queryir.Binary{Op: queryir.OpAnd, Left: queryir.Not(test), Right: b},
		)
	}
	return &queryir.Case{Whens: []queryir.When{{Test: test, Result: a}}, Else: b, T: n.Type()}
}

// collapseNullCheck recognizes x != nil ? x.M : nil and its mirror
// x == nil ? nil : x.M. SQL already propagates NULL through x.M, so only
// the access is needed. x must be a plain member path over a source.
func collapseNullCheck(n *expr.Conditional) (expr.Expr, bool) {
	test, ok := n.Test.(*expr.Binary)
	if !ok || (test.Op != expr.OpEqual && test.Op != expr.OpNotEqual) {
		return nil, false
	}
	var x expr.Expr
	switch {
	case expr.IsNullConstant(test.Right):
		x = test.Left
	case expr.IsNullConstant(test.Left):
		x = test.Right
	default:
		return nil, false
	}
	access, other := n.IfTrue, n.IfFalse
	if test.Op == expr.OpEqual {
		access, other = n.IfFalse, n.IfTrue
	}
	if !expr.IsNullConstant(other) {
		return nil, false
	}
	m, ok := access.(*expr.Member)
	if !ok || !samePath(m.Object, x) {
		return nil, false
	}
	return m, true
}

func samePath(a, b expr.Expr) bool {
	switch x := a.(type) {
	case *expr.QuerySourceRef:
		y, ok := b.(*expr.QuerySourceRef)
		return ok && x.Source == y.Source
	case *expr.Member:
		y, ok := b.(*expr.Member)
		return ok && x.Name == y.Name && samePath(x.Object, y.Object)
	}
	return false
}

func (t sqlTranslator) call(n *expr.Call) queryir.Expression {
	if n.Method == "Contains" && n.Object != nil && len(n.Args) == 1 {
		if in := t.inValues(n.Object, n.Args[0]); in != nil {
			return in
		}
	}
	var obj queryir.Expression
	if n.Object != nil {
		if obj = t.translate(n.Object); !scalar(obj) {
			return nil
		}
	}
	args := make([]queryir.Expression, len(n.Args))
	for i, a := range n.Args {
		if args[i] = t.translate(a); !scalar(args[i]) {
			return nil
		}
	}
	return t.v.ctx.c.translateMethod(obj, n.Method, args, n.T)
}

// inValues translates list.Contains(item) over an in-memory slice or a
// slice parameter to item IN (...).
func (t sqlTranslator) inValues(list, item expr.Expr) queryir.Expression {
	lt := list.Type()
	if lt == nil || lt.Kind() != reflect.Slice || t.mappings().FindMapping(lt.Elem()) == nil {
		return nil
	}
	var values queryir.Expression
	switch l := list.(type) {
	case *expr.Constant:
		values = &queryir.Constant{Value: l.Value, T: lt}
	case *expr.Parameter:
		values = &queryir.Parameter{Name: l.Name, T: lt}
	default:
		return nil
	}
	operand := t.translate(item)
	if !scalar(operand) {
		return nil
	}
	return &queryir.In{Operand: operand, Values: values}
}

// tuple translates an anonymous tuple to a composite, usable only in
// structural comparisons, grouping and ordering.
func (t sqlTranslator) tuple(n *expr.New) queryir.Expression {
	parts := make([]queryir.Expression, len(n.Args))
	for i, a := range n.Args {
		if parts[i] = t.translate(a); !scalar(parts[i]) {
			return nil
		}
	}
	return &queryir.Composite{Parts: parts, T: n.Type()}
}
