package compiler

import (
	"errors"
	"reflect"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/queryir"
)

// VisitSubQuery translates a nested query model used as a value. Only
// shapes whose SQL result agrees with the in-memory result are lifted:
// EXISTS for Any and All, scalar sub-selects for Count and Sum, Min, Max
// and Average where an empty input cannot differ, IN or EXISTS for
// Contains. Anything else returns nil and is evaluated per outer row on
// the client.
func (v *queryModelVisitor) VisitSubQuery(n *expr.SubQuery) queryir.Expression {
	m := n.Model
	if m == nil || m.MainFrom == nil {
		return nil
	}
	if x := v.inMemoryContains(m); x != nil {
		return x
	}
	if g := v.groupingOf(m.MainFrom); g != nil {
		return v.groupAggregate(m, g)
	}
	if !eval.NeedsServer(m) {
		return nil
	}

	mk := v.ctx.mark(v.sel)
	nv := v.nested(m)
	x, err := nv.liftTerminal()
	if err != nil || x == nil {
		v.ctx.rollback(mk)
		if err != nil && !errors.Is(err, errClientOnly) {
			v.ctx.fail(err)
		}
		v.ctx.logger.Debug("sub-query left for client evaluation", "query", expr.FormatModel(m))
		return nil
	}
	v.ctx.logger.Debug("sub-query lifted", "query", expr.FormatModel(m))
	return x
}

// inMemoryContains translates "from x in list select x).Contains(item)"
// over a constant or parameter slice to item IN (...).
func (v *queryModelVisitor) inMemoryContains(m *expr.QueryModel) queryir.Expression {
	if len(m.Body) != 0 || len(m.ResultOperators) != 1 {
		return nil
	}
	c, ok := m.ResultOperators[0].(*expr.Contains)
	if !ok {
		return nil
	}
	if ref, ok := m.SelectorOrSource().(*expr.QuerySourceRef); !ok || ref.Source != m.MainFrom {
		return nil
	}
	switch m.MainFrom.FromExpr.(type) {
	case *expr.Constant, *expr.Parameter:
		return v.sql().inValues(m.MainFrom.FromExpr, c.Item)
	}
	return nil
}

// groupingOf returns the grouping binding src iterates the elements of.
func (v *queryModelVisitor) groupingOf(src *expr.QuerySource) *groupingBinding {
	m, ok := src.FromExpr.(*expr.Member)
	if !ok || m.Name != "Elements" {
		return nil
	}
	ref, ok := m.Object.(*expr.QuerySourceRef)
	if !ok {
		return nil
	}
	if b := v.scope.lookup(ref.Source); b != nil {
		return b.grouping
	}
	return nil
}

// groupAggregate translates an aggregate over the elements of a lifted
// group into an aggregate of the grouped select. Filters over the
// elements become CASE conditions inside the aggregate.
func (v *queryModelVisitor) groupAggregate(m *expr.QueryModel, g *groupingBinding) queryir.Expression {
	if len(m.ResultOperators) != 1 {
		return nil
	}
	elem := m.MainFrom
	rewrite := func(e expr.Expr) expr.Expr {
		return expr.Rewrite(e, func(x expr.Expr) expr.Expr {
			switch n := x.(type) {
			case *expr.QuerySourceRef:
				if n.Source == elem {
					return g.element
				}
			case *expr.Member:
				if tuple, ok := n.Object.(*expr.New); ok {
					if i := tuple.MemberIndex(n.Name); i >= 0 {
						return tuple.Args[i]
					}
				}
			}
			return x
		})
	}

	var cond queryir.Expression
	for _, c := range m.Body {
		switch cl := c.(type) {
		case *expr.WhereClause:
			p := v.sql().translate(rewrite(cl.Predicate))
			if !scalar(p) {
				return nil
			}
			cond = queryir.And(cond, p)
		case *expr.OrderByClause:
			// Order does not change an aggregate.
		default:
			return nil
		}
	}

	switch o := m.ResultOperators[0].(type) {
	case *expr.Count:
		return groupCount(cond)
	case *expr.Any:
		return &queryir.Binary{Op: queryir.OpGreaterThan, Left: groupCount(cond), Right: constInt(0)}
	case *expr.Aggregate:
		x := v.sql().translate(rewrite(m.SelectorOrSource()))
		if !scalar(x) {
			return nil
		}
		itemType := m.ItemType()
		// A group is never empty, but a filter can empty it.
		if o.Func != expr.AggSum && cond != nil && !expr.IsNullable(itemType) {
			return nil
		}
		if cond != nil {
			x = &queryir.Case{Whens: []queryir.When{{Test: cond, Result: x}}, T: x.Type()}
		}
		return aggregate(o.Func, x, aggregateType(o.Func, m))
	}
	return nil
}

func groupCount(cond queryir.Expression) queryir.Expression {
	if cond == nil {
		return queryir.CountAll()
	}
	one := &queryir.Case{Whens: []queryir.When{{Test: cond, Result: constInt(1)}}, T: intType}
	return &queryir.Aggregate{Func: queryir.AggCount, Operand: one, T: intType}
}

// aggregateType is the host type of an aggregate over m's items.
func aggregateType(f expr.AggregateFunc, m *expr.QueryModel) reflect.Type {
	t := m.ResultType()
	if f == expr.AggAverage && expr.IsNullable(m.ItemType()) {
		t = reflect.PointerTo(t)
	}
	return t
}

// liftTerminal compiles a nested model into a single store value over its
// own select. It returns nil when the terminal has no faithful SQL form.
func (v *queryModelVisitor) liftTerminal() (queryir.Expression, error) {
	if err := v.visitMainFrom(0); err != nil {
		return nil, err
	}
	if err := v.visitBody(); err != nil {
		return nil, err
	}
	ops := v.model.ResultOperators
	if len(ops) == 0 {
		return nil, nil
	}
	for _, op := range ops[:len(ops)-1] {
		if !v.applySequenceOperator(op) {
			return nil, nil
		}
	}

	selector := v.model.SelectorOrSource()
	itemType := v.model.ItemType()
	switch o := ops[len(ops)-1].(type) {
	case *expr.Any:
		ensureProjection(v.sel)
		return &queryir.Exists{Subquery: v.sel}, nil

	case *expr.All:
		if needsWrap(v.sel) {
			return nil, nil
		}
		p := v.sql().translate(o.Predicate)
		if !scalar(p) {
			return nil, nil
		}
		v.sel.SetPredicate(violates(p))
		ensureProjection(v.sel)
		return &queryir.Exists{Subquery: v.sel, Negated: true}, nil

	case *expr.Count:
		return &queryir.ScalarSubquery{Subquery: v.ctx.countSelect(v.sel), T: intType}, nil

	case *expr.Aggregate:
		x := v.sql().translate(selector)
		if !scalar(x) {
			return nil, nil
		}
		// MIN, MAX and AVG of no rows are NULL where the host fails.
		if o.Func != expr.AggSum && !expr.IsNullable(itemType) {
			return nil, nil
		}
		t := aggregateType(o.Func, v.model)
		return &queryir.ScalarSubquery{Subquery: v.ctx.aggregateSelect(v.sel, o.Func, x, t), T: t}, nil

	case *expr.Contains:
		x, item := v.sql().translate(selector), v.sql().translate(o.Item)
		if !scalar(x) || !scalar(item) {
			return nil, nil
		}
		return containsSelect(v.sel, x, item).Projection(0).Expr, nil

	case *expr.First:
		// The host default of a non-nullable type is its zero value, not
		// NULL.
		if !o.OrDefault || !expr.IsNullable(itemType) || v.sel.Limit() != nil {
			return nil, nil
		}
		x := v.sql().translate(selector)
		if !scalar(x) {
			return nil, nil
		}
		v.sel.AddToProjection(x)
		v.sel.SetLimit(constInt(1))
		return &queryir.ScalarSubquery{Subquery: v.sel, T: itemType}, nil
	}
	return nil, nil
}

// applySequenceOperator applies a paging or distinct operator that
// precedes the terminal of a lifted sub-query.
func (v *queryModelVisitor) applySequenceOperator(op expr.ResultOperator) bool {
	switch o := op.(type) {
	case *expr.Take:
		n := v.sql().translate(o.Count)
		if n == nil || v.sel.Limit() != nil {
			return false
		}
		v.sel.SetLimit(n)
	case *expr.Skip:
		n := v.sql().translate(o.Count)
		if n == nil || v.sel.Limit() != nil || v.sel.Offset() != nil {
			return false
		}
		v.sel.SetOffset(n)
	case *expr.Distinct:
		x := v.sql().translate(v.model.SelectorOrSource())
		if !scalar(x) || v.sel.Limit() != nil || v.sel.Offset() != nil {
			return false
		}
		v.sel.AddToProjection(x)
		v.sel.SetDistinct(true)
	default:
		return false
	}
	return true
}
