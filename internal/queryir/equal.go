package queryir

import "reflect"

// EqualExpr reports structural equality of two bound expressions.
// Sub-selects compare by identity.
func EqualExpr(a, b Expression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	switch x := a.(type) {
	case *Column:
		y := b.(*Column)
		return x.Table == y.Table && x.Name == y.Name
	case *Constant:
		y := b.(*Constant)
		return x.T == y.T && reflect.DeepEqual(x.Value, y.Value)
	case *Parameter:
		y := b.(*Parameter)
		return x.Name == y.Name
	case *Binary:
		y := b.(*Binary)
		return x.Op == y.Op && EqualExpr(x.Left, y.Left) && EqualExpr(x.Right, y.Right)
	case *Unary:
		y := b.(*Unary)
		return x.Op == y.Op && EqualExpr(x.Operand, y.Operand)
	case *IsNull:
		y := b.(*IsNull)
		return x.Negated == y.Negated && EqualExpr(x.Operand, y.Operand)
	case *Convert:
		y := b.(*Convert)
		return x.T == y.T && x.StoreType == y.StoreType && EqualExpr(x.Operand, y.Operand)
	case *Function:
		y := b.(*Function)
		return x.Name == y.Name && equalList(x.Args, y.Args)
	case *In:
		y := b.(*In)
		return x.Negated == y.Negated && x.Subquery == y.Subquery &&
			EqualExpr(x.Operand, y.Operand) && equalOptional(x.Values, y.Values)
	case *Exists:
		y := b.(*Exists)
		return x.Negated == y.Negated && x.Subquery == y.Subquery
	case *Case:
		y := b.(*Case)
		if len(x.Whens) != len(y.Whens) || !equalOptional(x.Else, y.Else) {
			return false
		}
		for i := range x.Whens {
			if !EqualExpr(x.Whens[i].Test, y.Whens[i].Test) || !EqualExpr(x.Whens[i].Result, y.Whens[i].Result) {
				return false
			}
		}
		return true
	case *Composite:
		y := b.(*Composite)
		return equalList(x.Parts, y.Parts)
	case *ScalarSubquery:
		y := b.(*ScalarSubquery)
		return x.Subquery == y.Subquery
	case *Aggregate:
		y := b.(*Aggregate)
		return x.Func == y.Func && equalOptional(x.Operand, y.Operand)
	}
	return false
}

func equalOptional(a, b Expression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return EqualExpr(a, b)
}

func equalList(a, b []Expression) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualExpr(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Walk visits e and its operands in pre-order. Nested sub-selects are not
// entered.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *IsNull:
		Walk(n.Operand, fn)
	case *Convert:
		Walk(n.Operand, fn)
	case *Function:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *In:
		Walk(n.Operand, fn)
		Walk(n.Values, fn)
	case *Case:
		for _, w := range n.Whens {
			Walk(w.Test, fn)
			Walk(w.Result, fn)
		}
		Walk(n.Else, fn)
	case *Composite:
		for _, p := range n.Parts {
			Walk(p, fn)
		}
	case *Aggregate:
		Walk(n.Operand, fn)
	}
}

// ContainsAggregate reports whether e applies an aggregate at its own level.
func ContainsAggregate(e Expression) bool {
	found := false
	Walk(e, func(n Expression) bool {
		if _, ok := n.(*Aggregate); ok {
			found = true
		}
		return !found
	})
	return found
}
