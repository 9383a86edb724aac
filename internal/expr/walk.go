package expr

// Walk visits e and its children in pre-order. Returning false from fn
// skips the children of that node. Sub-query models are entered.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Member:
		Walk(n.Object, fn)
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *Conditional:
		Walk(n.Test, fn)
		Walk(n.IfTrue, fn)
		Walk(n.IfFalse, fn)
	case *Call:
		Walk(n.Object, fn)
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *New:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *SubQuery:
		WalkModel(n.Model, fn)
	}
}

// WalkModel visits every expression held by m.
func WalkModel(m *QueryModel, fn func(Expr) bool) {
	if m == nil {
		return
	}
	for _, s := range m.Sources() {
		if s != nil {
			Walk(s.FromExpr, fn)
		}
	}
	for _, c := range m.Body {
		switch cl := c.(type) {
		case *WhereClause:
			Walk(cl.Predicate, fn)
		case *JoinClause:
			Walk(cl.OuterKey, fn)
			Walk(cl.InnerKey, fn)
		case *OrderByClause:
			for _, o := range cl.Orderings {
				Walk(o.Expr, fn)
			}
		}
	}
	Walk(m.Selector, fn)
	for _, op := range m.ResultOperators {
		switch o := op.(type) {
		case *Take:
			Walk(o.Count, fn)
		case *Skip:
			Walk(o.Count, fn)
		case *All:
			Walk(o.Predicate, fn)
		case *Contains:
			Walk(o.Item, fn)
		case *GroupBy:
			Walk(o.Key, fn)
			Walk(o.Element, fn)
		}
	}
}

// Rewrite rebuilds e bottom-up, replacing each node with fn's result. fn
// receives nodes whose children were already rewritten. Nodes are copied,
// never mutated. Sub-query models are not entered.
func Rewrite(e Expr, fn func(Expr) Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *Member:
		c := *n
		c.Object = Rewrite(n.Object, fn)
		return fn(&c)
	case *Binary:
		c := *n
		c.Left = Rewrite(n.Left, fn)
		c.Right = Rewrite(n.Right, fn)
		return fn(&c)
	case *Unary:
		c := *n
		c.Operand = Rewrite(n.Operand, fn)
		return fn(&c)
	case *Conditional:
		c := *n
		c.Test = Rewrite(n.Test, fn)
		c.IfTrue = Rewrite(n.IfTrue, fn)
		c.IfFalse = Rewrite(n.IfFalse, fn)
		return fn(&c)
	case *Call:
		c := *n
		c.Object = Rewrite(n.Object, fn)
		c.Args = make([]Expr, len(n.Args))
		for i, a := range n.Args {
			c.Args[i] = Rewrite(a, fn)
		}
		return fn(&c)
	case *New:
		c := *n
		c.Args = make([]Expr, len(n.Args))
		for i, a := range n.Args {
			c.Args[i] = Rewrite(a, fn)
		}
		return fn(&c)
	default:
		return fn(e)
	}
}

// References reports whether e references src anywhere, including inside
// nested sub-queries.
func References(e Expr, src *QuerySource) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if r, ok := n.(*QuerySourceRef); ok && r.Source == src {
			found = true
		}
		return !found
	})
	return found
}

// ModelReferences reports whether any expression of m references src.
func ModelReferences(m *QueryModel, src *QuerySource) bool {
	found := false
	WalkModel(m, func(n Expr) bool {
		if r, ok := n.(*QuerySourceRef); ok && r.Source == src {
			found = true
		}
		return !found
	})
	return found
}
