package compiler

import (
	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/shaper"
)

// projection is the translated selector of a query model.
type projection struct {
	shaper shaper.Shaper

	// scalar is the single projected value when the selector translated
	// as a whole.
	scalar queryir.Expression

	// client is the part of the selector that runs on the client, if any.
	client expr.Expr
}

// projector rewrites a selector so that every server-translatable leaf
// reads a projection slot. What remains runs on the client over the slot
// values and materialized sources.
type projector struct {
	v       *queryModelVisitor
	sources []shaper.SourceMaterializer
	client  expr.Expr
	last    queryir.Expression
}

func (v *queryModelVisitor) translateProjection(selector expr.Expr) (*projection, error) {
	if ref, ok := selector.(*expr.QuerySourceRef); ok {
		if b := v.scope.lookup(ref.Source); b != nil && b.entity != nil && b.sel == v.sel {
			return &projection{shaper: v.ensureMaterialized(b)}, nil
		}
	}
	if m, ok := selector.(*expr.Member); ok {
		if b := v.entityBinding(m); b != nil && b.sel == v.sel {
			// A reference navigation: build the joined entity directly.
			return &projection{shaper: v.ensureMaterialized(b)}, nil
		}
	}

	p := &projector{v: v}
	body, err := p.project(selector)
	if err != nil {
		return nil, err
	}
	if r, ok := body.(*expr.ValueBufferRead); ok && p.client == nil {
		return &projection{shaper: &shaper.ScalarShaper{Index: r.Index, T: r.T}, scalar: p.last}, nil
	}
	f, err := eval.Compile(body)
	if err != nil {
		return nil, newError(ErrCodeInvalidQueryModel, v.model.MainFrom.Name, "selector: %v", err)
	}
	return &projection{shaper: &shaper.ProjectionShaper{Sources: p.sources, Body: f}, client: p.client}, nil
}

// slot projects the translation of e and returns a read of its slot, or
// nil when e does not translate.
func (p *projector) slot(e expr.Expr) expr.Expr {
	x := p.v.sql().translate(e)
	if !scalar(x) {
		return nil
	}
	p.last = x
	return &expr.ValueBufferRead{Index: p.v.sel.AddToProjection(x), T: e.Type()}
}

// markClient records that n is evaluated on the client. The outermost
// such node is reported.
func (p *projector) markClient(n expr.Expr) {
	if p.client == nil {
		p.client = n
	}
}

func (p *projector) project(e expr.Expr) (expr.Expr, error) {
	switch n := e.(type) {
	case *expr.Constant:
		return n, nil

	case *expr.Parameter:
		if r := p.slot(n); r != nil {
			return r, nil
		}
		return n, nil

	case *expr.New:
		args := make([]expr.Expr, len(n.Args))
		for i, a := range n.Args {
			var err error
			if args[i], err = p.project(a); err != nil {
				return nil, err
			}
		}
		return &expr.New{Members: n.Members, Args: args, T: n.T}, nil

	case *expr.QuerySourceRef:
		if b := p.v.tupleBinding(n); b != nil {
			args := make([]expr.Expr, len(b.tuple.Members))
			for i, name := range b.tuple.Members {
				args[i] = expr.FieldT(n, name, b.tuple.Args[i].Type())
			}
			return p.project(&expr.New{Members: b.tuple.Members, Args: args, T: b.tuple.Type()})
		}
		if r := p.slot(n); r != nil {
			return r, nil
		}
		if err := p.materializeRefs(n); err != nil {
			return nil, err
		}
		return n, nil

	case *expr.Member:
		if key, ok := p.v.groupingMember(n); ok {
			return p.project(key)
		}
		if r := p.slot(n); r != nil {
			return r, nil
		}
		if p.v.includePath(n) != nil {
			return n, p.materializeRefs(n)
		}
		obj, err := p.project(n.Object)
		if err != nil {
			return nil, err
		}
		p.markClient(n)
		return &expr.Member{Object: obj, Name: n.Name, T: n.T}, nil

	case *expr.Call:
		if r := p.slot(n); r != nil {
			return r, nil
		}
		p.markClient(n)
		c := &expr.Call{Method: n.Method, Args: make([]expr.Expr, len(n.Args)), T: n.T}
		var err error
		if n.Object != nil {
			if c.Object, err = p.project(n.Object); err != nil {
				return nil, err
			}
		}
		for i, a := range n.Args {
			if c.Args[i], err = p.project(a); err != nil {
				return nil, err
			}
		}
		return c, nil

	case *expr.SubQuery:
		if r := p.slot(n); r != nil {
			return r, nil
		}
		p.markClient(n)
		return n, p.materializeRefs(n)
	}

	if r := p.slot(e); r != nil {
		return r, nil
	}
	switch n := e.(type) {
	case *expr.Binary:
		l, err := p.project(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := p.project(n.Right)
		if err != nil {
			return nil, err
		}
		p.markClient(n)
		return &expr.Binary{Op: n.Op, Left: l, Right: r, T: n.T}, nil
	case *expr.Unary:
		o, err := p.project(n.Operand)
		if err != nil {
			return nil, err
		}
		p.markClient(n)
		return &expr.Unary{Op: n.Op, Operand: o, T: n.T}, nil
	case *expr.Conditional:
		parts := []expr.Expr{n.Test, n.IfTrue, n.IfFalse}
		for i, part := range parts {
			var err error
			if parts[i], err = p.project(part); err != nil {
				return nil, err
			}
		}
		p.markClient(n)
		return &expr.Conditional{Test: parts[0], IfTrue: parts[1], IfFalse: parts[2], T: n.T}, nil
	}
	return nil, errClientOnly
}

// materializeRefs makes every source e reads available to the client part
// as a materialized entity. Sources of enclosing executions are read from
// the environment as they are.
func (p *projector) materializeRefs(e expr.Expr) error {
	var err error
	expr.Walk(e, func(n expr.Expr) bool {
		r, ok := n.(*expr.QuerySourceRef)
		if !ok || err != nil {
			return err == nil
		}
		b := p.v.scope.lookup(r.Source)
		switch {
		case b == nil:
		case b.entity == nil || b.sel != p.v.sel:
			err = errClientOnly
		default:
			p.addSource(r.Source, b)
		}
		return true
	})
	return err
}

func (p *projector) addSource(src *expr.QuerySource, b *binding) {
	m := p.v.ensureMaterialized(b)
	for _, s := range p.sources {
		if s.Source == src {
			return
		}
	}
	p.sources = append(p.sources, shaper.SourceMaterializer{Source: src, Materializer: m})
}
