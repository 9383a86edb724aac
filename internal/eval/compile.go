package eval

import (
	"fmt"
	"reflect"

	"github.com/roach88/relq/internal/expr"
)

// Compile turns e into a closure. Compilation fails only for malformed
// trees; runtime failures (missing parameters, unbound sources) surface
// when the closure runs.
func Compile(e expr.Expr) (Func, error) {
	switch n := e.(type) {
	case nil:
		return func(*Env) (any, error) { return nil, nil }, nil

	case *expr.Constant:
		v := n.Value
		return func(*Env) (any, error) { return v, nil }, nil

	case *expr.Parameter:
		name := n.Name
		return func(env *Env) (any, error) {
			v, ok := env.Params[name]
			if !ok {
				return nil, fmt.Errorf("missing value for parameter %q", name)
			}
			return v, nil
		}, nil

	case *expr.QuerySourceRef:
		src := n.Source
		return func(env *Env) (any, error) {
			v, ok := env.Lookup(src)
			if !ok {
				return nil, fmt.Errorf("query source %q is not bound", src.Name)
			}
			return v, nil
		}, nil

	case *expr.ValueBufferRead:
		idx, t := n.Index, n.T
		return func(env *Env) (any, error) {
			if idx >= len(env.Buffer) {
				return nil, fmt.Errorf("value buffer slot %d out of range (%d values)", idx, len(env.Buffer))
			}
			return ConvertTo(env.Buffer[idx], t)
		}, nil

	case *expr.Member:
		return compileMember(n)

	case *expr.Binary:
		return compileBinary(n)

	case *expr.Unary:
		operand, err := Compile(n.Operand)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case expr.OpNot:
			return func(env *Env) (any, error) {
				v, err := operand(env)
				if err != nil || v == nil {
					return nil, err
				}
				return !Truthy(v), nil
			}, nil
		case expr.OpNegate:
			t := n.Type()
			return func(env *Env) (any, error) {
				v, err := operand(env)
				if err != nil {
					return nil, err
				}
				v, err = negate(v)
				if err != nil || v == nil {
					return nil, err
				}
				return ConvertTo(v, t)
			}, nil
		case expr.OpConvert:
			t := n.T
			return func(env *Env) (any, error) {
				v, err := operand(env)
				if err != nil {
					return nil, err
				}
				if v == nil && expr.IsNullable(t) {
					return reflect.Zero(t).Interface(), nil
				}
				return ConvertTo(v, t)
			}, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)

	case *expr.Conditional:
		test, err := Compile(n.Test)
		if err != nil {
			return nil, err
		}
		a, err := Compile(n.IfTrue)
		if err != nil {
			return nil, err
		}
		b, err := Compile(n.IfFalse)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := test(env)
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return a(env)
			}
			return b(env)
		}, nil

	case *expr.Call:
		return compileCall(n)

	case *expr.New:
		return compileNew(n)

	case *expr.SubQuery:
		return compileSubQuery(n.Model)

	case *expr.EntityQueryable:
		src := &expr.QuerySource{ItemType: n.Entity, FromExpr: n}
		m := expr.Query(src)
		return func(env *Env) (any, error) { return runOnServer(env, m) }, nil
	}
	return nil, fmt.Errorf("cannot evaluate %T", e)
}

func compileMember(n *expr.Member) (Func, error) {
	obj, err := Compile(n.Object)
	if err != nil {
		return nil, err
	}
	name := n.Name
	return func(env *Env) (any, error) {
		v, err := obj(env)
		if err != nil {
			return nil, err
		}
		return member(v, name)
	}, nil
}

// member reads a field, a grouping part or a zero-argument method of v.
// A nil object yields nil.
func member(v any, name string) (any, error) {
	if v == nil {
		return nil, nil
	}
	if g, ok := v.(*expr.Grouping); ok {
		switch name {
		case "Key":
			return g.Key, nil
		case "Elements":
			return g.Elements, nil
		}
		return nil, fmt.Errorf("grouping has no member %s", name)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		if r, ok := memberMethod(rv, name); ok {
			return r, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName(name); f.IsValid() {
			return f.Interface(), nil
		}
	}
	if r, ok := memberMethod(rv, name); ok {
		return r, nil
	}
	return nil, fmt.Errorf("%v has no member %s", rv.Type(), name)
}

func compileBinary(n *expr.Binary) (Func, error) {
	left, err := Compile(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := Compile(n.Right)
	if err != nil {
		return nil, err
	}
	op := n.Op
	switch {
	case op == expr.OpAndAlso:
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil || !Truthy(l) {
				return false, err
			}
			r, err := right(env)
			return Truthy(r), err
		}, nil
	case op == expr.OpOrElse:
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			if Truthy(l) {
				return true, nil
			}
			r, err := right(env)
			return Truthy(r), err
		}, nil
	case op == expr.OpCoalesce:
		t := n.Type()
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			if normalize(l) == nil {
				if l, err = right(env); err != nil {
					return nil, err
				}
			}
			if normalize(l) == nil && expr.IsNullable(t) {
				return reflect.Zero(t).Interface(), nil
			}
			return ConvertTo(l, t)
		}, nil
	case op.IsComparison():
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			r, err := right(env)
			if err != nil {
				return nil, err
			}
			return compare(op, l, r)
		}, nil
	}
	t := n.Type()
	return func(env *Env) (any, error) {
		l, err := left(env)
		if err != nil {
			return nil, err
		}
		r, err := right(env)
		if err != nil {
			return nil, err
		}
		v, err := arith(op, l, r)
		if err != nil || v == nil {
			return nil, err
		}
		return ConvertTo(v, t)
	}, nil
}

// compare applies a comparison with host semantics: equality treats nil as
// a value, ordering against nil is false.
func compare(op expr.BinaryOp, l, r any) (any, error) {
	switch op {
	case expr.OpEqual:
		return Equal(l, r), nil
	case expr.OpNotEqual:
		return !Equal(l, r), nil
	}
	if normalize(l) == nil || normalize(r) == nil {
		return false, nil
	}
	c, err := Compare(l, r)
	if err != nil {
		return nil, err
	}
	switch op {
	case expr.OpLessThan:
		return c < 0, nil
	case expr.OpLessThanOrEqual:
		return c <= 0, nil
	case expr.OpGreaterThan:
		return c > 0, nil
	case expr.OpGreaterThanOrEqual:
		return c >= 0, nil
	}
	return nil, fmt.Errorf("unsupported comparison %s", op)
}

func compileCall(n *expr.Call) (Func, error) {
	args := make([]Func, len(n.Args))
	for i, a := range n.Args {
		f, err := Compile(a)
		if err != nil {
			return nil, err
		}
		args[i] = f
	}
	var obj Func
	if n.Object != nil {
		f, err := Compile(n.Object)
		if err != nil {
			return nil, err
		}
		obj = f
	}
	name, t := n.Method, n.T
	return func(env *Env) (any, error) {
		vals := make([]any, len(args))
		for i, f := range args {
			v, err := f(env)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		var (
			out any
			err error
		)
		if obj == nil {
			out, err = callStatic(name, vals)
		} else {
			recv, rerr := obj(env)
			if rerr != nil {
				return nil, rerr
			}
			out, err = callMethod(recv, name, vals)
		}
		if err != nil || out == nil {
			return nil, err
		}
		return ConvertTo(out, t)
	}, nil
}

func compileNew(n *expr.New) (Func, error) {
	t := n.Type()
	if t.Kind() != reflect.Struct || t.NumField() != len(n.Args) {
		return nil, fmt.Errorf("tuple type %v does not match %d members", t, len(n.Args))
	}
	args := make([]Func, len(n.Args))
	for i, a := range n.Args {
		f, err := Compile(a)
		if err != nil {
			return nil, err
		}
		args[i] = f
	}
	return func(env *Env) (any, error) {
		out := reflect.New(t).Elem()
		for i, f := range args {
			v, err := f(env)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			field := out.Field(i)
			cv, err := ConvertTo(v, field.Type())
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", t.Field(i).Name, err)
			}
			if cv != nil {
				field.Set(reflect.ValueOf(cv))
			}
		}
		return out.Interface(), nil
	}, nil
}

// compileSubQuery evaluates in memory unless the model reads from the store.
func compileSubQuery(m *expr.QueryModel) (Func, error) {
	if NeedsServer(m) {
		return func(env *Env) (any, error) { return runOnServer(env, m) }, nil
	}
	f, err := CompileModel(m)
	if err != nil {
		return nil, err
	}
	return func(env *Env) (any, error) { return f(env.Child()) }, nil
}

func runOnServer(env *Env, m *expr.QueryModel) (any, error) {
	if env.Runner == nil {
		return nil, fmt.Errorf("query over %v needs a store but no runner is configured", m.MainFrom.ItemType)
	}
	return env.Runner.RunSubQuery(env, m)
}

// NeedsServer reports whether evaluating m reads entities from the store.
func NeedsServer(m *expr.QueryModel) bool {
	if m == nil {
		return false
	}
	for _, s := range m.Sources() {
		if s == nil {
			continue
		}
		switch f := s.FromExpr.(type) {
		case *expr.EntityQueryable:
			return true
		case *expr.SubQuery:
			if NeedsServer(f.Model) {
				return true
			}
		}
	}
	return false
}
