package eval

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/relq/internal/expr"
)

// item is one element flowing through a query model: the environment that
// binds its sources and, once the selector ran, its selected value.
type item struct {
	env   *Env
	value any
}

type stage func(env *Env, in []item) ([]item, error)

// CompileModel compiles m into an in-memory evaluation of the whole query.
// Sources backed by the store are fetched through env.Runner. The result
// has m.ResultType(): a typed slice for sequences, a single value
// otherwise.
func CompileModel(m *expr.QueryModel) (Func, error) {
	if m == nil || m.MainFrom == nil {
		return nil, fmt.Errorf("query model has no main source")
	}
	mainSeq, err := compileSequence(m.MainFrom)
	if err != nil {
		return nil, err
	}
	var stages []stage
	for _, c := range m.Body {
		s, err := compileClause(c)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	selector, err := Compile(m.SelectorOrSource())
	if err != nil {
		return nil, err
	}
	finish, err := compileResultOperators(m)
	if err != nil {
		return nil, err
	}
	main := m.MainFrom

	return func(env *Env) (any, error) {
		seq, err := mainSeq(env)
		if err != nil {
			return nil, err
		}
		items := make([]item, len(seq))
		for i, v := range seq {
			items[i] = item{env: bindItem(env, main, v)}
		}
		for _, s := range stages {
			if items, err = s(env, items); err != nil {
				return nil, err
			}
		}
		for i := range items {
			if err := env.Ctx.Err(); err != nil {
				return nil, err
			}
			v, err := selector(items[i].env)
			if err != nil {
				return nil, err
			}
			items[i].value = v
		}
		return finish(env, items)
	}, nil
}

func bindItem(parent *Env, src *expr.QuerySource, v any) *Env {
	child := parent.Child()
	if r, ok := v.(Row); ok {
		child.BindRow(r)
	}
	child.Bind(src, v)
	return child
}

// compileSequence returns a function producing the elements of src.
func compileSequence(src *expr.QuerySource) (func(env *Env) ([]any, error), error) {
	from, err := Compile(src.FromExpr)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	return func(env *Env) ([]any, error) {
		v, err := from(env)
		if err != nil {
			return nil, err
		}
		return elements(v)
	}, nil
}

// elements flattens any slice into []any.
func elements(v any) ([]any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return s, nil
	case []Row:
		out := make([]any, len(s))
		for i, r := range s {
			out[i] = r
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("cannot iterate %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func compileClause(c expr.BodyClause) (stage, error) {
	switch cl := c.(type) {
	case *expr.WhereClause:
		pred, err := Compile(cl.Predicate)
		if err != nil {
			return nil, err
		}
		return func(_ *Env, in []item) ([]item, error) {
			out := in[:0:0]
			for _, it := range in {
				v, err := pred(it.env)
				if err != nil {
					return nil, err
				}
				if Truthy(v) {
					out = append(out, it)
				}
			}
			return out, nil
		}, nil

	case *expr.JoinClause:
		inner, err := compileSequence(cl.Source)
		if err != nil {
			return nil, err
		}
		outerKey, err := Compile(cl.OuterKey)
		if err != nil {
			return nil, err
		}
		innerKey, err := Compile(cl.InnerKey)
		if err != nil {
			return nil, err
		}
		src := cl.Source
		return func(env *Env, in []item) ([]item, error) {
			seq, err := inner(env)
			if err != nil {
				return nil, err
			}
			keys := make([]any, len(seq))
			for i, v := range seq {
				if keys[i], err = innerKey(bindItem(env, src, v)); err != nil {
					return nil, err
				}
			}
			var out []item
			for _, it := range in {
				ok, err := outerKey(it.env)
				if err != nil {
					return nil, err
				}
				if normalize(ok) == nil {
					continue
				}
				for i, v := range seq {
					if Equal(ok, keys[i]) {
						out = append(out, item{env: bindItem(it.env, src, v)})
					}
				}
			}
			return out, nil
		}, nil

	case *expr.AdditionalFromClause:
		seqOf, err := compileSequence(cl.Source)
		if err != nil {
			return nil, err
		}
		src := cl.Source
		return func(_ *Env, in []item) ([]item, error) {
			var out []item
			for _, it := range in {
				seq, err := seqOf(it.env)
				if err != nil {
					return nil, err
				}
				for _, v := range seq {
					out = append(out, item{env: bindItem(it.env, src, v)})
				}
			}
			return out, nil
		}, nil

	case *expr.OrderByClause:
		keys := make([]Func, len(cl.Orderings))
		desc := make([]bool, len(cl.Orderings))
		for i, o := range cl.Orderings {
			f, err := Compile(o.Expr)
			if err != nil {
				return nil, err
			}
			keys[i], desc[i] = f, o.Descending
		}
		return func(_ *Env, in []item) ([]item, error) {
			return sortItems(in, keys, desc)
		}, nil
	}
	return nil, fmt.Errorf("unsupported body clause %T", c)
}

// sortItems stable-sorts by the given keys, nil first.
func sortItems(in []item, keys []Func, desc []bool) ([]item, error) {
	vals := make([][]any, len(in))
	for i, it := range in {
		vals[i] = make([]any, len(keys))
		for k, f := range keys {
			v, err := f(it.env)
			if err != nil {
				return nil, err
			}
			vals[i][k] = v
		}
	}
	idx := make([]int, len(in))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	sort.SliceStable(idx, func(a, b int) bool {
		for k := range keys {
			c, err := compareNulls(vals[idx[a]][k], vals[idx[b]][k])
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if desc[k] {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}
	out := make([]item, len(in))
	for i, j := range idx {
		out[i] = in[j]
	}
	return out, nil
}

// compileResultOperators folds the selected items through the result
// operators of m and shapes the final value.
func compileResultOperators(m *expr.QueryModel) (func(env *Env, items []item) (any, error), error) {
	type op func(env *Env, items []item) ([]item, any, bool, error)

	itemType := m.ItemType()
	var ops []op
	for _, ro := range m.ResultOperators {
		switch o := ro.(type) {
		case *expr.Take, *expr.Skip:
			var count expr.Expr
			take := false
			if t, ok := o.(*expr.Take); ok {
				count, take = t.Count, true
			} else {
				count = o.(*expr.Skip).Count
			}
			n, err := Compile(count)
			if err != nil {
				return nil, err
			}
			ops = append(ops, func(env *Env, items []item) ([]item, any, bool, error) {
				v, err := n(env)
				if err != nil {
					return nil, nil, false, err
				}
				c, err := toInt64(v)
				if err != nil {
					return nil, nil, false, err
				}
				k := int(max(0, min(c, int64(len(items)))))
				if take {
					return items[:k], nil, false, nil
				}
				return items[k:], nil, false, nil
			})

		case *expr.Distinct:
			ops = append(ops, func(_ *Env, items []item) ([]item, any, bool, error) {
				var out []item
				for _, it := range items {
					dup := false
					for _, seen := range out {
						if Equal(seen.value, it.value) {
							dup = true
							break
						}
					}
					if !dup {
						out = append(out, it)
					}
				}
				return out, nil, false, nil
			})

		case *expr.GroupBy:
			key, err := Compile(o.Key)
			if err != nil {
				return nil, err
			}
			elem, err := Compile(o.Element)
			if err != nil {
				return nil, err
			}
			itemType = expr.GroupingType
			ops = append(ops, func(env *Env, items []item) ([]item, any, bool, error) {
				var groups []*expr.Grouping
				for _, it := range items {
					k, err := key(it.env)
					if err != nil {
						return nil, nil, false, err
					}
					e, err := elem(it.env)
					if err != nil {
						return nil, nil, false, err
					}
					var g *expr.Grouping
					for _, existing := range groups {
						if Equal(existing.Key, k) {
							g = existing
							break
						}
					}
					if g == nil {
						g = &expr.Grouping{Key: k}
						groups = append(groups, g)
					}
					g.Elements = append(g.Elements, e)
				}
				out := make([]item, len(groups))
				for i, g := range groups {
					out[i] = item{env: env.Child(), value: g}
				}
				return out, nil, false, nil
			})

		case *expr.Include:
			// Navigations are loaded by the store query; nothing to do here.

		default:
			f, err := compileTerminal(ro, itemType)
			if err != nil {
				return nil, err
			}
			ops = append(ops, func(env *Env, items []item) ([]item, any, bool, error) {
				v, err := f(env, items)
				return nil, v, true, err
			})
		}
	}

	return func(env *Env, items []item) (any, error) {
		for _, o := range ops {
			next, v, done, err := o(env, items)
			if err != nil {
				return nil, err
			}
			if done {
				return v, nil
			}
			items = next
		}
		values := make([]any, len(items))
		for i, it := range items {
			values[i] = it.value
		}
		return TypedSlice(values, itemType)
	}, nil
}

func compileTerminal(ro expr.ResultOperator, itemType reflect.Type) (func(env *Env, items []item) (any, error), error) {
	switch o := ro.(type) {
	case *expr.First:
		return func(_ *Env, items []item) (any, error) {
			if len(items) == 0 {
				if o.OrDefault {
					return zero(itemType), nil
				}
				return nil, ErrNoElements
			}
			return items[0].value, nil
		}, nil
	case *expr.Single:
		return func(_ *Env, items []item) (any, error) {
			switch {
			case len(items) > 1:
				return nil, ErrMoreThanOneElement
			case len(items) == 0 && o.OrDefault:
				return zero(itemType), nil
			case len(items) == 0:
				return nil, ErrNoElements
			}
			return items[0].value, nil
		}, nil
	case *expr.Count:
		return func(_ *Env, items []item) (any, error) { return len(items), nil }, nil
	case *expr.Any:
		return func(_ *Env, items []item) (any, error) { return len(items) > 0, nil }, nil
	case *expr.All:
		pred, err := Compile(o.Predicate)
		if err != nil {
			return nil, err
		}
		return func(_ *Env, items []item) (any, error) {
			for _, it := range items {
				v, err := pred(it.env)
				if err != nil {
					return nil, err
				}
				if !Truthy(v) {
					return false, nil
				}
			}
			return true, nil
		}, nil
	case *expr.Contains:
		target, err := Compile(o.Item)
		if err != nil {
			return nil, err
		}
		return func(env *Env, items []item) (any, error) {
			want, err := target(env)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				if Equal(it.value, want) {
					return true, nil
				}
			}
			return false, nil
		}, nil
	case *expr.Aggregate:
		fn := o.Func
		return func(_ *Env, items []item) (any, error) {
			values := make([]any, len(items))
			for i, it := range items {
				values[i] = it.value
			}
			return Aggregate(fn, values, itemType)
		}, nil
	}
	return nil, fmt.Errorf("unsupported result operator %T", ro)
}

// Aggregate folds values with host semantics: nil values are skipped, Sum
// of nothing is zero, Min/Max/Average of nothing is nil for nullable types
// and ErrNoElements otherwise. Average is float64 (or *float64).
func Aggregate(fn expr.AggregateFunc, values []any, t reflect.Type) (any, error) {
	var acc any
	n := 0
	for _, v := range values {
		if normalize(v) == nil {
			continue
		}
		n++
		if acc == nil {
			acc = normalize(v)
			continue
		}
		switch fn {
		case expr.AggSum, expr.AggAverage:
			s, err := arith(expr.OpAdd, acc, v)
			if err != nil {
				return nil, err
			}
			acc = s
		case expr.AggMin, expr.AggMax:
			c, err := Compare(v, acc)
			if err != nil {
				return nil, err
			}
			if (fn == expr.AggMin && c < 0) || (fn == expr.AggMax && c > 0) {
				acc = normalize(v)
			}
		}
	}
	if fn == expr.AggAverage {
		resultType := reflect.TypeOf(float64(0))
		if expr.IsNullable(t) {
			resultType = reflect.PointerTo(resultType)
		}
		if n == 0 {
			if expr.IsNullable(t) {
				return zero(resultType), nil
			}
			return nil, ErrNoElements
		}
		sum, err := toFloat64(acc)
		if err != nil {
			return nil, err
		}
		return ConvertTo(sum/float64(n), resultType)
	}
	if n == 0 {
		if fn == expr.AggSum {
			return ConvertTo(int64(0), expr.UnwrapNullable(t))
		}
		if expr.IsNullable(t) {
			return zero(t), nil
		}
		return nil, ErrNoElements
	}
	return ConvertTo(acc, t)
}

func zero(t reflect.Type) any {
	if t == nil {
		return nil
	}
	return reflect.Zero(t).Interface()
}

// TypedSlice copies values into a slice of t. A nil t yields []any.
func TypedSlice(values []any, t reflect.Type) (any, error) {
	if t == nil || t.Kind() == reflect.Interface {
		return values, nil
	}
	if isPolymorphic(values, t) {
		return values, nil
	}
	out := reflect.MakeSlice(reflect.SliceOf(t), len(values), len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(t) {
			cv, err := ConvertTo(v, t)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if cv == nil {
				continue
			}
			rv = reflect.ValueOf(cv)
		}
		out.Index(i).Set(rv)
	}
	return out.Interface(), nil
}

// isPolymorphic reports whether some element is a derived entity value
// embedding t rather than a t itself. Such results cannot be held in a
// []t without losing the concrete type, so they stay []any.
func isPolymorphic(values []any, t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for _, v := range values {
		if v == nil {
			continue
		}
		vt := reflect.TypeOf(v)
		if vt != t && vt.Kind() == reflect.Struct && embeds(vt, t) {
			return true
		}
	}
	return false
}

func embeds(outer, inner reflect.Type) bool {
	for i := 0; i < outer.NumField(); i++ {
		f := outer.Field(i)
		if !f.Anonymous {
			continue
		}
		if f.Type == inner || (f.Type.Kind() == reflect.Struct && embeds(f.Type, inner)) {
			return true
		}
	}
	return false
}
