package ir

import (
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roach88/relq/internal/expr"
)

// EncodeQuery converts m into its canonical IRValue tree.
//
// Query sources are numbered in the order they are declared, so the tree
// depends on the shape of the query and never on pointer identity.
// Parameters are encoded by name and type only.
func EncodeQuery(m *expr.QueryModel) (IRObject, error) {
	e := &encoder{sources: map[*expr.QuerySource]int{}}
	return e.model(m)
}

type encoder struct {
	sources map[*expr.QuerySource]int
}

func (e *encoder) model(m *expr.QueryModel) (IRObject, error) {
	if m == nil || m.MainFrom == nil {
		return nil, fmt.Errorf("query model without a main source")
	}
	from, err := e.declare(m.MainFrom)
	if err != nil {
		return nil, err
	}

	body := make(IRArray, 0, len(m.Body))
	for i, c := range m.Body {
		clause, err := e.clause(c)
		if err != nil {
			return nil, fmt.Errorf("body[%d]: %w", i, err)
		}
		body = append(body, clause)
	}

	obj := Obj(O("from", from), O("body", body))
	if m.Selector != nil {
		sel, err := e.expr(m.Selector)
		if err != nil {
			return nil, fmt.Errorf("select: %w", err)
		}
		obj["select"] = sel
	}

	ops := make(IRArray, 0, len(m.ResultOperators))
	for i, op := range m.ResultOperators {
		v, err := e.resultOperator(op)
		if err != nil {
			return nil, fmt.Errorf("result operator %d: %w", i, err)
		}
		ops = append(ops, v)
	}
	obj["ops"] = ops
	return obj, nil
}

// declare numbers src and encodes where its items come from.
func (e *encoder) declare(src *expr.QuerySource) (IRObject, error) {
	if src == nil {
		return nil, fmt.Errorf("nil query source")
	}
	idx := len(e.sources)
	e.sources[src] = idx
	from, err := e.expr(src.FromExpr)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	return Obj(
		O("source", IRInt(idx)),
		O("name", IRString(src.Name)),
		O("type", IRString(typeName(src.ItemType))),
		O("in", from),
	), nil
}

func (e *encoder) clause(c expr.BodyClause) (IRValue, error) {
	switch cl := c.(type) {
	case *expr.WhereClause:
		p, err := e.expr(cl.Predicate)
		if err != nil {
			return nil, err
		}
		return Obj(O("kind", IRString("where")), O("predicate", p)), nil
	case *expr.JoinClause:
		src, err := e.declare(cl.Source)
		if err != nil {
			return nil, err
		}
		outer, err := e.expr(cl.OuterKey)
		if err != nil {
			return nil, err
		}
		inner, err := e.expr(cl.InnerKey)
		if err != nil {
			return nil, err
		}
		return Obj(O("kind", IRString("join")), O("source", src), O("outer", outer), O("inner", inner)), nil
	case *expr.AdditionalFromClause:
		src, err := e.declare(cl.Source)
		if err != nil {
			return nil, err
		}
		return Obj(O("kind", IRString("from")), O("source", src)), nil
	case *expr.OrderByClause:
		orderings := make(IRArray, 0, len(cl.Orderings))
		for _, o := range cl.Orderings {
			v, err := e.expr(o.Expr)
			if err != nil {
				return nil, err
			}
			orderings = append(orderings, Obj(O("expr", v), O("desc", IRBool(o.Descending))))
		}
		return Obj(O("kind", IRString("order")), O("orderings", orderings)), nil
	}
	return nil, fmt.Errorf("unknown body clause %T", c)
}

func (e *encoder) resultOperator(op expr.ResultOperator) (IRValue, error) {
	kind := func(k string, pairs ...IRPair) IRObject {
		return Obj(append(pairs, O("op", IRString(k)))...)
	}
	switch o := op.(type) {
	case *expr.First:
		return kind("first", O("or_default", IRBool(o.OrDefault))), nil
	case *expr.Single:
		return kind("single", O("or_default", IRBool(o.OrDefault))), nil
	case *expr.Take:
		n, err := e.expr(o.Count)
		if err != nil {
			return nil, err
		}
		return kind("take", O("count", n)), nil
	case *expr.Skip:
		n, err := e.expr(o.Count)
		if err != nil {
			return nil, err
		}
		return kind("skip", O("count", n)), nil
	case *expr.Count:
		return kind("count"), nil
	case *expr.Any:
		return kind("any"), nil
	case *expr.All:
		p, err := e.expr(o.Predicate)
		if err != nil {
			return nil, err
		}
		return kind("all", O("predicate", p)), nil
	case *expr.Contains:
		item, err := e.expr(o.Item)
		if err != nil {
			return nil, err
		}
		return kind("contains", O("item", item)), nil
	case *expr.Distinct:
		return kind("distinct"), nil
	case *expr.Aggregate:
		return kind("aggregate", O("func", IRString(o.Func.String()))), nil
	case *expr.GroupBy:
		key, err := e.expr(o.Key)
		if err != nil {
			return nil, err
		}
		elem, err := e.expr(o.Element)
		if err != nil {
			return nil, err
		}
		return kind("group", O("key", key), O("element", elem)), nil
	case *expr.Include:
		return kind("include", O("navigation", IRString(o.Navigation))), nil
	}
	return nil, fmt.Errorf("unknown result operator %T", op)
}

func (e *encoder) expr(x expr.Expr) (IRValue, error) {
	node := func(kind string, t reflect.Type, pairs ...IRPair) IRObject {
		return Obj(append(pairs, O("kind", IRString(kind)), O("type", IRString(typeName(t))))...)
	}
	switch n := x.(type) {
	case nil:
		return Obj(O("kind", IRString("none"))), nil
	case *expr.Constant:
		v, err := encodeValue(reflect.ValueOf(n.Value))
		if err != nil {
			return nil, err
		}
		return node("const", n.Type(), O("value", v)), nil
	case *expr.Parameter:
		return node("param", n.T, O("name", IRString(n.Name))), nil
	case *expr.QuerySourceRef:
		idx, ok := e.sources[n.Source]
		if !ok {
			// A reference to a source declared outside the encoded model.
			idx = len(e.sources)
			e.sources[n.Source] = idx
		}
		return node("ref", n.Type(), O("source", IRInt(idx))), nil
	case *expr.Member:
		obj, err := e.expr(n.Object)
		if err != nil {
			return nil, err
		}
		return node("member", n.T, O("object", obj), O("name", IRString(n.Name))), nil
	case *expr.Binary:
		l, err := e.expr(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := e.expr(n.Right)
		if err != nil {
			return nil, err
		}
		return node("binary", n.Type(), O("op", IRString(n.Op.String())), O("left", l), O("right", r)), nil
	case *expr.Unary:
		operand, err := e.expr(n.Operand)
		if err != nil {
			return nil, err
		}
		return node("unary", n.Type(), O("op", IRString(n.Op.String())), O("operand", operand)), nil
	case *expr.Conditional:
		test, err := e.expr(n.Test)
		if err != nil {
			return nil, err
		}
		a, err := e.expr(n.IfTrue)
		if err != nil {
			return nil, err
		}
		b, err := e.expr(n.IfFalse)
		if err != nil {
			return nil, err
		}
		return node("cond", n.Type(), O("test", test), O("then", a), O("else", b)), nil
	case *expr.Call:
		obj, err := e.expr(n.Object)
		if err != nil {
			return nil, err
		}
		args, err := e.exprs(n.Args)
		if err != nil {
			return nil, err
		}
		return node("call", n.T, O("object", obj), O("method", IRString(n.Method)), O("args", args)), nil
	case *expr.New:
		args, err := e.exprs(n.Args)
		if err != nil {
			return nil, err
		}
		members := make(IRArray, len(n.Members))
		for i, m := range n.Members {
			members[i] = IRString(m)
		}
		return node("new", n.Type(), O("members", members), O("args", args)), nil
	case *expr.SubQuery:
		m, err := e.model(n.Model)
		if err != nil {
			return nil, err
		}
		return node("subquery", nil, O("model", m)), nil
	case *expr.EntityQueryable:
		obj := node("entities", n.Entity)
		if n.SQL != nil {
			args := make(IRArray, len(n.SQL.Args))
			for i, a := range n.SQL.Args {
				v, err := encodeValue(reflect.ValueOf(a))
				if err != nil {
					return nil, fmt.Errorf("sql arg %d: %w", i, err)
				}
				args[i] = v
			}
			obj["sql"] = Obj(O("text", IRString(n.SQL.Text)), O("args", args))
		}
		return obj, nil
	case *expr.ValueBufferRead:
		return node("slot", n.T, O("index", IRInt(n.Index))), nil
	}
	return nil, fmt.Errorf("unknown expression %T", x)
}

func (e *encoder) exprs(xs []expr.Expr) (IRArray, error) {
	out := make(IRArray, len(xs))
	for i, x := range xs {
		v, err := e.expr(x)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
)

// encodeValue gives a captured host value its canonical form. Values that
// cannot be represented losslessly (floats) are tagged strings.
func encodeValue(v reflect.Value) (IRValue, error) {
	tagged := func(tag string, s string) IRObject { return Obj(O(tag, IRString(s))) }
	if !v.IsValid() {
		return Obj(O("null", IRBool(true))), nil
	}
	switch v.Type() {
	case timeType:
		return tagged("time", v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)), nil
	case decimalType:
		return tagged("decimal", v.Interface().(decimal.Decimal).String()), nil
	case uuidType:
		return tagged("uuid", v.Interface().(uuid.UUID).String()), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return IRBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IRInt(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := v.Uint(); u <= math.MaxInt64 {
			return IRInt(int64(u)), nil
		}
		return tagged("uint", strconv.FormatUint(v.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return tagged("float", strconv.FormatFloat(v.Float(), 'g', -1, 64)), nil
	case reflect.String:
		return IRString(v.String()), nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return Obj(O("null", IRBool(true))), nil
		}
		return encodeValue(v.Elem())
	case reflect.Slice:
		if v.IsNil() {
			return Obj(O("null", IRBool(true))), nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return tagged("bytes", hex.EncodeToString(v.Bytes())), nil
		}
		fallthrough
	case reflect.Array:
		out := make(IRArray, v.Len())
		for i := range out {
			elem, err := encodeValue(v.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Struct:
		fields := IRObject{}
		for i := 0; i < v.NumField(); i++ {
			f := v.Type().Field(i)
			if !f.IsExported() {
				continue
			}
			fv, err := encodeValue(v.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			fields[f.Name] = fv
		}
		return Obj(O("struct", IRString(typeName(v.Type()))), O("fields", fields)), nil
	}
	return nil, fmt.Errorf("cannot fingerprint value of type %v", v.Type())
}

// typeName qualifies named types with their package path so that two
// Customer types in different packages never collide.
func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
