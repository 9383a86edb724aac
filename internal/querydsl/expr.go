package querydsl

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)*$`)

var (
	stringType = reflect.TypeOf("")
	intType    = reflect.TypeOf(0)
	boolType   = reflect.TypeOf(false)
)

// methodTypes holds the result types of the string methods both the SQL
// translator and the client evaluator know.
var methodTypes = map[string]reflect.Type{
	"ToUpper":   stringType,
	"ToLower":   stringType,
	"TrimSpace": stringType,
	"Reverse":   stringType,
	"Len":       intType,
	"Contains":  boolType,
	"HasPrefix": boolType,
	"HasSuffix": boolType,
}

var funcTypes = map[string]reflect.Type{
	"strings.ToUpper": stringType,
	"strings.ToLower": stringType,
	"len":             intType,
}

var binaryOps = map[string]func(l, r expr.Expr) *expr.Binary{
	"eq":       expr.Eq,
	"ne":       expr.Ne,
	"lt":       expr.Lt,
	"le":       expr.Le,
	"gt":       expr.Gt,
	"ge":       expr.Ge,
	"add":      expr.Add,
	"sub":      expr.Sub,
	"mul":      expr.Mul,
	"div":      expr.Div,
	"mod":      expr.Mod,
	"coalesce": expr.Coalesce,
}

func (d *decoder) expr(n *yaml.Node, sc *scope) (expr.Expr, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return d.scalar(n, sc)
	case yaml.SequenceNode:
		return d.call(n, sc)
	case yaml.AliasNode:
		return d.expr(n.Alias, sc)
	}
	return nil, errorf(n, "expression must be a scalar or an [op, args...] list")
}

func (d *decoder) exprs(ns []*yaml.Node, sc *scope) ([]expr.Expr, error) {
	out := make([]expr.Expr, len(ns))
	for i, n := range ns {
		e, err := d.expr(n, sc)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (d *decoder) scalar(n *yaml.Node, sc *scope) (expr.Expr, error) {
	if n.Tag != "!!str" {
		return constant(n)
	}
	if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
		return expr.Const(n.Value), nil
	}
	if name, ok := strings.CutPrefix(n.Value, "$"); ok {
		t, declared := d.params[name]
		if !declared {
			return nil, errorf(n, "undeclared parameter %q", name)
		}
		return expr.Param(name, t), nil
	}
	if pathPattern.MatchString(n.Value) {
		if e, ok, err := d.path(n, sc); ok || err != nil {
			return e, err
		}
	}
	return expr.Const(n.Value), nil
}

func constant(n *yaml.Node) (expr.Expr, error) {
	if n.Tag == "!!null" {
		return expr.Const(nil), nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, errorf(n, "%v", err)
	}
	return expr.Const(v), nil
}

// path resolves a member path rooted at a visible source. ok is false when
// the first segment names no source.
func (d *decoder) path(n *yaml.Node, sc *scope) (expr.Expr, bool, error) {
	parts := strings.Split(n.Value, ".")
	src := sc.lookup(parts[0])
	if src == nil {
		return nil, false, nil
	}
	var e expr.Expr = expr.Ref(src)
	for i, name := range parts[1:] {
		if i == 0 && name == "Key" && src.ItemType == expr.GroupingType {
			e = expr.Key(src)
			continue
		}
		next, err := member(e, name)
		if err != nil {
			return nil, true, errorf(n, "%s: %v", n.Value, err)
		}
		e = next
	}
	return e, true, nil
}

// member accesses a field by its host name or, for schema-style names,
// by the title-cased field name the CUE loader generates.
func member(e expr.Expr, name string) (expr.Expr, error) {
	t := expr.UnwrapNullable(e.Type())
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%v has no fields", e.Type())
	}
	for _, candidate := range []string{name, model.FieldName(name)} {
		if f, ok := t.FieldByName(candidate); ok {
			return expr.FieldT(e, candidate, f.Type), nil
		}
	}
	return nil, fmt.Errorf("%v has no field %s", t, name)
}

func (d *decoder) call(n *yaml.Node, sc *scope) (expr.Expr, error) {
	if len(n.Content) == 0 || n.Content[0].Kind != yaml.ScalarNode {
		return nil, errorf(n, "operator list must start with an operator name")
	}
	op, args := n.Content[0].Value, n.Content[1:]
	arity := func(want int) error {
		if len(args) != want {
			return errorf(n, "%s takes %d arguments, got %d", op, want, len(args))
		}
		return nil
	}

	if build, ok := binaryOps[op]; ok {
		if err := arity(2); err != nil {
			return nil, err
		}
		xs, err := d.exprs(args, sc)
		if err != nil {
			return nil, err
		}
		return build(xs[0], xs[1]), nil
	}

	switch op {
	case "and", "or":
		if len(args) < 2 {
			return nil, errorf(n, "%s takes at least 2 arguments", op)
		}
		xs, err := d.exprs(args, sc)
		if err != nil {
			return nil, err
		}
		if op == "and" {
			return expr.And(xs[0], xs[1:]...), nil
		}
		return expr.Or(xs[0], xs[1:]...), nil

	case "not", "neg":
		if err := arity(1); err != nil {
			return nil, err
		}
		x, err := d.expr(args[0], sc)
		if err != nil {
			return nil, err
		}
		if op == "not" {
			return expr.Not(x), nil
		}
		return expr.Neg(x), nil

	case "if":
		if err := arity(3); err != nil {
			return nil, err
		}
		xs, err := d.exprs(args, sc)
		if err != nil {
			return nil, err
		}
		return expr.Cond(xs[0], xs[1], xs[2]), nil

	case "const":
		if err := arity(1); err != nil {
			return nil, err
		}
		if args[0].Kind != yaml.ScalarNode {
			return nil, errorf(args[0], "const takes a scalar")
		}
		return constant(args[0])

	case "null":
		if err := arity(1); err != nil {
			return nil, err
		}
		t, err := typeArg(args[0])
		if err != nil {
			return nil, err
		}
		return expr.Null(t), nil

	case "convert":
		if err := arity(2); err != nil {
			return nil, err
		}
		x, err := d.expr(args[0], sc)
		if err != nil {
			return nil, err
		}
		t, err := typeArg(args[1])
		if err != nil {
			return nil, err
		}
		return expr.Convert(x, t), nil

	case "call":
		if len(args) < 2 || args[1].Kind != yaml.ScalarNode {
			return nil, errorf(n, "call takes a receiver, a method name and arguments")
		}
		recv, err := d.expr(args[0], sc)
		if err != nil {
			return nil, err
		}
		method := args[1].Value
		t, ok := methodType(recv.Type(), method)
		if !ok {
			return nil, errorf(args[1], "unknown method %s on %v", method, recv.Type())
		}
		xs, err := d.exprs(args[2:], sc)
		if err != nil {
			return nil, err
		}
		return expr.Method(recv, method, t, xs...), nil

	case "fn":
		if len(args) < 1 || args[0].Kind != yaml.ScalarNode {
			return nil, errorf(n, "fn takes a function name and arguments")
		}
		name := args[0].Value
		xs, err := d.exprs(args[1:], sc)
		if err != nil {
			return nil, err
		}
		t, ok := funcTypes[name]
		if name == "math.Abs" && len(xs) == 1 {
			t, ok = xs[0].Type(), true
		}
		if !ok {
			return nil, errorf(args[0], "unknown function %s", name)
		}
		return expr.Func(name, t, xs...), nil

	case "new":
		if err := arity(1); err != nil {
			return nil, err
		}
		m := args[0]
		if m.Kind != yaml.MappingNode || len(m.Content) == 0 {
			return nil, errorf(m, "new takes a non-empty mapping of members")
		}
		pairs := make([]expr.Pair, 0, len(m.Content)/2)
		for i := 0; i+1 < len(m.Content); i += 2 {
			x, err := d.expr(m.Content[i+1], sc)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, expr.P(model.FieldName(m.Content[i].Value), x))
		}
		return expr.Tuple(pairs...), nil

	case "query":
		if err := arity(1); err != nil {
			return nil, err
		}
		sub, err := d.document(args[0], sc)
		if err != nil {
			return nil, err
		}
		return sub.Sub(), nil

	case "key":
		if err := arity(1); err != nil {
			return nil, err
		}
		g := sc.lookup(args[0].Value)
		if g == nil || g.ItemType != expr.GroupingType {
			return nil, errorf(args[0], "%q is not a grouping source", args[0].Value)
		}
		return expr.Key(g), nil
	}
	return nil, errorf(n.Content[0], "unknown operator %q", op)
}

func typeArg(n *yaml.Node) (reflect.Type, error) {
	t, ok := model.TypeByName(n.Value)
	if n.Kind != yaml.ScalarNode || !ok {
		return nil, errorf(n, "unknown type %q", n.Value)
	}
	return t, nil
}

// methodType returns the result type of calling name on a receiver of type
// recv: a host method's first result, else a known string method.
func methodType(recv reflect.Type, name string) (reflect.Type, bool) {
	if t := expr.UnwrapNullable(recv); t != nil {
		if m, ok := t.MethodByName(name); ok && m.Type.NumOut() > 0 {
			return m.Type.Out(0), true
		}
	}
	t, ok := methodTypes[name]
	return t, ok
}
