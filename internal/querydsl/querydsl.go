package querydsl

import (
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
)

// Query is a decoded query document.
type Query struct {
	Model *expr.QueryModel

	// Params holds the declared type of every parameter, including the
	// slice types of parameter sources.
	Params map[string]reflect.Type
}

// Error reports a malformed document, with the line of the offending node.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func errorf(n *yaml.Node, format string, args ...any) error {
	line := 0
	if n != nil {
		line = n.Line
	}
	return &Error{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// ParseFile reads and decodes a query document.
func ParseFile(path string, m *model.Model) (*Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	return Parse(data, m)
}

// Parse decodes a query document against the entity types of m.
func Parse(src []byte, m *model.Model) (*Query, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &Error{Msg: "empty query document"}
	}
	return Decode(root.Content[0], m)
}

// Decode decodes a query document already parsed into a node, such as the
// query of a harness scenario.
func Decode(n *yaml.Node, m *model.Model) (*Query, error) {
	if m == nil {
		return nil, &Error{Msg: "no model to resolve entities against"}
	}
	d := &decoder{model: m, params: map[string]reflect.Type{}}
	qm, err := d.document(n, nil)
	if err != nil {
		return nil, err
	}
	return &Query{Model: qm, Params: d.params}, nil
}

// Bind converts raw parameter values, as decoded from YAML or JSON, to the
// declared parameter types. Every declared parameter must be supplied and
// no undeclared one may be.
func (q *Query) Bind(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(q.Params))
	for _, name := range slices.Sorted(maps.Keys(q.Params)) {
		v, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q", name)
		}
		cv, err := convertParam(v, q.Params[name])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = cv
	}
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		if _, ok := q.Params[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}
	return out, nil
}

func convertParam(v any, t reflect.Type) (any, error) {
	if t.Kind() != reflect.Slice || t.Elem().Kind() == reflect.Uint8 {
		return eval.ConvertTo(v, t)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := reflect.MakeSlice(t, len(items), len(items))
	for i, item := range items {
		cv, err := eval.ConvertTo(item, t.Elem())
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(cv))
	}
	return out.Interface(), nil
}

type document struct {
	From   yaml.Node         `yaml:"from"`
	Params map[string]string `yaml:"params"`
	Body   []yaml.Node       `yaml:"body"`
	Select yaml.Node         `yaml:"select"`
	Ops    []yaml.Node       `yaml:"ops"`
}

type clause struct {
	Where   yaml.Node   `yaml:"where"`
	Join    yaml.Node   `yaml:"join"`
	On      []yaml.Node `yaml:"on"`
	From    yaml.Node   `yaml:"from"`
	OrderBy yaml.Node   `yaml:"orderBy"`
	ThenBy  yaml.Node   `yaml:"thenBy"`
	Desc    bool        `yaml:"desc"`
}

type sourceSpec struct {
	Entity string    `yaml:"entity"`
	SQL    string    `yaml:"sql"`
	Args   []any     `yaml:"args"`
	Query  yaml.Node `yaml:"query"`
	Group  string    `yaml:"group"`
	Param  string    `yaml:"param"`
	Type   string    `yaml:"type"`
}

type decoder struct {
	model  *model.Model
	params map[string]reflect.Type
}

// scope holds the sources visible to an expression. Nested documents see
// the sources of every enclosing document.
type scope struct {
	parent  *scope
	sources map[string]*expr.QuerySource
}

func (s *scope) lookup(name string) *expr.QuerySource {
	for ; s != nil; s = s.parent {
		if src, ok := s.sources[name]; ok {
			return src
		}
	}
	return nil
}

// checkKeys rejects mapping keys outside allowed, catching typos such as
// "orderby" for "orderBy".
func checkKeys(n *yaml.Node, allowed ...string) error {
	if n.Kind != yaml.MappingNode {
		return errorf(n, "expected a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if !slices.Contains(allowed, k.Value) {
			return errorf(k, "unknown field %q (expected one of %s)", k.Value, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func present(n *yaml.Node) bool { return n.Kind != 0 }

func (d *decoder) document(n *yaml.Node, parent *scope) (*expr.QueryModel, error) {
	if err := checkKeys(n, "from", "params", "body", "select", "ops"); err != nil {
		return nil, err
	}
	var doc document
	if err := n.Decode(&doc); err != nil {
		return nil, errorf(n, "%v", err)
	}
	if !present(&doc.From) {
		return nil, errorf(n, "from is required")
	}
	for _, name := range slices.Sorted(maps.Keys(doc.Params)) {
		if err := d.declare(n, name, doc.Params[name]); err != nil {
			return nil, err
		}
	}

	sc := &scope{parent: parent, sources: map[string]*expr.QuerySource{}}
	main, err := d.source(&doc.From, sc)
	if err != nil {
		return nil, err
	}
	sc.sources[main.Name] = main
	m := expr.Query(main)

	for i := range doc.Body {
		if err := d.clause(&doc.Body[i], m, sc); err != nil {
			return nil, err
		}
	}
	if present(&doc.Select) {
		sel, err := d.expr(&doc.Select, sc)
		if err != nil {
			return nil, err
		}
		m.Select(sel)
	}
	for i := range doc.Ops {
		if err := d.operator(&doc.Ops[i], m, sc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (d *decoder) declare(n *yaml.Node, name, typeName string) error {
	t, ok := model.TypeByName(typeName)
	if !ok {
		return errorf(n, "parameter %q: unknown type %q", name, typeName)
	}
	return d.declareType(n, name, t)
}

func (d *decoder) declareType(n *yaml.Node, name string, t reflect.Type) error {
	if prev, ok := d.params[name]; ok && prev != t {
		return errorf(n, "parameter %q declared as both %v and %v", name, prev, t)
	}
	d.params[name] = t
	return nil
}

func (d *decoder) source(n *yaml.Node, sc *scope) (*expr.QuerySource, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, errorf(n, "source must be a single `alias: entity` pair")
	}
	alias, v := n.Content[0].Value, n.Content[1]
	if _, dup := sc.sources[alias]; dup {
		return nil, errorf(n, "source %q declared twice", alias)
	}
	if v.Kind == yaml.ScalarNode {
		return d.entity(v, alias, v.Value, "", nil)
	}

	if err := checkKeys(v, "entity", "sql", "args", "query", "group", "param", "type"); err != nil {
		return nil, err
	}
	var spec sourceSpec
	if err := v.Decode(&spec); err != nil {
		return nil, errorf(v, "%v", err)
	}
	switch {
	case spec.Entity != "":
		return d.entity(v, alias, spec.Entity, spec.SQL, spec.Args)
	case present(&spec.Query):
		sub, err := d.document(&spec.Query, sc)
		if err != nil {
			return nil, err
		}
		return expr.FromQuery(alias, sub), nil
	case spec.Group != "":
		g := sc.lookup(spec.Group)
		if g == nil || g.ItemType != expr.GroupingType {
			return nil, errorf(v, "%q is not a grouping source", spec.Group)
		}
		return expr.FromGroup(alias, g), nil
	case spec.Param != "":
		elem, ok := model.TypeByName(spec.Type)
		if !ok {
			return nil, errorf(v, "parameter source %q: unknown element type %q", spec.Param, spec.Type)
		}
		t := reflect.SliceOf(elem)
		if err := d.declareType(v, spec.Param, t); err != nil {
			return nil, err
		}
		return expr.FromParameter(alias, spec.Param, t), nil
	}
	return nil, errorf(v, "source %q needs one of entity, query, group or param", alias)
}

func (d *decoder) entity(n *yaml.Node, alias, name, sql string, args []any) (*expr.QuerySource, error) {
	et := d.model.FindEntityTypeByName(name)
	if et == nil {
		return nil, errorf(n, "unknown entity %q", name)
	}
	if sql != "" {
		return expr.FromSQL(alias, et.ClrType, sql, args...), nil
	}
	return expr.FromType(alias, et.ClrType), nil
}

func (d *decoder) clause(n *yaml.Node, m *expr.QueryModel, sc *scope) error {
	if err := checkKeys(n, "where", "join", "on", "from", "orderBy", "thenBy", "desc"); err != nil {
		return err
	}
	var c clause
	if err := n.Decode(&c); err != nil {
		return errorf(n, "%v", err)
	}
	kinds := 0
	for _, k := range []*yaml.Node{&c.Where, &c.Join, &c.From, &c.OrderBy, &c.ThenBy} {
		if present(k) {
			kinds++
		}
	}
	if kinds != 1 {
		return errorf(n, "clause needs exactly one of where, join, from, orderBy or thenBy")
	}

	switch {
	case present(&c.Where):
		p, err := d.expr(&c.Where, sc)
		if err != nil {
			return err
		}
		m.Where(p)

	case present(&c.Join):
		if len(c.On) != 2 {
			return errorf(n, "join needs on: [outerKey, innerKey]")
		}
		src, err := d.source(&c.Join, sc)
		if err != nil {
			return err
		}
		outer, err := d.expr(&c.On[0], sc)
		if err != nil {
			return err
		}
		sc.sources[src.Name] = src
		inner, err := d.expr(&c.On[1], sc)
		if err != nil {
			return err
		}
		m.Join(src, outer, inner)

	case present(&c.From):
		src, err := d.source(&c.From, sc)
		if err != nil {
			return err
		}
		sc.sources[src.Name] = src
		m.SelectMany(src)

	case present(&c.OrderBy):
		key, err := d.expr(&c.OrderBy, sc)
		if err != nil {
			return err
		}
		if c.Desc {
			m.OrderByDescending(key)
		} else {
			m.OrderBy(key)
		}

	case present(&c.ThenBy):
		if !slices.ContainsFunc(m.Body, isOrderBy) {
			return errorf(n, "thenBy without a preceding orderBy")
		}
		key, err := d.expr(&c.ThenBy, sc)
		if err != nil {
			return err
		}
		m.ThenBy(key, c.Desc)
	}
	return nil
}

func isOrderBy(c expr.BodyClause) bool {
	_, ok := c.(*expr.OrderByClause)
	return ok
}

var simpleOperators = map[string]func(*expr.QueryModel) *expr.QueryModel{
	"first":          (*expr.QueryModel).First,
	"firstOrDefault": (*expr.QueryModel).FirstOrDefault,
	"single":         (*expr.QueryModel).Single,
	"count":          (*expr.QueryModel).Count,
	"any":            (*expr.QueryModel).Any,
	"distinct":       (*expr.QueryModel).Distinct,
	"sum":            (*expr.QueryModel).Sum,
	"min":            (*expr.QueryModel).Min,
	"max":            (*expr.QueryModel).Max,
	"average":        (*expr.QueryModel).Average,
}

func (d *decoder) operator(n *yaml.Node, m *expr.QueryModel, sc *scope) error {
	if n.Kind == yaml.ScalarNode {
		apply, ok := simpleOperators[n.Value]
		if !ok {
			return errorf(n, "unknown operator %q", n.Value)
		}
		apply(m)
		return nil
	}
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return errorf(n, "operator must be a name or a single `name: argument` pair")
	}
	name, arg := n.Content[0].Value, n.Content[1]

	switch name {
	case "take", "skip":
		count, err := d.expr(arg, sc)
		if err != nil {
			return err
		}
		if name == "take" {
			m.ResultOperators = append(m.ResultOperators, &expr.Take{Count: count})
		} else {
			m.ResultOperators = append(m.ResultOperators, &expr.Skip{Count: count})
		}

	case "all", "contains":
		e, err := d.expr(arg, sc)
		if err != nil {
			return err
		}
		if name == "all" {
			m.All(e)
		} else {
			m.Contains(e)
		}

	case "include":
		if arg.Kind != yaml.ScalarNode || arg.Value == "" {
			return errorf(arg, "include needs a navigation name")
		}
		m.Include(arg.Value)

	case "groupBy":
		keyNode, elemNode := arg, (*yaml.Node)(nil)
		if arg.Kind == yaml.MappingNode {
			if err := checkKeys(arg, "key", "element"); err != nil {
				return err
			}
			keyNode = nil
			for i := 0; i+1 < len(arg.Content); i += 2 {
				switch arg.Content[i].Value {
				case "key":
					keyNode = arg.Content[i+1]
				case "element":
					elemNode = arg.Content[i+1]
				}
			}
			if keyNode == nil {
				return errorf(arg, "groupBy needs a key")
			}
		}
		key, err := d.expr(keyNode, sc)
		if err != nil {
			return err
		}
		var elem expr.Expr
		if elemNode != nil {
			if elem, err = d.expr(elemNode, sc); err != nil {
				return err
			}
		}
		m.GroupBy(key, elem)

	default:
		return errorf(n.Content[0], "unknown operator %q", name)
	}
	return nil
}
