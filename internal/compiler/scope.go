package compiler

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/shaper"
)

// binding is what a query source resolves to inside one compile.
//
//	entity   rows of an entity type read from table alias
//	scalar   a single translated value per row (derived scalar source)
//	tuple    an anonymous tuple per row, one derived column per member
//	grouping a server-side GROUP BY lifted from a nested query
type binding struct {
	source *expr.QuerySource
	sel    *queryir.SelectExpression
	alias  string

	entity        *model.EntityType
	nonComposable bool
	nullable      bool // reached through a LEFT JOIN
	derived       bool // rows come from a nested select, already filtered

	scalar queryir.Expression

	tuple   *expr.New
	members map[string]*queryir.Column

	grouping *groupingBinding

	materializer *shaper.EntityMaterializer
}

// groupingBinding describes a source whose items are the groups of a
// nested query lifted into the enclosing select.
type groupingBinding struct {
	key     expr.Expr
	element expr.Expr
}

// column returns the column backing property name of an entity binding.
func (b *binding) column(name string) queryir.Expression {
	if b.entity == nil {
		return nil
	}
	p := b.entity.FindProperty(name)
	if p == nil {
		return nil
	}
	t := p.Type
	if b.nullable && !expr.IsNullable(t) {
		t = reflect.PointerTo(t)
	}
	return &queryir.Column{Table: b.alias, Name: p.Column, T: t}
}

// tupleParts returns the member columns of a tuple binding in member
// order.
func (b *binding) tupleParts() []queryir.Expression {
	parts := make([]queryir.Expression, len(b.tuple.Members))
	for i, name := range b.tuple.Members {
		parts[i] = b.members[name]
	}
	return parts
}

// scope maps query sources to bindings. Nested query models get a child
// scope so that correlated references resolve to the enclosing select.
type scope struct {
	parent   *scope
	bindings map[*expr.QuerySource]*binding
	declared map[*expr.QuerySource]bool
}

func newScope(parent *scope) *scope {
	return &scope{
		parent:   parent,
		bindings: map[*expr.QuerySource]*binding{},
		declared: map[*expr.QuerySource]bool{},
	}
}

// declare records the sources of a query model, bound or not. References
// to undeclared sources are correlations with an enclosing execution.
func (s *scope) declare(m *expr.QueryModel) {
	for _, src := range m.Sources() {
		s.declared[src] = true
	}
}

func (s *scope) declares(src *expr.QuerySource) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.declared[src] {
			return true
		}
	}
	return false
}

// isolated returns a scope with no bindings that still knows every source
// declared around s. Derived tables use it: they cannot see the columns of
// the select they are part of.
func (s *scope) isolated() *scope {
	out := newScope(nil)
	for sc := s; sc != nil; sc = sc.parent {
		for src := range sc.declared {
			out.declared[src] = true
		}
	}
	return out
}

func (s *scope) bind(b *binding) {
	s.bindings[b.source] = b
}

// bindAs makes src resolve to an existing binding, e.g. an inlined nested
// query whose items are the items of its own main source.
func (s *scope) bindAs(src *expr.QuerySource, b *binding) {
	s.bindings[src] = b
}

func (s *scope) unbind(src *expr.QuerySource) {
	delete(s.bindings, src)
}

// local returns the binding of src in this scope only.
func (s *scope) local(src *expr.QuerySource) *binding {
	return s.bindings[src]
}

func (s *scope) lookup(src *expr.QuerySource) *binding {
	for sc := s; sc != nil; sc = sc.parent {
		if b, ok := sc.bindings[src]; ok {
			return b
		}
	}
	return nil
}

// navKey identifies the auto-join of one navigation from one binding.
type navKey struct {
	from *binding
	name string
}

// Correlation is an outer value a standalone sub-query reads. The engine
// evaluates Value in the outer environment and passes the result as
// parameter Param.
type Correlation struct {
	Param string
	Expr  expr.Expr
	Value eval.Func
}

// compileContext is the mutable state shared by every visitor of one
// Compile call.
type compileContext struct {
	c      *Compiler
	id     string
	logger *slog.Logger

	aliases map[string]bool

	navJoins    map[navKey]*binding
	navOrder    []navKey
	materialize []*binding

	correlations []Correlation
	correlated   map[string]string

	clientExprs []string

	// err is the first hard error raised where translation can only
	// report failure by returning nil (nested sub-queries).
	err error
}

func newCompileContext(c *Compiler, id string) *compileContext {
	return &compileContext{
		c:          c,
		id:         id,
		logger:     c.logger.With("compile_id", id),
		aliases:    map[string]bool{},
		navJoins:   map[navKey]*binding{},
		correlated: map[string]string{},
	}
}

// allocAlias returns a table alias unique within the compile: the source
// name when it has one, else the first letter of the table, suffixed with
// a counter on collision.
func (ctx *compileContext) allocAlias(name, table string) string {
	base := name
	if base == "" && table != "" {
		base = strings.ToLower(table[:1])
	}
	if base == "" {
		base = "t"
	}
	alias := base
	for i := 0; ctx.aliases[alias]; i++ {
		alias = fmt.Sprintf("%s%d", base, i)
	}
	ctx.aliases[alias] = true
	return alias
}

// mark is a rollback point for speculative translation.
type mark struct {
	sel          *queryir.SelectExpression
	snapshot     *queryir.SelectExpression
	navJoins     int
	materialized int
}

func (ctx *compileContext) mark(sel *queryir.SelectExpression) mark {
	return mark{sel: sel, snapshot: sel.Clone(), navJoins: len(ctx.navOrder), materialized: len(ctx.materialize)}
}

// rollback restores the select and forgets joins and materializers
// created since m. Joins added to enclosing selects stay: their tables
// are still there.
func (ctx *compileContext) rollback(m mark) {
	m.sel.Restore(m.snapshot)
	kept := ctx.navOrder[:m.navJoins]
	for _, k := range ctx.navOrder[m.navJoins:] {
		if ctx.navJoins[k].sel != m.sel {
			kept = append(kept, k)
			continue
		}
		delete(ctx.navJoins, k)
	}
	ctx.navOrder = kept
	materialized := ctx.materialize[:m.materialized]
	for _, b := range ctx.materialize[m.materialized:] {
		if b.sel != m.sel {
			materialized = append(materialized, b)
			continue
		}
		b.materializer = nil
	}
	ctx.materialize = materialized

	live := make(map[*shaper.EntityMaterializer]bool, len(materialized))
	for _, b := range materialized {
		live[b.materializer] = true
	}
	for _, b := range materialized {
		includes := b.materializer.Includes[:0]
		for _, inc := range b.materializer.Includes {
			if live[inc.Target] {
				includes = append(includes, inc)
			}
		}
		b.materializer.Includes = includes
	}
}

// fail keeps the first hard error raised by a nested translation.
func (ctx *compileContext) fail(err error) {
	if ctx.err == nil {
		ctx.err = err
	}
}

// correlate turns an expression over sources bound outside this compile
// into a parameter.
func (ctx *compileContext) correlate(e expr.Expr) queryir.Expression {
	t := e.Type()
	if ctx.c.mappings.FindMapping(t) == nil {
		return nil
	}
	key := expr.Format(e)
	name, ok := ctx.correlated[key]
	if !ok {
		f, err := eval.Compile(e)
		if err != nil {
			return nil
		}
		name = fmt.Sprintf("$outer%d", len(ctx.correlations))
		ctx.correlated[key] = name
		ctx.correlations = append(ctx.correlations, Correlation{Param: name, Expr: e, Value: f})
	}
	return &queryir.Parameter{Name: name, T: t}
}
