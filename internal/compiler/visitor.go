package compiler

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/shaper"
)

// errClientOnly reports that the query model cannot be bound to a select
// at all. Top-level compiles fall back to evaluating the whole model on
// the client; nested visits treat it as "not liftable".
var errClientOnly = errors.New("query model requires client evaluation")

// RowsParam is the parameter through which the engine hands the shaped
// rows of the server part to the client part of a query.
const RowsParam = "$rows"

var (
	rowType  = reflect.TypeOf(eval.Row{})
	rowsType = reflect.TypeOf([]eval.Row(nil))
)

// queryModelVisitor compiles one query model into one select. Nested
// query models get their own visitor (and select) unless they are inlined
// into the enclosing one.
type queryModelVisitor struct {
	ctx   *compileContext
	model *expr.QueryModel
	sel   *queryir.SelectExpression
	scope *scope
	main  *binding

	// lifting visitors may not leave anything for the client.
	lifting bool

	// forceClient is set when nothing can be added to the select after
	// the main source (non-composable literal SQL).
	forceClient bool

	residual     []expr.BodyClause
	clientFilter []expr.BodyClause
}

// queryPlan is the outcome of visiting a top-level query model.
type queryPlan struct {
	sel       *queryir.SelectExpression
	shaper    shaper.Shaper
	result    ResultKind
	orDefault bool

	client      eval.Func
	clientModel *expr.QueryModel
}

func newVisitor(ctx *compileContext, parent *scope, m *expr.QueryModel, sel *queryir.SelectExpression) *queryModelVisitor {
	sc := newScope(parent)
	sc.declare(m)
	return &queryModelVisitor{ctx: ctx, model: m, sel: sel, scope: sc}
}

// inline returns a visitor that compiles m into the current select and
// scope.
func (v *queryModelVisitor) inline(m *expr.QueryModel) *queryModelVisitor {
	v.scope.declare(m)
	return &queryModelVisitor{ctx: v.ctx, model: m, sel: v.sel, scope: v.scope, lifting: true}
}

// nested returns a lifting visitor for m with its own select and a child
// scope, so correlated references resolve to the current select.
func (v *queryModelVisitor) nested(m *expr.QueryModel) *queryModelVisitor {
	nv := newVisitor(v.ctx, v.scope, m, queryir.NewSelect(""))
	nv.lifting = true
	return nv
}

func (v *queryModelVisitor) sql() sqlTranslator { return sqlTranslator{v: v} }

// visit compiles the whole model of a top-level visitor.
func (v *queryModelVisitor) visit() (*queryPlan, error) {
	if err := v.visitMainFrom(queryir.JoinKind(0)); err != nil {
		return nil, err
	}
	if err := v.visitBody(); err != nil {
		return nil, err
	}
	if err := v.applyIncludes(); err != nil {
		return nil, err
	}
	if v.forceClient || len(v.residual) > 0 {
		return v.clientPlan(v.model.ResultOperators)
	}
	return v.visitSelectorAndResults()
}

// visitMainFrom binds the main source; kind is the join used when the
// select already has tables (an inlined additional from).
func (v *queryModelVisitor) visitMainFrom(kind queryir.JoinKind) error {
	src := v.model.MainFrom
	b, table, err := v.bindSource(src, kind)
	if err != nil {
		return err
	}
	if b == nil {
		return errClientOnly
	}
	if table != nil {
		v.attach(b, table, kind, nil)
	}
	v.scope.bindAs(src, b)
	v.main = b
	if b.nonComposable {
		if v.lifting {
			return errClientOnly
		}
		v.forceClient = true
	}
	v.ctx.logger.Debug("bound query source", "source", src.Name, "alias", b.alias)
	return nil
}

func (v *queryModelVisitor) visitBody() error {
	for _, c := range v.model.Body {
		var err error
		switch cl := c.(type) {
		case *expr.WhereClause:
			err = v.visitWhere(cl)
		case *expr.OrderByClause:
			err = v.visitOrderBy(cl)
		case *expr.JoinClause:
			err = v.visitJoin(cl)
		case *expr.AdditionalFromClause:
			err = v.visitAdditionalFrom(cl)
		default:
			err = newError(ErrCodeInvalidQueryModel, "", "unknown body clause %T", c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// splitConjuncts flattens a chain of && into its operands.
func splitConjuncts(e expr.Expr) []expr.Expr {
	if b, ok := e.(*expr.Binary); ok && b.Op == expr.OpAndAlso {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []expr.Expr{e}
}

func (v *queryModelVisitor) visitWhere(cl *expr.WhereClause) error {
	if v.forceClient {
		return v.toClient(cl, cl.Predicate)
	}
	var client []expr.Expr
	for _, conj := range splitConjuncts(cl.Predicate) {
		p := v.sql().translate(conj)
		if !scalar(p) || (v.main.grouping != nil && queryir.ContainsAggregate(p)) {
			client = append(client, conj)
			continue
		}
		v.sel.SetPredicate(p)
	}
	if len(client) == 0 {
		return nil
	}
	residual := expr.And(client[0], client[1:]...)
	return v.toClient(&expr.WhereClause{Predicate: residual}, residual)
}

func (v *queryModelVisitor) visitOrderBy(cl *expr.OrderByClause) error {
	if v.forceClient || v.hasResidualOrdering() {
		return v.toClient(cl, cl.Orderings[0].Expr)
	}
	keys := make([]queryir.Expression, len(cl.Orderings))
	for i, o := range cl.Orderings {
		k := v.sql().translate(o.Expr)
		if k == nil {
			return v.toClient(cl, o.Expr)
		}
		keys[i] = k
	}
	v.sel.ClearOrderings()
	for i, k := range keys {
		v.sel.AddOrdering(k, cl.Orderings[i].Descending)
	}
	return nil
}

func (v *queryModelVisitor) hasResidualOrdering() bool {
	for _, c := range v.residual {
		if _, ok := c.(*expr.OrderByClause); ok {
			return true
		}
	}
	return false
}

func (v *queryModelVisitor) visitJoin(cl *expr.JoinClause) error {
	if v.forceClient {
		return v.toClient(cl, cl.InnerKey)
	}
	mk := v.ctx.mark(v.sel)
	b, table, err := v.bindSource(cl.Source, queryir.JoinInner)
	if err != nil {
		return err
	}
	if b != nil && table != nil {
		v.scope.bind(b)
		outer, inner := v.sql().translate(cl.OuterKey), v.sql().translate(cl.InnerKey)
		if on := joinCondition(outer, inner); on != nil {
			v.attach(b, table, queryir.JoinInner, on)
			return nil
		}
		v.scope.unbind(cl.Source)
	}
	v.ctx.rollback(mk)
	return v.toClient(cl, cl.InnerKey)
}

// joinCondition equates join keys. NULL keys never match, as in an
// in-memory equi-join.
func joinCondition(outer, inner queryir.Expression) queryir.Expression {
	if outer == nil || inner == nil {
		return nil
	}
	oc, ook := outer.(*queryir.Composite)
	ic, iok := inner.(*queryir.Composite)
	switch {
	case ook && iok:
		if len(oc.Parts) != len(ic.Parts) {
			return nil
		}
		var on queryir.Expression
		for i := range oc.Parts {
			l, r := widen(oc.Parts[i], ic.Parts[i])
			on = queryir.And(on, queryir.Equal(l, r))
		}
		return on
	case ook || iok:
		return nil
	}
	l, r := widen(outer, inner)
	return queryir.Equal(l, r)
}

func (v *queryModelVisitor) visitAdditionalFrom(cl *expr.AdditionalFromClause) error {
	if v.forceClient {
		return v.toClient(cl, cl.Source.FromExpr)
	}
	mk := v.ctx.mark(v.sel)
	b, table, err := v.bindSource(cl.Source, queryir.JoinCross)
	if err != nil {
		return err
	}
	if b != nil {
		if table != nil {
			v.attach(b, table, queryir.JoinCross, nil)
		}
		v.scope.bindAs(cl.Source, b)
		return nil
	}
	v.ctx.rollback(mk)
	return v.toClient(cl, cl.Source.FromExpr)
}

// toClient leaves a body clause for client evaluation.
func (v *queryModelVisitor) toClient(c expr.BodyClause, e expr.Expr) error {
	if err := v.scheduleClient(expr.Format(e)); err != nil {
		return err
	}
	v.residual = append(v.residual, c)
	return nil
}

// scheduleClient records that what will be evaluated on the client, or
// fails when that is not allowed.
func (v *queryModelVisitor) scheduleClient(what string) error {
	if v.lifting {
		return errClientOnly
	}
	source := ""
	if v.model.MainFrom != nil {
		source = v.model.MainFrom.Name
	}
	if v.ctx.c.strict {
		return newError(ErrCodeClientEvalDisabled, source, "%s cannot be translated to SQL", what)
	}
	v.ctx.logger.Warn("expression will be evaluated on the client", "source", source, "expr", what)
	v.ctx.clientExprs = append(v.ctx.clientExprs, what)
	return nil
}

// applyIncludes eager-loads reference navigations of the main source when
// the query returns main source entities.
func (v *queryModelVisitor) applyIncludes() error {
	var includes []*expr.Include
	for _, op := range v.model.ResultOperators {
		if inc, ok := op.(*expr.Include); ok {
			includes = append(includes, inc)
		}
	}
	if len(includes) == 0 {
		return nil
	}
	if v.main.nonComposable {
		return newError(ErrCodeIncludeWithNonComposableSQL, v.model.MainFrom.Name,
			"include %q needs composable SQL; start the literal SQL with SELECT", includes[0].Navigation)
	}
	if v.main.entity == nil {
		return nil
	}
	for _, inc := range includes {
		nav := v.main.entity.FindNavigation(inc.Navigation)
		if nav == nil {
			return newError(ErrCodeInvalidQueryModel, v.model.MainFrom.Name,
				"entity %s has no navigation %q", v.main.entity.Name, inc.Navigation)
		}
		if nav.IsCollection {
			return newError(ErrCodeUnsupportedInclude, v.model.MainFrom.Name,
				"navigation %s.%s is a collection", v.main.entity.Name, nav.Name)
		}
	}
	if ref, ok := v.model.SelectorOrSource().(*expr.QuerySourceRef); !ok || ref.Source != v.model.MainFrom {
		v.ctx.logger.Debug("include ignored for projection", "source", v.model.MainFrom.Name)
		return nil
	}
	for _, inc := range includes {
		nav := v.main.entity.FindNavigation(inc.Navigation)
		target := v.navigationJoin(v.main, nav)
		if target == nil {
			return newError(ErrCodeInvalidQueryModel, v.model.MainFrom.Name,
				"navigation %s.%s has no usable foreign key", v.main.entity.Name, nav.Name)
		}
		v.ensureInclude(v.main, nav, target)
	}
	return nil
}

// pushed is a result operator the select will carry, with its translated
// operands.
type pushed struct {
	op    expr.ResultOperator
	count queryir.Expression
	pred  queryir.Expression
	item  queryir.Expression
}

func (v *queryModelVisitor) visitSelectorAndResults() (*queryPlan, error) {
	ops := v.model.ResultOperators
	mk := v.ctx.mark(v.sel)
	proj, err := v.translateProjection(v.model.SelectorOrSource())
	if err != nil {
		return nil, err
	}
	ps, n := v.pushableOperators(ops, proj)
	if n < len(ops) {
		v.ctx.rollback(mk)
		k := 0
		for k < n && isPaging(ps[k].op) {
			v.applyPaging(ps[k])
			k++
		}
		return v.clientPlan(ops[k:])
	}
	if proj.client != nil && !replacesProjection(ops) {
		if err := v.scheduleClient(expr.Format(proj.client)); err != nil {
			return nil, err
		}
	}

	plan := &queryPlan{sel: v.sel, shaper: proj.shaper, result: ResultSequence}
	for _, p := range ps {
		v.applyOperator(plan, p, proj)
	}
	return plan, nil
}

// replacesProjection reports whether ops end in an operator that computes
// its result in the select instead of reading the projection.
func replacesProjection(ops []expr.ResultOperator) bool {
	for _, op := range ops {
		switch op.(type) {
		case *expr.Count, *expr.Any, *expr.All:
			return true
		}
	}
	return false
}

func isPaging(op expr.ResultOperator) bool {
	switch op.(type) {
	case *expr.Take, *expr.Skip:
		return true
	}
	return false
}

// pushableOperators returns the translated prefix of ops the select can
// carry and its length.
func (v *queryModelVisitor) pushableOperators(ops []expr.ResultOperator, proj *projection) ([]pushed, int) {
	var out []pushed
	limit, offset, distinct := v.sel.Limit() != nil, v.sel.Offset() != nil, v.sel.IsDistinct()
	for _, op := range ops {
		p := pushed{op: op}
		ok := false
		switch o := op.(type) {
		case *expr.Include:
			ok = true
		case *expr.Take:
			p.count = v.sql().translate(o.Count)
			ok = p.count != nil && !limit
			limit = true
		case *expr.Skip:
			p.count = v.sql().translate(o.Count)
			ok = p.count != nil && !limit && !offset
			offset = true
		case *expr.Distinct:
			ok = proj.client == nil && !limit && !offset && !distinct
			distinct = true
		case *expr.First, *expr.Single:
			ok = !limit
		case *expr.Count, *expr.Any:
			ok = true
		case *expr.All:
			p.pred = v.sql().translate(o.Predicate)
			ok = scalar(p.pred) && !limit && !offset && !distinct && len(v.sel.GroupBy()) == 0
		case *expr.Contains:
			p.item = v.sql().translate(o.Item)
			ok = proj.scalar != nil && scalar(p.item)
		case *expr.Aggregate:
			ok = proj.scalar != nil
		}
		if !ok {
			return out, len(out)
		}
		out = append(out, p)
	}
	return out, len(out)
}

func (v *queryModelVisitor) applyPaging(p pushed) {
	switch p.op.(type) {
	case *expr.Take:
		v.sel.SetLimit(p.count)
	case *expr.Skip:
		v.sel.SetOffset(p.count)
	}
}

func constInt(n int) *queryir.Constant { return &queryir.Constant{Value: n, T: intType} }

func (v *queryModelVisitor) applyOperator(plan *queryPlan, p pushed, proj *projection) {
	itemType := v.model.ItemType()
	switch o := p.op.(type) {
	case *expr.Take, *expr.Skip:
		v.applyPaging(p)
	case *expr.Distinct:
		v.sel.SetDistinct(true)
	case *expr.First:
		v.sel.SetLimit(constInt(1))
		plan.result, plan.orDefault = ResultFirst, o.OrDefault
	case *expr.Single:
		v.sel.SetLimit(constInt(2))
		plan.result, plan.orDefault = ResultSingle, o.OrDefault
	case *expr.Count:
		plan.sel = v.ctx.countSelect(v.sel)
		plan.shaper = &shaper.ScalarShaper{Index: 0, T: intType}
		plan.result = ResultScalar
	case *expr.Any:
		v.sel.ClearProjection()
		v.sel.ClearOrderings()
		plan.sel = existsSelect(v.sel, false)
		plan.shaper = &shaper.ScalarShaper{Index: 0, T: boolType}
		plan.result = ResultScalar
	case *expr.All:
		v.sel.ClearProjection()
		v.sel.ClearOrderings()
		v.sel.SetPredicate(violates(p.pred))
		plan.sel = existsSelect(v.sel, true)
		plan.shaper = &shaper.ScalarShaper{Index: 0, T: boolType}
		plan.result = ResultScalar
	case *expr.Contains:
		plan.sel = containsSelect(v.sel, proj.scalar, p.item)
		plan.shaper = &shaper.ScalarShaper{Index: 0, T: boolType}
		plan.result = ResultScalar
	case *expr.Aggregate:
		t := v.model.ResultType()
		if o.Func == expr.AggAverage && expr.IsNullable(itemType) {
			t = reflect.PointerTo(t)
		}
		plan.sel = v.ctx.aggregateSelect(v.sel, o.Func, proj.scalar, t)
		plan.shaper = &shaper.ScalarShaper{Index: 0, T: t}
		plan.result = ResultScalar
		if o.Func != expr.AggSum && !expr.IsNullable(itemType) {
			plan.result = ResultAggregate
		}
	}
}

// violates is NOT COALESCE(p, FALSE): rows where p does not hold,
// counting NULL as not holding.
func violates(p queryir.Expression) queryir.Expression {
	return queryir.Not(coalesceFalse(p))
}

// needsWrap reports whether sel has to become a derived table before its
// projection is replaced by an aggregate.
func needsWrap(sel *queryir.SelectExpression) bool {
	return sel.Limit() != nil || sel.Offset() != nil || sel.IsDistinct() || len(sel.GroupBy()) > 0
}

func ensureProjection(sel *queryir.SelectExpression) {
	if sel.ProjectionCount() == 0 && !sel.IsProjectStar() {
		sel.AddToProjection(constInt(1))
	}
}

func (ctx *compileContext) wrap(sel *queryir.SelectExpression) (*queryir.SelectExpression, string) {
	ensureProjection(sel)
	alias := ctx.allocAlias("", "t")
	outer := queryir.NewSelect("")
	outer.AddTable(&queryir.Derived{Select: sel, As: alias})
	return outer, alias
}

func (ctx *compileContext) countSelect(sel *queryir.SelectExpression) *queryir.SelectExpression {
	if needsWrap(sel) {
		outer, _ := ctx.wrap(sel)
		outer.AddToProjection(queryir.CountAll())
		return outer
	}
	sel.ClearProjection()
	sel.ClearOrderings()
	sel.AddToProjection(queryir.CountAll())
	return sel
}

func (ctx *compileContext) aggregateSelect(sel *queryir.SelectExpression, f expr.AggregateFunc, value queryir.Expression, t reflect.Type) *queryir.SelectExpression {
	target := sel
	operand := value
	if needsWrap(sel) {
		sel.ClearProjection()
		sel.AddToProjectionAs(value, "value")
		var alias string
		target, alias = ctx.wrap(sel)
		operand = &queryir.Column{Table: alias, Name: "value", T: value.Type()}
	} else {
		sel.ClearProjection()
		sel.ClearOrderings()
	}
	target.AddToProjection(aggregate(f, operand, t))
	return target
}

// aggregate builds the store aggregate; SUM of no rows is 0 as on the
// client.
func aggregate(f expr.AggregateFunc, operand queryir.Expression, t reflect.Type) queryir.Expression {
	switch f {
	case expr.AggSum:
		return fn("COALESCE", t, &queryir.Aggregate{Func: queryir.AggSum, Operand: operand, T: t}, constInt(0))
	case expr.AggMin:
		return &queryir.Aggregate{Func: queryir.AggMin, Operand: operand, T: t}
	case expr.AggMax:
		return &queryir.Aggregate{Func: queryir.AggMax, Operand: operand, T: t}
	}
	return &queryir.Aggregate{Func: queryir.AggAvg, Operand: operand, T: t}
}

func existsSelect(sel *queryir.SelectExpression, negated bool) *queryir.SelectExpression {
	ensureProjection(sel)
	outer := queryir.NewSelect("")
	outer.AddToProjection(&queryir.Exists{Subquery: sel, Negated: negated})
	return outer
}

// containsSelect tests item against the selected values: EXISTS with a
// null-safe equality, or IN when the select pages.
func containsSelect(sel *queryir.SelectExpression, value, item queryir.Expression) *queryir.SelectExpression {
	if !needsWrap(sel) {
		sel.ClearProjection()
		sel.ClearOrderings()
		l, r := widen(value, item)
		sel.SetPredicate(nullSafeEquality(l, r, false))
		return existsSelect(sel, false)
	}
	sel.ClearProjection()
	sel.AddToProjection(value)
	outer := queryir.NewSelect("")
	outer.AddToProjection(&queryir.In{Operand: item, Subquery: sel})
	return outer
}

// clientPlan reads every bound source of the model as entities and hands
// the rows to an in-memory evaluation of the remaining clauses, the
// selector and ops.
func (v *queryModelVisitor) clientPlan(ops []expr.ResultOperator) (*queryPlan, error) {
	if v.lifting {
		return nil, errClientOnly
	}
	for _, op := range ops {
		if _, ok := op.(*expr.Include); !ok {
			if err := v.scheduleClient(fmt.Sprintf("%T", op)); err != nil {
				return nil, err
			}
			break
		}
	}

	var sources []shaper.SourceMaterializer
	for _, src := range v.model.Sources() {
		b := v.scope.local(src)
		if b == nil {
			continue
		}
		if b.entity == nil {
			return nil, errClientOnly
		}
		sources = append(sources, shaper.SourceMaterializer{Source: src, Materializer: v.ensureMaterialized(b)})
	}
	v.includeClientNavigations(ops)

	row := &expr.QuerySource{Name: "row", ItemType: rowType, FromExpr: expr.Param(RowsParam, rowsType)}
	body := append(append([]expr.BodyClause(nil), v.clientFilter...), v.residual...)
	cm := &expr.QueryModel{MainFrom: row, Body: body, Selector: v.model.SelectorOrSource(), ResultOperators: ops}
	client, err := eval.CompileModel(cm)
	if err != nil {
		return nil, newError(ErrCodeInvalidQueryModel, v.model.MainFrom.Name, "client part: %v", err)
	}
	return &queryPlan{
		sel:         v.sel,
		shaper:      &shaper.ValueBuffer{Sources: sources},
		result:      ResultSequence,
		client:      client,
		clientModel: cm,
	}, nil
}

// includeClientNavigations loads the reference navigations the client part
// reads, since entities are otherwise materialized without them.
func (v *queryModelVisitor) includeClientNavigations(ops []expr.ResultOperator) {
	visit := func(e expr.Expr) {
		expr.Walk(e, func(n expr.Expr) bool {
			if m, ok := n.(*expr.Member); ok {
				v.includePath(m)
			}
			return true
		})
	}
	for _, c := range v.residual {
		switch cl := c.(type) {
		case *expr.WhereClause:
			visit(cl.Predicate)
		case *expr.OrderByClause:
			for _, o := range cl.Orderings {
				visit(o.Expr)
			}
		case *expr.JoinClause:
			visit(cl.OuterKey)
			visit(cl.InnerKey)
		}
	}
	visit(v.model.SelectorOrSource())
	for _, op := range ops {
		switch o := op.(type) {
		case *expr.All:
			visit(o.Predicate)
		case *expr.Contains:
			visit(o.Item)
		case *expr.GroupBy:
			visit(o.Key)
			visit(o.Element)
		}
	}
}

// ensureMaterialized projects every column of b and returns the entity
// materializer reading them.
func (v *queryModelVisitor) ensureMaterialized(b *binding) *shaper.EntityMaterializer {
	if b.materializer != nil {
		return b.materializer
	}
	sel, alias := b.sel, b.alias
	m, _ := shaper.MaterializerFactory{}.Create(b.entity, func(p *model.Property) int {
		return sel.AddToProjection(&queryir.Column{Table: alias, Name: p.Column, T: p.Type})
	})
	m.Tracking = v.ctx.c.tracking
	m.SkipUnknownDiscriminator = b.nonComposable && b.entity.Base != nil
	b.materializer = m
	v.ctx.materialize = append(v.ctx.materialize, b)
	return m
}

// ensureInclude makes the materializer of owner fill navigation nav from
// the materializer of target.
func (v *queryModelVisitor) ensureInclude(owner *binding, nav *model.Navigation, target *binding) {
	m := v.ensureMaterialized(owner)
	for _, inc := range m.Includes {
		if inc.Navigation.Name == nav.Name {
			return
		}
	}
	m.Includes = append(m.Includes, shaper.IncludeFixup{Navigation: nav, Target: v.ensureMaterialized(target)})
}

// includePath materializes the entity e denotes (a source or a chain of
// reference navigations from one), including each navigation on the way.
func (v *queryModelVisitor) includePath(e expr.Expr) *binding {
	switch n := e.(type) {
	case *expr.QuerySourceRef:
		b := v.scope.lookup(n.Source)
		if b == nil || b.entity == nil || b.sel != v.sel {
			return nil
		}
		v.ensureMaterialized(b)
		return b
	case *expr.Member:
		owner := v.includePath(n.Object)
		if owner == nil {
			return nil
		}
		nav := owner.entity.FindNavigation(n.Name)
		if nav == nil || nav.IsCollection {
			return nil
		}
		target := v.navigationJoin(owner, nav)
		if target == nil {
			return nil
		}
		v.ensureInclude(owner, nav, target)
		return target
	}
	return nil
}

// isFree reports whether e only references sources declared outside this
// compile: correlated values of an enclosing execution.
func (v *queryModelVisitor) isFree(e expr.Expr) bool {
	free, bound := false, false
	expr.Walk(e, func(n expr.Expr) bool {
		r, ok := n.(*expr.QuerySourceRef)
		if !ok {
			return true
		}
		if v.scope.lookup(r.Source) != nil || v.scope.declares(r.Source) {
			bound = true
		} else {
			free = true
		}
		return true
	})
	return free && !bound
}

// entityBinding resolves a source reference or a chain of reference
// navigations from one to the binding of the entity it denotes, joining
// navigation targets as needed.
func (v *queryModelVisitor) entityBinding(e expr.Expr) *binding {
	switch n := e.(type) {
	case *expr.QuerySourceRef:
		if b := v.scope.lookup(n.Source); b != nil && b.entity != nil {
			return b
		}
	case *expr.Member:
		owner := v.entityBinding(n.Object)
		if owner == nil {
			return nil
		}
		nav := owner.entity.FindNavigation(n.Name)
		if nav == nil || nav.IsCollection {
			return nil
		}
		return v.navigationJoin(owner, nav)
	}
	return nil
}

// tupleMember resolves x.M on a tuple-valued derived source to the column
// M was projected as.
func (v *queryModelVisitor) tupleMember(n *expr.Member) queryir.Expression {
	b := v.tupleBinding(n.Object)
	if b == nil {
		return nil
	}
	if col, ok := b.members[n.Name]; ok {
		return col
	}
	return nil
}

func (v *queryModelVisitor) tupleBinding(e expr.Expr) *binding {
	ref, ok := e.(*expr.QuerySourceRef)
	if !ok {
		return nil
	}
	if b := v.scope.lookup(ref.Source); b != nil && b.tuple != nil {
		return b
	}
	return nil
}

// groupingMember resolves g.Key and g.Key.X on a lifted grouping source to
// the corresponding part of the key selector.
func (v *queryModelVisitor) groupingMember(n *expr.Member) (expr.Expr, bool) {
	var path []string
	cur := expr.Expr(n)
	for {
		m, ok := cur.(*expr.Member)
		if !ok {
			break
		}
		path = append([]string{m.Name}, path...)
		cur = m.Object
	}
	ref, ok := cur.(*expr.QuerySourceRef)
	if !ok {
		return nil, false
	}
	b := v.scope.lookup(ref.Source)
	if b == nil || b.grouping == nil || path[0] != "Key" {
		return nil, false
	}
	key := b.grouping.key
	for i, name := range path[1:] {
		if tuple, ok := key.(*expr.New); ok {
			idx := tuple.MemberIndex(name)
			if idx < 0 {
				return nil, false
			}
			key = tuple.Args[idx]
			continue
		}
		if i != len(path)-2 {
			return nil, false
		}
		key = &expr.Member{Object: key, Name: name, T: n.T}
	}
	return key, true
}
