package compiler

import (
	"errors"
	"reflect"
	"regexp"

	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/queryir"
)

// composableSQL matches literal SQL the store can wrap as a derived table.
var composableSQL = regexp.MustCompile(`(?is)^\s*SELECT\b`)

// bindSource binds src to a table of the current select. It returns the
// binding and the table to attach, or a nil table when the binding reuses
// tables already attached (inlined sub-queries). A nil binding means the
// source stays on the client.
func (v *queryModelVisitor) bindSource(src *expr.QuerySource, kind queryir.JoinKind) (*binding, queryir.TableSource, error) {
	switch from := src.FromExpr.(type) {
	case *expr.EntityQueryable:
		return v.VisitEntityQueryable(src, from, kind)
	case *expr.SubQuery:
		return v.bindSubQuery(src, from.Model, kind)
	}
	return nil, nil, nil
}

// VisitEntityQueryable turns "all entities of a type" into a table
// reference, or a literal SQL source when the queryable carries SQL.
func (v *queryModelVisitor) VisitEntityQueryable(src *expr.QuerySource, q *expr.EntityQueryable, kind queryir.JoinKind) (*binding, queryir.TableSource, error) {
	entity := v.ctx.c.provider.FindEntityType(q.Entity)
	if entity == nil {
		return nil, nil, newError(ErrCodeUnknownEntityType, src.Name, "type %v is not a mapped entity", q.Entity)
	}
	if q.SQL == nil {
		alias := v.ctx.allocAlias(src.Name, entity.Table)
		b := &binding{source: src, sel: v.sel, alias: alias, entity: entity}
		return b, &queryir.Table{Name: entity.Table, Schema: entity.Schema, As: alias}, nil
	}

	composable := composableSQL.MatchString(q.SQL.Text)
	if !composable && (kind != 0 || len(v.sel.Tables()) > 0) {
		// Verbatim SQL has to be the whole statement.
		return nil, nil, nil
	}
	alias := v.ctx.allocAlias(src.Name, entity.Table)
	b := &binding{source: src, sel: v.sel, alias: alias, entity: entity, nonComposable: !composable}
	args := make([]queryir.Expression, len(q.SQL.Args))
	for i, a := range q.SQL.Args {
		args[i] = &queryir.Constant{Value: a, T: reflect.TypeOf(a)}
	}
	if !composable {
		v.sel.SetProjectStar(true)
		if entity.Base != nil {
			v.clientFilter = append(v.clientFilter, &expr.WhereClause{Predicate: expr.Ne(expr.Ref(src), expr.Null(src.ItemType))})
		}
		v.ctx.logger.Debug("literal SQL is not composable", "source", src.Name)
	}
	return b, &queryir.FromSQL{SQL: q.SQL.Text, Args: args, As: alias, Composable: composable}, nil
}

// attach adds the table of b to the select with its discriminator filter:
// in WHERE for the main source and cross joins, in ON for other joins so
// that it does not turn an outer join into an inner one.
func (v *queryModelVisitor) attach(b *binding, table queryir.TableSource, kind queryir.JoinKind, on queryir.Expression) {
	switch kind {
	case 0:
		v.sel.AddTable(table)
	case queryir.JoinCross:
		v.sel.AddTable(&queryir.Join{Kind: kind, Table: table})
	default:
		v.sel.AddTable(&queryir.Join{Kind: kind, Table: table, On: queryir.And(on, discriminatorPredicate(b))})
		return
	}
	if values := discriminatorValues(b); values != nil {
		v.sel.SetDiscriminatorPredicate(b.column(b.entity.Discriminator.Name), values)
	}
}

// discriminatorValues lists the discriminator values of the concrete types
// b may hold, or nil when no filter is needed: the hierarchy has a table of
// its own, the rows were already filtered, or literal SQL cannot be
// filtered in the store.
func discriminatorValues(b *binding) []any {
	e := b.entity
	if e == nil || e.Discriminator == nil || !e.SharesTable() || b.derived || b.nonComposable {
		return nil
	}
	var values []any
	for _, t := range e.ConcreteTypes() {
		values = append(values, t.DiscriminatorValue)
	}
	return values
}

func discriminatorPredicate(b *binding) queryir.Expression {
	values := discriminatorValues(b)
	if values == nil {
		return nil
	}
	col := b.column(b.entity.Discriminator.Name)
	var pred queryir.Expression
	for _, val := range values {
		pred = queryir.Or(pred, queryir.Equal(col, &queryir.Constant{Value: val, T: col.Type()}))
	}
	return pred
}

// navigationJoin LEFT JOINs the target of a reference navigation once per
// owner binding and returns the target's binding.
func (v *queryModelVisitor) navigationJoin(owner *binding, nav *model.Navigation) *binding {
	if owner.nonComposable || owner.entity == nil {
		return nil
	}
	k := navKey{from: owner, name: nav.Name}
	if b, ok := v.ctx.navJoins[k]; ok {
		return b
	}
	target := nav.Target()
	if target == nil || nav.IsCollection {
		return nil
	}
	pk := target.PrimaryKey()
	if len(pk) == 0 || len(pk) != len(nav.ForeignKey) {
		return nil
	}
	b := &binding{sel: owner.sel, entity: target, nullable: true}
	var on queryir.Expression
	var cols []queryir.Expression
	for _, fk := range nav.ForeignKey {
		c := owner.column(fk)
		if c == nil {
			return nil
		}
		cols = append(cols, c)
	}
	b.alias = v.ctx.allocAlias("", target.Table)
	for i, c := range cols {
		l, r := widen(c, b.column(pk[i].Name))
		on = queryir.And(on, queryir.Equal(l, r))
	}
	on = queryir.And(on, discriminatorPredicate(b))
	owner.sel.AddTable(&queryir.Join{
		Kind:  queryir.JoinLeft,
		Table: &queryir.Table{Name: target.Table, Schema: target.Schema, As: b.alias},
		On:    on,
	})
	v.ctx.navJoins[k] = b
	v.ctx.navOrder = append(v.ctx.navOrder, k)
	v.ctx.logger.Debug("navigation joined", "navigation", nav.Name, "alias", b.alias)
	return b
}

// bindSubQuery binds a source whose items come from a nested query model:
// a lifted grouping, an inlined filter over an entity source, or a derived
// table for paged or distinct sequences.
func (v *queryModelVisitor) bindSubQuery(src *expr.QuerySource, m *expr.QueryModel, kind queryir.JoinKind) (*binding, queryir.TableSource, error) {
	if m.MainFrom == nil {
		return nil, nil, nil
	}
	ops := m.ResultOperators
	if len(ops) == 1 {
		if gb, ok := ops[0].(*expr.GroupBy); ok {
			if kind != 0 {
				return nil, nil, nil
			}
			return v.liftGrouping(src, m, gb)
		}
	}
	for _, op := range ops {
		switch op.(type) {
		case *expr.Take, *expr.Skip, *expr.Distinct:
		default:
			return nil, nil, nil
		}
	}
	if len(ops) == 0 && kind != queryir.JoinInner {
		if ref, ok := m.SelectorOrSource().(*expr.QuerySourceRef); ok && ref.Source == m.MainFrom {
			b, err := v.inlineSubQuery(m, kind)
			if b != nil || err != nil {
				return b, nil, err
			}
		}
	}
	return v.derivedSubQuery(src, m)
}

// inlineSubQuery compiles m straight into the current select. Only models
// whose items are the entities of their own main source qualify, so the
// source resolves to the inner main binding.
func (v *queryModelVisitor) inlineSubQuery(m *expr.QueryModel, kind queryir.JoinKind) (*binding, error) {
	mk := v.ctx.mark(v.sel)
	iv := v.inline(m)
	err := iv.visitMainFrom(kind)
	if err == nil {
		err = iv.visitBody()
	}
	if err == nil && len(iv.residual) == 0 && !iv.forceClient && iv.main.entity != nil {
		return iv.main, nil
	}
	v.ctx.rollback(mk)
	for _, s := range m.Sources() {
		v.scope.unbind(s)
	}
	if err != nil && !errors.Is(err, errClientOnly) {
		return nil, err
	}
	return nil, nil
}

// derivedSubQuery compiles m into its own select used as a derived table.
// The select projects entity columns under their column names, tuple
// members under their member names, or a scalar selector as "value".
func (v *queryModelVisitor) derivedSubQuery(src *expr.QuerySource, m *expr.QueryModel) (*binding, queryir.TableSource, error) {
	nv := &queryModelVisitor{ctx: v.ctx, model: m, sel: queryir.NewSelect(""), scope: v.scope.isolated(), lifting: true}
	nv.scope.declare(m)
	err := nv.visitMainFrom(0)
	if err == nil {
		err = nv.visitBody()
	}
	if err != nil {
		if errors.Is(err, errClientOnly) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	b := &binding{source: src, sel: v.sel, derived: true}
	selector := m.SelectorOrSource()
	if ent := nv.entityBinding(selector); ent != nil {
		if _, isRef := selector.(*expr.QuerySourceRef); !isRef {
			return nil, nil, nil
		}
		seen := map[string]bool{}
		for _, t := range ent.entity.ConcreteTypes() {
			for _, p := range t.Properties() {
				if seen[p.Column] {
					continue
				}
				seen[p.Column] = true
				nv.sel.AddToProjectionAs(ent.column(p.Name), p.Column)
			}
		}
		b.entity = ent.entity
	} else if tuple, ok := selector.(*expr.New); ok {
		b.tuple = tuple
		b.members = make(map[string]*queryir.Column, len(tuple.Members))
		for i, name := range tuple.Members {
			part := nv.sql().translate(tuple.Args[i])
			if !scalar(part) {
				return nil, nil, nil
			}
			nv.sel.AddToProjectionAs(part, name)
			b.members[name] = &queryir.Column{Name: name, T: part.Type()}
		}
	} else {
		x := nv.sql().translate(selector)
		if !scalar(x) {
			return nil, nil, nil
		}
		nv.sel.AddToProjectionAs(x, "value")
		b.scalar = &queryir.Column{Name: "value", T: x.Type()}
	}

	for _, op := range m.ResultOperators {
		switch o := op.(type) {
		case *expr.Take:
			n := nv.sql().translate(o.Count)
			if n == nil || nv.sel.Limit() != nil {
				return nil, nil, nil
			}
			nv.sel.SetLimit(n)
		case *expr.Skip:
			n := nv.sql().translate(o.Count)
			if n == nil || nv.sel.Limit() != nil || nv.sel.Offset() != nil {
				return nil, nil, nil
			}
			nv.sel.SetOffset(n)
		case *expr.Distinct:
			if nv.sel.Limit() != nil || nv.sel.Offset() != nil {
				return nil, nil, nil
			}
			nv.sel.SetDistinct(true)
		}
	}

	b.alias = v.ctx.allocAlias(src.Name, "t")
	if col, ok := b.scalar.(*queryir.Column); ok {
		col.Table = b.alias
	}
	for _, col := range b.members {
		col.Table = b.alias
	}
	v.ctx.logger.Debug("sub-query bound as derived table", "source", src.Name, "alias", b.alias)
	return b, &queryir.Derived{Select: nv.sel, As: b.alias}, nil
}

// liftGrouping compiles a grouped sub-query into GROUP BY on the current
// select. The source then stands for the groups; g.Key reads the grouping
// key and aggregates over g translate to aggregates of the select.
func (v *queryModelVisitor) liftGrouping(src *expr.QuerySource, m *expr.QueryModel, gb *expr.GroupBy) (*binding, queryir.TableSource, error) {
	mk := v.ctx.mark(v.sel)
	iv := v.inline(m)
	err := iv.visitMainFrom(0)
	if err == nil {
		err = iv.visitBody()
	}
	var key queryir.Expression
	if err == nil && len(iv.residual) == 0 {
		key = iv.sql().translate(gb.Key)
	}
	if key == nil {
		v.ctx.rollback(mk)
		for _, s := range m.Sources() {
			v.scope.unbind(s)
		}
		if err != nil && !errors.Is(err, errClientOnly) {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	v.sel.AddGroupBy(key)
	element := gb.Element
	if element == nil {
		element = m.SelectorOrSource()
	}
	v.ctx.logger.Debug("grouping lifted", "source", src.Name, "key", expr.Format(gb.Key))
	return &binding{source: src, sel: v.sel, grouping: &groupingBinding{key: gb.Key, element: element}}, nil, nil
}
