package queryir

import (
	"fmt"
)

// ProjectionItem is one output slot.
type ProjectionItem struct {
	Expr  Expression
	Alias string // optional output column name
}

// Ordering is one ORDER BY key.
type Ordering struct {
	Expr       Expression
	Descending bool
}

// SelectExpression is the relational-algebra tree for one query or
// sub-query. The zero value is not usable; call NewSelect.
type SelectExpression struct {
	alias       string
	tables      []TableSource
	projection  []ProjectionItem
	predicate   Expression
	groupBy     []Expression
	orderings   []Ordering
	limit       Expression
	offset      Expression
	distinct    bool
	projectStar bool
	frozen      bool
}

// NewSelect creates an empty select with the given alias. The alias is
// used when the select is nested as a derived table.
func NewSelect(alias string) *SelectExpression {
	return &SelectExpression{alias: alias}
}

func (s *SelectExpression) mutate() {
	if s.frozen {
		panic("queryir: mutation of a frozen select")
	}
}

// Alias returns the alias given at construction.
func (s *SelectExpression) Alias() string { return s.alias }

// AddTable appends a table source. Callers must not add the same logical
// source twice.
func (s *SelectExpression) AddTable(t TableSource) {
	s.mutate()
	s.tables = append(s.tables, t)
}

// Tables returns the FROM list.
func (s *SelectExpression) Tables() []TableSource { return s.tables }

// FindTable returns the table source with the alias, looking through join
// wrappers.
func (s *SelectExpression) FindTable(alias string) TableSource {
	for _, t := range s.tables {
		if t.Alias() == alias {
			if j, ok := t.(*Join); ok {
				return j.Table
			}
			return t
		}
	}
	return nil
}

// AddToProjection appends e and returns its slot. When a structurally equal
// expression is already projected its slot is returned instead.
func (s *SelectExpression) AddToProjection(e Expression) int {
	for i, p := range s.projection {
		if p.Alias == "" && EqualExpr(p.Expr, e) {
			return i
		}
	}
	s.mutate()
	s.projection = append(s.projection, ProjectionItem{Expr: e})
	return len(s.projection) - 1
}

// AddToProjectionAs appends e under an output alias. Aliased projections
// are never deduplicated.
func (s *SelectExpression) AddToProjectionAs(e Expression, alias string) int {
	s.mutate()
	s.projection = append(s.projection, ProjectionItem{Expr: e, Alias: alias})
	return len(s.projection) - 1
}

// ProjectionCount returns the number of slots.
func (s *SelectExpression) ProjectionCount() int { return len(s.projection) }

// Projection returns slot i.
func (s *SelectExpression) Projection(i int) ProjectionItem { return s.projection[i] }

// Projections returns all slots.
func (s *SelectExpression) Projections() []ProjectionItem { return s.projection }

// RemoveFromProjectionAfter truncates the projection to count slots. It is
// used to roll back speculative translation.
func (s *SelectExpression) RemoveFromProjectionAfter(count int) {
	if count >= len(s.projection) {
		return
	}
	s.mutate()
	if count < 0 {
		count = 0
	}
	s.projection = s.projection[:count:count]
}

// ClearProjection removes every slot.
func (s *SelectExpression) ClearProjection() {
	s.RemoveFromProjectionAfter(0)
	s.projectStar = false
}

// SetProjectStar makes the select render as SELECT * (non-composable
// literal SQL keeps its own column list).
func (s *SelectExpression) SetProjectStar(star bool) {
	s.mutate()
	s.projectStar = star
}

// IsProjectStar reports whether the select renders as SELECT *.
func (s *SelectExpression) IsProjectStar() bool { return s.projectStar }

// SetPredicate AND-combines e with the current predicate.
func (s *SelectExpression) SetPredicate(e Expression) {
	if e == nil {
		return
	}
	s.mutate()
	s.predicate = And(s.predicate, e)
}

// ReplacePredicate replaces the predicate.
func (s *SelectExpression) ReplacePredicate(e Expression) {
	s.mutate()
	s.predicate = e
}

// Predicate returns the filter, or nil.
func (s *SelectExpression) Predicate() Expression { return s.predicate }

// SetDiscriminatorPredicate restricts rows to the given discriminator
// values: a single equality, or an OR of equalities, AND-combined with the
// existing predicate. An empty value list is a no-op.
func (s *SelectExpression) SetDiscriminatorPredicate(column Expression, values []any) {
	var pred Expression
	for _, v := range values {
		eq := Equal(column, &Constant{Value: v, T: column.Type()})
		pred = Or(pred, eq)
	}
	s.SetPredicate(pred)
}

// AddGroupBy appends a grouping key. Composite keys are flattened.
func (s *SelectExpression) AddGroupBy(e Expression) {
	s.mutate()
	if c, ok := e.(*Composite); ok {
		for _, p := range c.Parts {
			s.AddGroupBy(p)
		}
		return
	}
	for _, g := range s.groupBy {
		if EqualExpr(g, e) {
			return
		}
	}
	s.groupBy = append(s.groupBy, e)
}

// GroupBy returns the grouping keys.
func (s *SelectExpression) GroupBy() []Expression { return s.groupBy }

// AddOrdering appends an ORDER BY key. Composite keys are flattened.
func (s *SelectExpression) AddOrdering(e Expression, descending bool) {
	s.mutate()
	if c, ok := e.(*Composite); ok {
		for _, p := range c.Parts {
			s.AddOrdering(p, descending)
		}
		return
	}
	s.orderings = append(s.orderings, Ordering{Expr: e, Descending: descending})
}

// ClearOrderings removes every ordering.
func (s *SelectExpression) ClearOrderings() {
	s.mutate()
	s.orderings = nil
}

// Orderings returns the ORDER BY keys.
func (s *SelectExpression) Orderings() []Ordering { return s.orderings }

func (s *SelectExpression) SetLimit(e Expression)  { s.mutate(); s.limit = e }
func (s *SelectExpression) SetOffset(e Expression) { s.mutate(); s.offset = e }
func (s *SelectExpression) Limit() Expression      { return s.limit }
func (s *SelectExpression) Offset() Expression     { return s.offset }

func (s *SelectExpression) SetDistinct(d bool) { s.mutate(); s.distinct = d }
func (s *SelectExpression) IsDistinct() bool   { return s.distinct }

// Freeze makes the select immutable. Nested derived selects are frozen too.
func (s *SelectExpression) Freeze() {
	if s.frozen {
		return
	}
	s.frozen = true
	for _, t := range s.tables {
		if d, ok := unwrapJoin(t).(*Derived); ok {
			d.Select.Freeze()
		}
	}
}

// IsFrozen reports whether Freeze was called.
func (s *SelectExpression) IsFrozen() bool { return s.frozen }

// Clone returns an unfrozen deep copy of the select structure. Expressions
// are immutable and shared; derived selects are cloned.
func (s *SelectExpression) Clone() *SelectExpression {
	c := *s
	c.frozen = false
	c.tables = make([]TableSource, len(s.tables))
	for i, t := range s.tables {
		c.tables[i] = cloneTable(t)
	}
	c.projection = append([]ProjectionItem(nil), s.projection...)
	c.groupBy = append([]Expression(nil), s.groupBy...)
	c.orderings = append([]Ordering(nil), s.orderings...)
	return &c
}

// Restore overwrites s with the state of snapshot, a clone taken earlier.
// Used to discard a failed speculative lift without disturbing pointers
// held to s.
func (s *SelectExpression) Restore(snapshot *SelectExpression) {
	s.mutate()
	*s = *snapshot.Clone()
}

func cloneTable(t TableSource) TableSource {
	switch n := t.(type) {
	case *Table:
		c := *n
		return &c
	case *FromSQL:
		c := *n
		c.Args = append([]Expression(nil), n.Args...)
		return &c
	case *Derived:
		return &Derived{Select: n.Select.Clone(), As: n.As}
	case *Join:
		return &Join{Kind: n.Kind, Table: cloneTable(n.Table), On: n.On}
	}
	panic(fmt.Sprintf("queryir: unknown table source %T", t))
}

func unwrapJoin(t TableSource) TableSource {
	if j, ok := t.(*Join); ok {
		return j.Table
	}
	return t
}

// IsSimpleSelect reports whether s reads one table with no grouping,
// ordering, paging or distinct. Such selects can be inlined or wrapped
// freely.
func (s *SelectExpression) IsSimpleSelect() bool {
	return len(s.tables) == 1 && len(s.groupBy) == 0 && len(s.orderings) == 0 &&
		s.limit == nil && s.offset == nil && !s.distinct && !s.projectStar
}
