package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/expr"
)

// Validation error codes (E100-E199)
const (
	// Source errors (E100-E109)
	ErrMissingMainSource  = "E100" // model has no main from clause
	ErrDuplicateSource    = "E101" // two sources of one model share a name
	ErrSourceWithoutItems = "E102" // source has no item type or no from expression
	ErrOutOfScopeRef      = "E103" // reference to a source of a nested query

	// Clause errors (E110-E119)
	ErrNegativeCount    = "E110" // Take/Skip with a negative constant
	ErrEmptyInclude     = "E111" // Include without a navigation name
	ErrMissingPredicate = "E112" // Where/All without a predicate
	ErrMissingJoinKey   = "E113" // join clause without an outer or inner key
)

// ValidationError represents a structural problem of a query model.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateModel checks the structure of m and of every nested sub-query
// model. It returns all errors found (does not fail-fast).
//
// References to sources declared by no enclosing model are allowed: a
// standalone sub-query reads them as correlated outer values. Only a
// reference into a nested query's own sources is an error.
func ValidateModel(m *expr.QueryModel) []ValidationError {
	v := &modelValidator{nested: map[*expr.QuerySource]bool{}}
	v.collectNested(m, false)
	v.validate(m, "query", map[*expr.QuerySource]bool{})
	return v.errs
}

type modelValidator struct {
	errs   []ValidationError
	nested map[*expr.QuerySource]bool
}

func (v *modelValidator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
}

// collectNested records every source declared below the top-level model.
func (v *modelValidator) collectNested(m *expr.QueryModel, inner bool) {
	if m == nil {
		return
	}
	for _, s := range m.Sources() {
		if s != nil && inner {
			v.nested[s] = true
		}
	}
	expr.WalkModel(m, func(e expr.Expr) bool {
		if sq, ok := e.(*expr.SubQuery); ok {
			v.collectNested(sq.Model, true)
			return false
		}
		return true
	})
}

func (v *modelValidator) validate(m *expr.QueryModel, path string, outer map[*expr.QuerySource]bool) {
	if m == nil || m.MainFrom == nil {
		v.add(path+".from", ErrMissingMainSource, "query has no main source")
		return
	}

	visible := make(map[*expr.QuerySource]bool, len(outer)+4)
	for s := range outer {
		visible[s] = true
	}
	names := map[string]bool{}
	for i, s := range m.Sources() {
		field := fmt.Sprintf("%s.sources[%d]", path, i)
		if s == nil {
			v.add(field, ErrSourceWithoutItems, "source is nil")
			continue
		}
		visible[s] = true
		if s.Name != "" && names[s.Name] {
			v.add(field+".name", ErrDuplicateSource, "duplicate source name: %q", s.Name)
		}
		names[s.Name] = true
		if s.ItemType == nil || s.FromExpr == nil {
			v.add(field, ErrSourceWithoutItems, "source %q has no items", s.Name)
		}
	}

	check := func(field string, e expr.Expr) {
		v.checkRefs(field, e, visible)
	}
	for _, s := range m.Sources() {
		if s != nil {
			check(path+".from."+s.Name, s.FromExpr)
		}
	}
	for i, c := range m.Body {
		field := fmt.Sprintf("%s.body[%d]", path, i)
		switch cl := c.(type) {
		case *expr.WhereClause:
			if cl.Predicate == nil {
				v.add(field, ErrMissingPredicate, "where clause has no predicate")
			}
			check(field, cl.Predicate)
		case *expr.JoinClause:
			if cl.OuterKey == nil || cl.InnerKey == nil {
				v.add(field, ErrMissingJoinKey, "join clause needs both keys")
			}
			check(field, cl.OuterKey)
			check(field, cl.InnerKey)
		case *expr.OrderByClause:
			for _, o := range cl.Orderings {
				check(field, o.Expr)
			}
		}
	}
	check(path+".select", m.Selector)

	for i, op := range m.ResultOperators {
		field := fmt.Sprintf("%s.ops[%d]", path, i)
		switch o := op.(type) {
		case *expr.Take:
			v.checkCount(field, "Take", o.Count)
			check(field, o.Count)
		case *expr.Skip:
			v.checkCount(field, "Skip", o.Count)
			check(field, o.Count)
		case *expr.All:
			if o.Predicate == nil {
				v.add(field, ErrMissingPredicate, "All has no predicate")
			}
			check(field, o.Predicate)
		case *expr.Contains:
			check(field, o.Item)
		case *expr.GroupBy:
			check(field, o.Key)
			check(field, o.Element)
		case *expr.Include:
			if strings.TrimSpace(o.Navigation) == "" {
				v.add(field, ErrEmptyInclude, "include needs a navigation name")
			}
		}
	}
}

func (v *modelValidator) checkCount(field, op string, e expr.Expr) {
	c, ok := e.(*expr.Constant)
	if !ok {
		return
	}
	if n, ok := c.Value.(int); ok && n < 0 {
		v.add(field, ErrNegativeCount, "%s count must not be negative, got %d", op, n)
	}
}

// checkRefs reports references into nested queries and validates nested
// models with the current sources visible.
func (v *modelValidator) checkRefs(field string, e expr.Expr, visible map[*expr.QuerySource]bool) {
	expr.Walk(e, func(n expr.Expr) bool {
		switch x := n.(type) {
		case *expr.SubQuery:
			v.validate(x.Model, field+".sub", visible)
			return false
		case *expr.QuerySourceRef:
			if x.Source != nil && v.nested[x.Source] && !visible[x.Source] {
				v.add(field, ErrOutOfScopeRef, "source %q is declared by a nested query", x.Source.Name)
			}
		}
		return true
	})
}
