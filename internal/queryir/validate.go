package queryir

import (
	"fmt"
)

// ValidationResult lists structural problems found in a select.
type ValidationResult struct {
	// IsValid is true when the select can be rendered.
	IsValid bool

	// Problems lists the violations. Empty when IsValid is true.
	Problems []string
}

// Validate checks the structural rules a renderer relies on:
//  1. A select has at least one projection unless it projects *.
//  2. A join wrapper is never the first table; non-cross joins carry ON.
//  3. A non-composable literal SQL source is the only table of a star
//     select with no predicate, grouping, ordering or paging.
//  4. Column references resolve to a table alias of this select or of an
//     enclosing select (correlation).
//  5. Composite expressions only appear as grouping or ordering keys.
//
// Validate is a pure function with no side effects.
func Validate(s *SelectExpression) ValidationResult {
	v := &validator{}
	v.validateSelect(s, nil)
	return ValidationResult{IsValid: len(v.problems) == 0, Problems: v.problems}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateSelect(s *SelectExpression, outer map[string]bool) {
	if s == nil {
		v.addProblem("nil select")
		return
	}
	aliases := make(map[string]bool, len(outer)+len(s.tables))
	for a := range outer {
		aliases[a] = true
	}
	for _, t := range s.tables {
		aliases[t.Alias()] = true
	}

	if len(s.projection) == 0 && !s.projectStar {
		v.addProblem("select %q has an empty projection", s.alias)
	}

	for i, t := range s.tables {
		switch n := t.(type) {
		case *Join:
			if i == 0 {
				v.addProblem("join %q is the first table", n.Alias())
			}
			if n.Kind != JoinCross && n.On == nil {
				v.addProblem("join %q has no ON condition", n.Alias())
			}
			v.validateExpr(n.On, aliases)
			if d, ok := n.Table.(*Derived); ok {
				v.validateSelect(d.Select, outer)
			}
		case *Derived:
			v.validateSelect(n.Select, outer)
		case *FromSQL:
			if !n.Composable {
				v.validateVerbatim(s)
			}
		}
	}

	for _, p := range s.projection {
		v.validateExpr(p.Expr, aliases)
	}
	v.validateExpr(s.predicate, aliases)
	for _, g := range s.groupBy {
		v.validateExpr(g, aliases)
	}
	for _, o := range s.orderings {
		v.validateExpr(o.Expr, aliases)
	}
}

func (v *validator) validateVerbatim(s *SelectExpression) {
	if len(s.tables) != 1 || !s.projectStar {
		v.addProblem("non-composable SQL must be the only source of a star select")
	}
	if s.predicate != nil || len(s.groupBy) > 0 || len(s.orderings) > 0 || s.limit != nil || s.offset != nil || s.distinct {
		v.addProblem("non-composable SQL cannot be composed with further operators")
	}
}

func (v *validator) validateExpr(e Expression, aliases map[string]bool) {
	Walk(e, func(n Expression) bool {
		switch x := n.(type) {
		case *Column:
			if x.Table != "" && !aliases[x.Table] {
				v.addProblem("column %s references unknown table %q", x.Name, x.Table)
			}
		case *Composite:
			v.addProblem("composite %s used as a scalar value", FormatExpr(x))
			return false
		case *Exists:
			v.validateSelect(x.Subquery, aliases)
		case *ScalarSubquery:
			v.validateSelect(x.Subquery, aliases)
		case *In:
			if x.Subquery != nil {
				v.validateSelect(x.Subquery, aliases)
			}
		}
		return true
	})
}
