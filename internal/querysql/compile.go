package querysql

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/relq/internal/queryir"
)

// Command is rendered SQL text plus its positional arguments.
type Command struct {
	Text string
	Args []any
}

// Renderer renders frozen select expressions to parameterized SQLite SQL.
//
// CRITICAL: All values are parameterized, never interpolated. Constants
// captured at compile time become positional arguments just like runtime
// parameters.
type Renderer struct {
	// Validate runs queryir.Validate before rendering.
	Validate bool
}

// NewRenderer creates a renderer that validates its input.
func NewRenderer() *Renderer {
	return &Renderer{Validate: true}
}

// Render converts sel to SQL. params supplies runtime parameter values by
// name; a slice value expands into one placeholder per element when used
// in an IN list.
func (r *Renderer) Render(sel *queryir.SelectExpression, params map[string]any) (Command, error) {
	if sel == nil {
		return Command{}, fmt.Errorf("cannot render nil select")
	}
	if r.Validate {
		if res := queryir.Validate(sel); !res.IsValid {
			return Command{}, fmt.Errorf("invalid select: %s", strings.Join(res.Problems, "; "))
		}
	}
	w := &writer{params: params}
	if err := w.writeSelect(sel); err != nil {
		return Command{}, err
	}
	return Command{Text: w.sb.String(), Args: w.args}, nil
}

type writer struct {
	sb     strings.Builder
	args   []any
	params map[string]any
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (w *writer) writeSelect(sel *queryir.SelectExpression) error {
	tables := sel.Tables()
	if len(tables) == 1 {
		if f, ok := tables[0].(*queryir.FromSQL); ok && !f.Composable {
			return w.writeVerbatim(f)
		}
	}

	w.sb.WriteString("SELECT ")
	if sel.IsDistinct() {
		w.sb.WriteString("DISTINCT ")
	}
	if err := w.writeProjection(sel); err != nil {
		return err
	}

	if len(tables) > 0 {
		w.sb.WriteString(" FROM ")
		for i, t := range tables {
			if i > 0 {
				if _, ok := t.(*queryir.Join); !ok {
					w.sb.WriteString(", ")
				}
			}
			if err := w.writeTable(t); err != nil {
				return err
			}
		}
	}

	if p := sel.Predicate(); p != nil {
		w.sb.WriteString(" WHERE ")
		if err := w.writeExpr(p, false); err != nil {
			return fmt.Errorf("render predicate: %w", err)
		}
	}

	if keys := sel.GroupBy(); len(keys) > 0 {
		w.sb.WriteString(" GROUP BY ")
		for i, k := range keys {
			if i > 0 {
				w.sb.WriteString(", ")
			}
			if err := w.writeExpr(k, false); err != nil {
				return err
			}
		}
	}

	if orderings := sel.Orderings(); len(orderings) > 0 {
		w.sb.WriteString(" ORDER BY ")
		for i, o := range orderings {
			if i > 0 {
				w.sb.WriteString(", ")
			}
			if err := w.writeExpr(o.Expr, false); err != nil {
				return err
			}
			if o.Descending {
				w.sb.WriteString(" DESC")
			}
		}
	}

	if sel.Limit() != nil || sel.Offset() != nil {
		w.sb.WriteString(" LIMIT ")
		if sel.Limit() != nil {
			if err := w.writeExpr(sel.Limit(), false); err != nil {
				return err
			}
		} else {
			w.sb.WriteString("-1")
		}
		if sel.Offset() != nil {
			w.sb.WriteString(" OFFSET ")
			if err := w.writeExpr(sel.Offset(), false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) writeVerbatim(f *queryir.FromSQL) error {
	w.sb.WriteString(f.SQL)
	for _, a := range f.Args {
		v, err := w.value(a)
		if err != nil {
			return err
		}
		w.args = append(w.args, v)
	}
	return nil
}

func (w *writer) writeProjection(sel *queryir.SelectExpression) error {
	if sel.IsProjectStar() {
		w.sb.WriteString("*")
		return nil
	}
	for i, p := range sel.Projections() {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		if err := w.writeExpr(p.Expr, false); err != nil {
			return fmt.Errorf("render projection %d: %w", i, err)
		}
		if p.Alias != "" {
			w.sb.WriteString(" AS " + quote(p.Alias))
		}
	}
	return nil
}

func (w *writer) writeTable(t queryir.TableSource) error {
	switch n := t.(type) {
	case *queryir.Table:
		if n.Schema != "" {
			w.sb.WriteString(quote(n.Schema) + ".")
		}
		w.sb.WriteString(quote(n.Name) + " AS " + quote(n.As))
	case *queryir.FromSQL:
		w.sb.WriteString("(" + n.SQL + ")")
		for _, a := range n.Args {
			v, err := w.value(a)
			if err != nil {
				return err
			}
			w.args = append(w.args, v)
		}
		w.sb.WriteString(" AS " + quote(n.As))
	case *queryir.Derived:
		w.sb.WriteString("(")
		if err := w.writeSelect(n.Select); err != nil {
			return err
		}
		w.sb.WriteString(") AS " + quote(n.As))
	case *queryir.Join:
		w.sb.WriteString(" " + n.Kind.SQL() + " ")
		if err := w.writeTable(n.Table); err != nil {
			return err
		}
		if n.On != nil {
			w.sb.WriteString(" ON ")
			if err := w.writeExpr(n.On, false); err != nil {
				return fmt.Errorf("render join %s: %w", n.Alias(), err)
			}
		}
	default:
		return fmt.Errorf("unsupported table source: %T", t)
	}
	return nil
}

// writeExpr renders e. nested requests parentheses around operators so
// precedence never depends on the dialect.
func (w *writer) writeExpr(e queryir.Expression, nested bool) error {
	switch n := e.(type) {
	case *queryir.Column:
		if n.Table != "" {
			w.sb.WriteString(quote(n.Table) + ".")
		}
		w.sb.WriteString(quote(n.Name))
	case *queryir.Constant, *queryir.Parameter:
		v, err := w.value(e)
		if err != nil {
			return err
		}
		if v == nil {
			w.sb.WriteString("NULL")
			return nil
		}
		w.sb.WriteString("?")
		w.args = append(w.args, v)
	case *queryir.Binary:
		return w.writeBinary(n, nested)
	case *queryir.Unary:
		if n.Op == queryir.OpNot {
			w.sb.WriteString("NOT ")
		} else {
			w.sb.WriteString("-")
		}
		return w.writeExpr(n.Operand, true)
	case *queryir.IsNull:
		w.open(nested)
		if err := w.writeExpr(n.Operand, true); err != nil {
			return err
		}
		if n.Negated {
			w.sb.WriteString(" IS NOT NULL")
		} else {
			w.sb.WriteString(" IS NULL")
		}
		w.close(nested)
	case *queryir.Convert:
		if n.StoreType == "" {
			return w.writeExpr(n.Operand, nested)
		}
		w.sb.WriteString("CAST(")
		if err := w.writeExpr(n.Operand, false); err != nil {
			return err
		}
		w.sb.WriteString(" AS " + n.StoreType + ")")
	case *queryir.Function:
		w.sb.WriteString(n.Name + "(")
		for i, a := range n.Args {
			if i > 0 {
				w.sb.WriteString(", ")
			}
			if err := w.writeExpr(a, false); err != nil {
				return err
			}
		}
		w.sb.WriteString(")")
	case *queryir.Aggregate:
		w.sb.WriteString(string(n.Func) + "(")
		if n.Operand == nil {
			w.sb.WriteString("*")
		} else if err := w.writeExpr(n.Operand, false); err != nil {
			return err
		}
		w.sb.WriteString(")")
	case *queryir.In:
		return w.writeIn(n, nested)
	case *queryir.Exists:
		if n.Negated {
			w.sb.WriteString("NOT ")
		}
		w.sb.WriteString("EXISTS (")
		if err := w.writeSelect(n.Subquery); err != nil {
			return err
		}
		w.sb.WriteString(")")
	case *queryir.ScalarSubquery:
		w.sb.WriteString("(")
		if err := w.writeSelect(n.Subquery); err != nil {
			return err
		}
		w.sb.WriteString(")")
	case *queryir.Case:
		w.sb.WriteString("CASE")
		for _, wh := range n.Whens {
			w.sb.WriteString(" WHEN ")
			if err := w.writeExpr(wh.Test, false); err != nil {
				return err
			}
			w.sb.WriteString(" THEN ")
			if err := w.writeExpr(wh.Result, false); err != nil {
				return err
			}
		}
		if n.Else != nil {
			w.sb.WriteString(" ELSE ")
			if err := w.writeExpr(n.Else, false); err != nil {
				return err
			}
		}
		w.sb.WriteString(" END")
	case *queryir.Composite:
		return fmt.Errorf("composite %s cannot be rendered as a value", queryir.FormatExpr(n))
	default:
		return fmt.Errorf("unsupported expression: %T", e)
	}
	return nil
}

func (w *writer) open(nested bool) {
	if nested {
		w.sb.WriteString("(")
	}
}

func (w *writer) close(nested bool) {
	if nested {
		w.sb.WriteString(")")
	}
}

// writeBinary renders comparisons against a NULL value as IS [NOT] NULL so
// a nil runtime parameter keeps host equality semantics.
func (w *writer) writeBinary(b *queryir.Binary, nested bool) error {
	if b.Op == queryir.OpEqual || b.Op == queryir.OpNotEqual {
		other := b.Left
		isNull, err := w.isNullValue(b.Right)
		if err != nil {
			return err
		}
		if !isNull {
			other = b.Right
			if isNull, err = w.isNullValue(b.Left); err != nil {
				return err
			}
		}
		if isNull {
			return w.writeExpr(&queryir.IsNull{Operand: other, Negated: b.Op == queryir.OpNotEqual}, nested)
		}
	}
	w.open(nested)
	if err := w.writeExpr(b.Left, true); err != nil {
		return err
	}
	w.sb.WriteString(" " + b.Op.SQL() + " ")
	if err := w.writeExpr(b.Right, true); err != nil {
		return err
	}
	w.close(nested)
	return nil
}

func (w *writer) isNullValue(e queryir.Expression) (bool, error) {
	switch e.(type) {
	case *queryir.Constant, *queryir.Parameter:
		v, err := w.value(e)
		return v == nil, err
	}
	return false, nil
}

func (w *writer) writeIn(n *queryir.In, nested bool) error {
	if n.Subquery != nil {
		w.open(nested)
		if err := w.writeExpr(n.Operand, true); err != nil {
			return err
		}
		if n.Negated {
			w.sb.WriteString(" NOT")
		}
		w.sb.WriteString(" IN (")
		if err := w.writeSelect(n.Subquery); err != nil {
			return err
		}
		w.sb.WriteString(")")
		w.close(nested)
		return nil
	}

	list, err := w.value(n.Values)
	if err != nil {
		return err
	}
	var values []any
	hasNull := false
	if list != nil {
		rv := reflect.ValueOf(list)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return fmt.Errorf("IN list must be a slice, got %T", list)
		}
		for i := 0; i < rv.Len(); i++ {
			v := normalizeArg(rv.Index(i).Interface())
			if v == nil {
				hasNull = true
				continue
			}
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		switch {
		case hasNull:
			return w.writeExpr(&queryir.IsNull{Operand: n.Operand, Negated: n.Negated}, nested)
		case n.Negated:
			w.sb.WriteString("1 = 1")
		default:
			w.sb.WriteString("1 = 0")
		}
		return nil
	}

	w.sb.WriteString("(")
	if err := w.writeExpr(n.Operand, true); err != nil {
		return err
	}
	if n.Negated {
		w.sb.WriteString(" NOT")
	}
	w.sb.WriteString(" IN (")
	for i, v := range values {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		w.sb.WriteString("?")
		w.args = append(w.args, v)
	}
	w.sb.WriteString(")")
	if hasNull {
		if n.Negated {
			w.sb.WriteString(" AND ")
		} else {
			w.sb.WriteString(" OR ")
		}
		if err := w.writeExpr(&queryir.IsNull{Operand: n.Operand, Negated: n.Negated}, true); err != nil {
			return err
		}
	}
	w.sb.WriteString(")")
	return nil
}

// value resolves a constant or parameter to its argument value.
func (w *writer) value(e queryir.Expression) (any, error) {
	switch n := e.(type) {
	case *queryir.Constant:
		return normalizeArg(n.Value), nil
	case *queryir.Parameter:
		v, ok := w.params[n.Name]
		if !ok {
			return nil, fmt.Errorf("missing value for parameter %q", n.Name)
		}
		return normalizeArg(v), nil
	}
	return nil, fmt.Errorf("expected constant or parameter, got %T", e)
}

// normalizeArg dereferences nullable pointers so nil pointers render as
// NULL.
func normalizeArg(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}
