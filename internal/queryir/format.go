package queryir

import (
	"fmt"
	"strings"
)

// Format renders the select as an indented tree. The output is stable and
// used for diagnostics and golden tests.
func Format(s *SelectExpression) string {
	var sb strings.Builder
	writeSelect(&sb, s, 0)
	return sb.String()
}

func indent(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
}

func writeSelect(sb *strings.Builder, s *SelectExpression, depth int) {
	indent(sb, depth)
	sb.WriteString("Select")
	if s.alias != "" {
		sb.WriteString(" " + s.alias)
	}
	if s.distinct {
		sb.WriteString(" DISTINCT")
	}
	sb.WriteString("\n")

	indent(sb, depth+1)
	sb.WriteString("Projection:")
	if s.projectStar {
		sb.WriteString(" *")
	}
	sb.WriteString("\n")
	for i, p := range s.projection {
		indent(sb, depth+2)
		fmt.Fprintf(sb, "[%d] %s", i, FormatExpr(p.Expr))
		if p.Alias != "" {
			sb.WriteString(" AS " + p.Alias)
		}
		sb.WriteString("\n")
	}

	if len(s.tables) > 0 {
		indent(sb, depth+1)
		sb.WriteString("Tables:\n")
		for _, t := range s.tables {
			writeTable(sb, t, depth+2)
		}
	}
	if s.predicate != nil {
		indent(sb, depth+1)
		sb.WriteString("Predicate: " + FormatExpr(s.predicate) + "\n")
	}
	if len(s.groupBy) > 0 {
		parts := make([]string, len(s.groupBy))
		for i, g := range s.groupBy {
			parts[i] = FormatExpr(g)
		}
		indent(sb, depth+1)
		sb.WriteString("GroupBy: " + strings.Join(parts, ", ") + "\n")
	}
	if len(s.orderings) > 0 {
		parts := make([]string, len(s.orderings))
		for i, o := range s.orderings {
			parts[i] = FormatExpr(o.Expr)
			if o.Descending {
				parts[i] += " DESC"
			}
		}
		indent(sb, depth+1)
		sb.WriteString("OrderBy: " + strings.Join(parts, ", ") + "\n")
	}
	if s.limit != nil {
		indent(sb, depth+1)
		sb.WriteString("Limit: " + FormatExpr(s.limit) + "\n")
	}
	if s.offset != nil {
		indent(sb, depth+1)
		sb.WriteString("Offset: " + FormatExpr(s.offset) + "\n")
	}
}

func writeTable(sb *strings.Builder, t TableSource, depth int) {
	indent(sb, depth)
	switch n := t.(type) {
	case *Table:
		name := n.Name
		if n.Schema != "" {
			name = n.Schema + "." + name
		}
		fmt.Fprintf(sb, "Table %s AS %s\n", name, n.As)
	case *FromSQL:
		kind := "FromSQL"
		if !n.Composable {
			kind = "FromSQL (non-composable)"
		}
		fmt.Fprintf(sb, "%s %q AS %s\n", kind, n.SQL, n.As)
	case *Derived:
		fmt.Fprintf(sb, "Derived AS %s\n", n.As)
		writeSelect(sb, n.Select, depth+1)
	case *Join:
		sb.WriteString(n.Kind.SQL())
		if n.On != nil {
			sb.WriteString(" ON " + FormatExpr(n.On))
		}
		sb.WriteString("\n")
		writeTable(sb, n.Table, depth+1)
	}
}

// FormatExpr renders a bound expression in a SQL-like infix form.
// Constants are shown inline; parameters as @name.
func FormatExpr(e Expression) string {
	switch n := e.(type) {
	case nil:
		return "<nil>"
	case *Column:
		if n.Table == "" {
			return n.Name
		}
		return n.Table + "." + n.Name
	case *Constant:
		switch v := n.Value.(type) {
		case nil:
			return "NULL"
		case string:
			return "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return fmt.Sprintf("%v", n.Value)
	case *Parameter:
		return "@" + n.Name
	case *Binary:
		return "(" + FormatExpr(n.Left) + " " + n.Op.SQL() + " " + FormatExpr(n.Right) + ")"
	case *Unary:
		if n.Op == OpNot {
			return "NOT " + FormatExpr(n.Operand)
		}
		return "-" + FormatExpr(n.Operand)
	case *IsNull:
		if n.Negated {
			return FormatExpr(n.Operand) + " IS NOT NULL"
		}
		return FormatExpr(n.Operand) + " IS NULL"
	case *Convert:
		if n.StoreType == "" {
			return FormatExpr(n.Operand)
		}
		return "CAST(" + FormatExpr(n.Operand) + " AS " + n.StoreType + ")"
	case *Function:
		return n.Name + "(" + formatList(n.Args) + ")"
	case *In:
		op := " IN "
		if n.Negated {
			op = " NOT IN "
		}
		if n.Subquery != nil {
			return FormatExpr(n.Operand) + op + "(<subquery>)"
		}
		return FormatExpr(n.Operand) + op + FormatExpr(n.Values)
	case *Exists:
		if n.Negated {
			return "NOT EXISTS(<subquery>)"
		}
		return "EXISTS(<subquery>)"
	case *Case:
		var sb strings.Builder
		sb.WriteString("CASE")
		for _, w := range n.Whens {
			sb.WriteString(" WHEN " + FormatExpr(w.Test) + " THEN " + FormatExpr(w.Result))
		}
		if n.Else != nil {
			sb.WriteString(" ELSE " + FormatExpr(n.Else))
		}
		sb.WriteString(" END")
		return sb.String()
	case *Composite:
		return "(" + formatList(n.Parts) + ")"
	case *ScalarSubquery:
		return "(<subquery>)"
	case *Aggregate:
		if n.Operand == nil {
			return string(n.Func) + "(*)"
		}
		return string(n.Func) + "(" + FormatExpr(n.Operand) + ")"
	}
	return fmt.Sprintf("<%T>", e)
}

func formatList(es []Expression) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = FormatExpr(e)
	}
	return strings.Join(parts, ", ")
}
