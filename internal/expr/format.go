package expr

import (
	"fmt"
	"strings"
)

// Format renders e in a compact host-like syntax for logs and errors.
func Format(e Expr) string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

func writeExpr(sb *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Constant:
		if n.IsNull() {
			sb.WriteString("nil")
		} else if s, ok := n.Value.(string); ok {
			fmt.Fprintf(sb, "%q", s)
		} else {
			fmt.Fprintf(sb, "%v", n.Value)
		}
	case *Parameter:
		sb.WriteString("@" + n.Name)
	case *QuerySourceRef:
		if n.Source == nil || n.Source.Name == "" {
			sb.WriteString("<source>")
		} else {
			sb.WriteString(n.Source.Name)
		}
	case *Member:
		writeExpr(sb, n.Object)
		sb.WriteString("." + n.Name)
	case *Binary:
		sb.WriteString("(")
		writeExpr(sb, n.Left)
		sb.WriteString(" " + n.Op.String() + " ")
		writeExpr(sb, n.Right)
		sb.WriteString(")")
	case *Unary:
		if n.Op == OpConvert {
			fmt.Fprintf(sb, "%v(", n.T)
			writeExpr(sb, n.Operand)
			sb.WriteString(")")
			return
		}
		sb.WriteString(n.Op.String())
		writeExpr(sb, n.Operand)
	case *Conditional:
		sb.WriteString("(")
		writeExpr(sb, n.Test)
		sb.WriteString(" ? ")
		writeExpr(sb, n.IfTrue)
		sb.WriteString(" : ")
		writeExpr(sb, n.IfFalse)
		sb.WriteString(")")
	case *Call:
		if n.Object != nil {
			writeExpr(sb, n.Object)
			sb.WriteString(".")
		}
		sb.WriteString(n.Method + "(")
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExpr(sb, a)
		}
		sb.WriteString(")")
	case *New:
		sb.WriteString("new {")
		for i, m := range n.Members {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(" " + m + " = ")
			writeExpr(sb, n.Args[i])
		}
		sb.WriteString(" }")
	case *SubQuery:
		sb.WriteString("{")
		sb.WriteString(FormatModel(n.Model))
		sb.WriteString("}")
	case *EntityQueryable:
		if n.SQL != nil {
			fmt.Fprintf(sb, "FromSQL<%v>(%q)", n.Entity, n.SQL.Text)
		} else {
			fmt.Fprintf(sb, "Set<%v>", n.Entity)
		}
	case *ValueBufferRead:
		fmt.Fprintf(sb, "row[%d]", n.Index)
	default:
		fmt.Fprintf(sb, "<%T>", e)
	}
}

// FormatModel renders a query model in comprehension syntax.
func FormatModel(m *QueryModel) string {
	if m == nil {
		return "<nil>"
	}
	var sb strings.Builder
	writeSource(&sb, "from", m.MainFrom)
	for _, c := range m.Body {
		switch cl := c.(type) {
		case *WhereClause:
			sb.WriteString(" where ")
			writeExpr(&sb, cl.Predicate)
		case *JoinClause:
			sb.WriteString(" ")
			writeSource(&sb, "join", cl.Source)
			sb.WriteString(" on ")
			writeExpr(&sb, cl.OuterKey)
			sb.WriteString(" equals ")
			writeExpr(&sb, cl.InnerKey)
		case *AdditionalFromClause:
			sb.WriteString(" ")
			writeSource(&sb, "from", cl.Source)
		case *OrderByClause:
			sb.WriteString(" orderby ")
			for i, o := range cl.Orderings {
				if i > 0 {
					sb.WriteString(", ")
				}
				writeExpr(&sb, o.Expr)
				if o.Descending {
					sb.WriteString(" desc")
				}
			}
		}
	}
	sb.WriteString(" select ")
	writeExpr(&sb, m.SelectorOrSource())
	for _, op := range m.ResultOperators {
		sb.WriteString(" => " + formatResultOperator(op))
	}
	return sb.String()
}

func writeSource(sb *strings.Builder, kw string, s *QuerySource) {
	if s == nil {
		sb.WriteString(kw + " <nil>")
		return
	}
	sb.WriteString(kw + " " + s.Name + " in ")
	writeExpr(sb, s.FromExpr)
}

func formatResultOperator(op ResultOperator) string {
	switch o := op.(type) {
	case *First:
		if o.OrDefault {
			return "FirstOrDefault()"
		}
		return "First()"
	case *Single:
		if o.OrDefault {
			return "SingleOrDefault()"
		}
		return "Single()"
	case *Take:
		return "Take(" + Format(o.Count) + ")"
	case *Skip:
		return "Skip(" + Format(o.Count) + ")"
	case *Count:
		return "Count()"
	case *Any:
		return "Any()"
	case *All:
		return "All(" + Format(o.Predicate) + ")"
	case *Contains:
		return "Contains(" + Format(o.Item) + ")"
	case *Distinct:
		return "Distinct()"
	case *Aggregate:
		return o.Func.String() + "()"
	case *GroupBy:
		return "GroupBy(" + Format(o.Key) + ", " + Format(o.Element) + ")"
	case *Include:
		return "Include(" + o.Navigation + ")"
	}
	return fmt.Sprintf("<%T>", op)
}
