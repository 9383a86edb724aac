package compiler

import (
	"bytes"
	"log/slog"
	"reflect"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/shaper"
	"github.com/roach88/relq/internal/testutil"
)

var (
	stringType = reflect.TypeOf("")
	strPtrType = reflect.TypeOf((*string)(nil))
)

func newTestCompiler(opts ...Option) *Compiler {
	opts = append([]Option{WithCompileIDGenerator(testutil.NewFixedIDGenerator(""))}, opts...)
	return New(testutil.MustModel(), opts...)
}

func mustCompile(t *testing.T, c *Compiler, m *expr.QueryModel) *CompiledQuery {
	t.Helper()
	cq, err := c.Compile(m)
	require.NoError(t, err)
	return cq
}

func predicate(t *testing.T, cq *CompiledQuery) string {
	t.Helper()
	require.NotNil(t, cq.Select)
	return queryir.FormatExpr(cq.Select.Predicate())
}

func TestCompile_EndToEnd(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	m := expr.Query(c).
		Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Ann"))).
		Select(expr.Field(expr.Ref(c), "ID"))

	cq := mustCompile(t, newTestCompiler(), m)

	sel := cq.Select
	require.Len(t, sel.Tables(), 1)
	assert.Equal(t, &queryir.Table{Name: "Customers", As: "c"}, sel.Tables()[0])

	pred, ok := sel.Predicate().(*queryir.Binary)
	require.True(t, ok)
	assert.Equal(t, queryir.OpEqual, pred.Op)
	assert.Equal(t, &queryir.Column{Table: "c", Name: "Name", T: stringType}, pred.Left)
	assert.Equal(t, &queryir.Constant{Value: "Ann", T: stringType}, pred.Right)

	require.Equal(t, 1, sel.ProjectionCount())
	assert.Equal(t, "c.Id", queryir.FormatExpr(sel.Projection(0).Expr))

	scalar, ok := cq.Shaper.(*shaper.ScalarShaper)
	require.True(t, ok)
	assert.Equal(t, 0, scalar.Index)
	assert.Nil(t, cq.Client)
	assert.Empty(t, cq.ClientExprs)
	assert.True(t, sel.IsFrozen())

	cmd, err := querysql.NewRenderer().Render(sel, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ?`, cmd.Text)
	assert.Equal(t, []any{"Ann"}, cmd.Args)
}

func TestCompile_NullPropagation(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	city := expr.Field(expr.Ref(c), "City")

	tests := []struct {
		name string
		pred expr.Expr
		want string
	}{
		{"equals nil", expr.Eq(city, expr.Null(strPtrType)), "c.City IS NULL"},
		{"nil equals", expr.Eq(expr.Null(strPtrType), city), "c.City IS NULL"},
		{"not nil", expr.Ne(city, expr.Null(strPtrType)), "c.City IS NOT NULL"},
		{
			"nullable operands",
			expr.Eq(city, expr.Param("city", strPtrType)),
			"((c.City = @city) OR (c.City IS NULL AND @city IS NULL))",
		},
		{
			"nullable inequality",
			expr.Ne(city, expr.Param("city", strPtrType)),
			"(((c.City <> @city) OR (c.City IS NULL AND @city IS NOT NULL)) OR (@city IS NULL AND c.City IS NOT NULL))",
		},
		{
			"widened comparison",
			expr.Eq(city, expr.Const("Oslo")),
			"(c.City = 'Oslo')",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(tt.pred))
			if tt.name == "widened comparison" {
				pred := cq.Select.Predicate().(*queryir.Binary)
				conv, ok := pred.Right.(*queryir.Convert)
				require.True(t, ok, "non-nullable side is widened")
				assert.Equal(t, strPtrType, conv.T)
			}
			assert.Equal(t, tt.want, predicate(t, cq))
		})
	}
}

func TestCompile_StructuralEquality(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	key := func(e expr.Expr) *expr.New {
		return expr.Tuple(expr.P("ID", expr.Field(expr.Ref(c), "ID")), expr.P("Name", e))
	}
	name := expr.Field(expr.Ref(c), "Name")

	tests := []struct {
		name string
		pred expr.Expr
		want string
	}{
		{
			"equal tuples",
			expr.Eq(key(name), expr.Tuple(expr.P("ID", expr.Const(1)), expr.P("Name", expr.Const("Ann")))),
			"((c.Id = 1) AND (c.Name = 'Ann'))",
		},
		{
			"unequal tuples",
			expr.Ne(key(name), expr.Tuple(expr.P("ID", expr.Const(1)), expr.P("Name", expr.Const("Ann")))),
			"((c.Id <> 1) OR (c.Name <> 'Ann'))",
		},
		{
			"single component",
			expr.Eq(expr.Tuple(expr.P("ID", expr.Field(expr.Ref(c), "ID"))), expr.Tuple(expr.P("ID", expr.Const(2)))),
			"(c.Id = 2)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(tt.pred))
			assert.Equal(t, tt.want, predicate(t, cq))
		})
	}
}

func TestCompile_SlotStability(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	name := expr.Field(expr.Ref(c), "Name")

	t.Run("duplicate leaves share a slot", func(t *testing.T) {
		m := expr.Query(c).Select(expr.Tuple(expr.P("A", name), expr.P("B", name)))
		cq := mustCompile(t, newTestCompiler(), m)
		assert.Equal(t, 1, cq.Select.ProjectionCount())
		assert.IsType(t, &shaper.ProjectionShaper{}, cq.Shaper)
		assert.Empty(t, cq.ClientExprs)
	})

	t.Run("failed translation leaves no slot behind", func(t *testing.T) {
		reversed := expr.Method(name, "Reverse", stringType)
		m := expr.Query(c).Select(expr.Tuple(expr.P("Name", name), expr.P("Rev", reversed)))
		cq := mustCompile(t, newTestCompiler(), m)
		assert.Equal(t, 1, cq.Select.ProjectionCount())
		assert.Equal(t, "c.Name", queryir.FormatExpr(cq.Select.Projection(0).Expr))
		require.Len(t, cq.ClientExprs, 1)
		assert.Contains(t, cq.ClientExprs[0], "Reverse")
	})
}

func TestCompile_DiscriminatorCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		source *expr.QuerySource
		want   string
	}{
		{"one subtype", expr.From("a", testutil.Dog{}), "(a.Kind = 'dog')"},
		{
			"hierarchy root",
			expr.From("a", testutil.Animal{}),
			"(((a.Kind = 'animal') OR (a.Kind = 'dog')) OR (a.Kind = 'cat'))",
		},
		{"own table", expr.From("a", testutil.Customer{}), "<nil>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cq := mustCompile(t, newTestCompiler(), expr.Query(tt.source))
			assert.Equal(t, tt.want, predicate(t, cq))
		})
	}
}

func TestCompile_ClientFallbackIsStable(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	m := expr.Query(c).
		Where(expr.And(
			expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Ann")),
			expr.Eq(expr.Method(expr.Field(expr.Ref(c), "Name"), "Reverse", stringType), expr.Const("nnA")),
		))

	var logs bytes.Buffer
	comp := newTestCompiler(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	first := mustCompile(t, comp, m)
	second := mustCompile(t, comp, m)

	assert.Equal(t, first.Describe(), second.Describe())
	assert.Equal(t, "(c.Name = 'Ann')", predicate(t, first), "the translatable conjunct stays on the server")
	assert.IsType(t, &shaper.ValueBuffer{}, first.Shaper)
	require.NotNil(t, first.Client)
	require.Len(t, first.ClientExprs, 1)
	assert.Contains(t, logs.String(), "expression will be evaluated on the client")
	assert.Contains(t, logs.String(), "compile_id=test-compile")
}

func TestCompile_NonComposableSQLWithInclude(t *testing.T) {
	o := expr.FromSQL("o", testutil.Order{}, "EXEC GetOrders")
	_, err := newTestCompiler().Compile(expr.Query(o).Include("Customer"))
	require.Error(t, err)
	assert.True(t, IsIncludeWithNonComposableSQL(err))

	var te *TranslationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "o", te.Source)
	assert.Contains(t, te.Message, "SELECT")

	t.Run("composable SQL can be joined", func(t *testing.T) {
		o := expr.FromSQL("o", testutil.Order{}, "select * from Orders where Total > ?", 10)
		cq := mustCompile(t, newTestCompiler(), expr.Query(o).Include("Customer"))
		tables := cq.Select.Tables()
		require.Len(t, tables, 2)
		assert.IsType(t, &queryir.FromSQL{}, tables[0])
		join, ok := tables[1].(*queryir.Join)
		require.True(t, ok)
		assert.Equal(t, queryir.JoinLeft, join.Kind)
	})

	t.Run("non-composable SQL alone runs on the client", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(o))
		assert.True(t, cq.Select.IsProjectStar())
		assert.IsType(t, &shaper.ValueBuffer{}, cq.Shaper)
		assert.NotNil(t, cq.Client)
	})
}

func TestCompile_Include(t *testing.T) {
	o := expr.From("o", testutil.Order{})
	cq := mustCompile(t, newTestCompiler(), expr.Query(o).Include("Customer"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "include_reference", []byte(cq.Describe()))
}

func TestCompile_Errors(t *testing.T) {
	type unmapped struct{ A int }
	c := expr.From("c", testutil.Customer{})
	o := expr.From("o", testutil.Order{})

	tests := []struct {
		name  string
		opts  []Option
		model *expr.QueryModel
		check func(error) bool
	}{
		{"nil model", nil, nil, IsInvalidQueryModel},
		{"unknown entity", nil, expr.Query(expr.From("u", unmapped{})), IsUnknownEntityType},
		{"unknown navigation", nil, expr.Query(o).Include("Nope"), IsInvalidQueryModel},
		{
			"client evaluation disabled",
			[]Option{WithClientEvalDisabled()},
			expr.Query(c).Where(expr.Eq(expr.Method(expr.Field(expr.Ref(c), "Name"), "Reverse", stringType), expr.Const("x"))),
			IsClientEvalDisabled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestCompiler(tt.opts...).Compile(tt.model)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestCompile_ResultOperators(t *testing.T) {
	c := expr.From("c", testutil.Customer{})

	t.Run("count", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Count())
		assert.Equal(t, ResultScalar, cq.Result)
		require.Equal(t, 1, cq.Select.ProjectionCount())
		assert.Equal(t, "COUNT(*)", queryir.FormatExpr(cq.Select.Projection(0).Expr))
	})

	t.Run("count after take wraps", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Take(2).Count())
		require.Len(t, cq.Select.Tables(), 1)
		derived, ok := cq.Select.Tables()[0].(*queryir.Derived)
		require.True(t, ok)
		assert.Equal(t, "2", queryir.FormatExpr(derived.Select.Limit()))
	})

	t.Run("first", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).FirstOrDefault())
		assert.Equal(t, ResultFirst, cq.Result)
		assert.True(t, cq.OrDefault)
		assert.Equal(t, "1", queryir.FormatExpr(cq.Select.Limit()))
	})

	t.Run("single reads two rows", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Single())
		assert.Equal(t, ResultSingle, cq.Result)
		assert.Equal(t, "2", queryir.FormatExpr(cq.Select.Limit()))
	})

	t.Run("any", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Any())
		assert.Empty(t, cq.Select.Tables())
		assert.IsType(t, &queryir.Exists{}, cq.Select.Projection(0).Expr)
	})

	t.Run("max of non-nullable values", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Select(expr.Field(expr.Ref(c), "ID")).Max())
		assert.Equal(t, ResultAggregate, cq.Result)
		assert.Equal(t, "MAX(c.Id)", queryir.FormatExpr(cq.Select.Projection(0).Expr))
	})

	t.Run("group by runs on the client", func(t *testing.T) {
		m := expr.Query(c).GroupBy(expr.Field(expr.Ref(c), "Name"), nil)
		cq := mustCompile(t, newTestCompiler(), m)
		assert.IsType(t, &shaper.ValueBuffer{}, cq.Shaper)
		assert.NotNil(t, cq.Client)
	})
}

func TestCompile_SubQueries(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	o := expr.From("o", testutil.Order{})
	orders := expr.Query(o).Where(expr.Eq(
		expr.Field(expr.Ref(o), "CustomerID"),
		expr.Convert(expr.Field(expr.Ref(c), "ID"), reflect.TypeOf((*int)(nil))),
	))

	t.Run("any becomes exists", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(orders.Any().Sub()))
		exists, ok := cq.Select.Predicate().(*queryir.Exists)
		require.True(t, ok)
		assert.False(t, exists.Negated)
		assert.Nil(t, cq.Client)
	})

	t.Run("in-memory contains becomes in", func(t *testing.T) {
		ids := expr.FromValues("id", []int{1, 3})
		contains := expr.Query(ids).Contains(expr.Field(expr.Ref(c), "ID")).Sub()
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(contains))
		in, ok := cq.Select.Predicate().(*queryir.In)
		require.True(t, ok)
		assert.NotNil(t, in.Values)
	})
}

func TestCompile_NegatedNullablePredicates(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	city := expr.Field(expr.Ref(c), "City")
	id := expr.Field(expr.Ref(c), "ID")
	name := expr.Field(expr.Ref(c), "Name")

	tests := []struct {
		name string
		pred expr.Expr
		want string
	}{
		{"negated equality keeps null rows", expr.Not(expr.Eq(city, expr.Const("Oslo"))), "((c.City <> 'Oslo') OR c.City IS NULL)"},
		{"negated inequality", expr.Not(expr.Ne(city, expr.Const("Oslo"))), "(c.City = 'Oslo')"},
		{"negated ordering", expr.Not(expr.Lt(city, expr.Const("P"))), "NOT COALESCE((c.City < 'P'), false)"},
		{"negated null test", expr.Not(expr.Eq(city, expr.Null(strPtrType))), "c.City IS NOT NULL"},
		{"non-nullable operands", expr.Not(expr.Gt(id, expr.Const(2))), "NOT (c.Id > 2)"},
		{"non-nullable equality", expr.Not(expr.Eq(name, expr.Const("Ann"))), "(c.Name <> 'Ann')"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(tt.pred))
			assert.Nil(t, cq.Client)
			assert.Equal(t, tt.want, predicate(t, cq))
		})
	}

	t.Run("negated membership", func(t *testing.T) {
		cities := expr.FromValues("x", []string{"Oslo"})
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(expr.Not(expr.Query(cities).Contains(city).Sub())))
		assert.Contains(t, predicate(t, cq), "NOT COALESCE(c.City IN ")
	})
}

func TestCompile_Conditional(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	id := expr.Field(expr.Ref(c), "ID")
	isAnn := expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Ann"))
	inOslo := expr.Eq(expr.Field(expr.Ref(c), "City"), expr.Const("Oslo"))

	t.Run("boolean branches", func(t *testing.T) {
		pred := expr.Cond(isAnn, expr.Gt(id, expr.Const(1)), expr.Lt(id, expr.Const(3)))
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(pred))
		assert.Equal(t,
			"(((c.Name = 'Ann') AND (c.Id > 1)) OR (NOT (c.Name = 'Ann') AND (c.Id < 3)))",
			predicate(t, cq))
	})

	t.Run("nullable test counts NULL as false", func(t *testing.T) {
		pred := expr.Cond(inOslo, expr.Gt(id, expr.Const(1)), expr.Lt(id, expr.Const(3)))
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(pred))
		assert.Equal(t,
			"((COALESCE((c.City = 'Oslo'), false) AND (c.Id > 1)) OR (NOT COALESCE((c.City = 'Oslo'), false) AND (c.Id < 3)))",
			predicate(t, cq))
	})

	t.Run("value branches become CASE", func(t *testing.T) {
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Select(expr.Cond(isAnn, expr.Const(1), expr.Const(2))))
		require.Equal(t, 1, cq.Select.ProjectionCount())
		assert.Equal(t, "CASE WHEN (c.Name = 'Ann') THEN 1 ELSE 2 END", queryir.FormatExpr(cq.Select.Projection(0).Expr))
		assert.Nil(t, cq.Client)
	})
}

func TestCollapseNullCheck(t *testing.T) {
	o := expr.From("o", testutil.Order{})
	customer := expr.Field(expr.Ref(o), "Customer")
	customerName := expr.Field(customer, "Name")
	note := expr.Field(expr.Ref(o), "Note")
	upper := expr.Method(note, "ToUpper", strPtrType)
	nilCustomer := expr.Null(customer.Type())
	nilString := expr.Null(strPtrType)

	tests := []struct {
		name string
		cond *expr.Conditional
		want bool
	}{
		{"not nil then access", expr.Cond(expr.Ne(customer, nilCustomer), customerName, nilString), true},
		{"nil then nil else access", expr.Cond(expr.Eq(customer, nilCustomer), nilString, customerName), true},
		{"mirrored null constant", expr.Cond(expr.Ne(nilCustomer, customer), customerName, nilString), true},
		{"different property", expr.Cond(expr.Ne(note, nilString), customerName, nilString), false},
		{"method call in path", expr.Cond(expr.Ne(upper, nilString), expr.FieldT(upper, "Initial", stringType), nilString), false},
		{"non-null comparison", expr.Cond(expr.Ne(customerName, expr.Const("x")), customerName, nilString), false},
		{"other branch not null", expr.Cond(expr.Ne(customer, nilCustomer), customerName, expr.Const("none")), false},
		{"access on the nil branch", expr.Cond(expr.Eq(customer, nilCustomer), customerName, nilString), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access, ok := collapseNullCheck(tt.cond)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Same(t, customerName, access)
			}
		})
	}
}

func TestCompile_CollapsedNullCheck(t *testing.T) {
	t.Run("navigation access", func(t *testing.T) {
		o := expr.From("o", testutil.Order{})
		customer := expr.Field(expr.Ref(o), "Customer")
		sel := expr.Cond(expr.Ne(customer, expr.Null(customer.Type())), expr.Field(customer, "Name"), expr.Null(strPtrType))
		cq := mustCompile(t, newTestCompiler(), expr.Query(o).Select(sel))

		require.Equal(t, 1, cq.Select.ProjectionCount())
		col, ok := cq.Select.Projection(0).Expr.(*queryir.Column)
		require.True(t, ok, "the null check is dropped")
		assert.Equal(t, "Name", col.Name)
		assert.Equal(t, strPtrType, col.T)
		assert.Len(t, cq.Select.Tables(), 2)
	})

	t.Run("access keeps the nullable type", func(t *testing.T) {
		initial := MemberTranslatorFunc(func(object queryir.Expression, member string, typ reflect.Type) queryir.Expression {
			if member != "Initial" {
				return nil
			}
			return fn("substr", typ, object, constInt(1), constInt(1))
		})
		c := expr.From("c", testutil.Customer{})
		city := expr.Field(expr.Ref(c), "City")
		cond := &expr.Conditional{
			Test:    expr.Ne(city, expr.Null(strPtrType)),
			IfTrue:  expr.FieldT(city, "Initial", stringType),
			IfFalse: expr.Null(strPtrType),
			T:       strPtrType,
		}
		comp := newTestCompiler(WithMemberTranslators(initial))

		cq := mustCompile(t, comp, expr.Query(c).Select(cond))
		conv, ok := cq.Select.Projection(0).Expr.(*queryir.Convert)
		require.True(t, ok)
		assert.Equal(t, strPtrType, conv.T)
		assert.Equal(t, "substr(c.City, 1, 1)", queryir.FormatExpr(conv))

		cq = mustCompile(t, comp, expr.Query(c).Where(expr.Eq(cond, expr.Param("initial", strPtrType))))
		assert.Equal(t,
			"((substr(c.City, 1, 1) = @initial) OR (substr(c.City, 1, 1) IS NULL AND @initial IS NULL))",
			predicate(t, cq))
	})
}

func TestCompile_LiftedSubQueries(t *testing.T) {
	ordersOf := func(c *expr.QuerySource) (*expr.QuerySource, *expr.QueryModel) {
		o := expr.From("o", testutil.Order{})
		return o, expr.Query(o).Where(expr.Eq(
			expr.Field(expr.Ref(o), "CustomerID"),
			expr.Convert(expr.Field(expr.Ref(c), "ID"), reflect.TypeOf((*int)(nil))),
		))
	}
	scalarSub := func(t *testing.T, cq *CompiledQuery) *queryir.ScalarSubquery {
		t.Helper()
		pred, ok := cq.Select.Predicate().(*queryir.Binary)
		require.True(t, ok)
		sub, ok := pred.Left.(*queryir.ScalarSubquery)
		require.True(t, ok)
		return sub
	}

	t.Run("count", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		_, orders := ordersOf(c)
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(expr.Gt(orders.Count().Sub(), expr.Const(1))))
		assert.Nil(t, cq.Client)
		assert.Equal(t, "COUNT(*)", queryir.FormatExpr(scalarSub(t, cq).Subquery.Projection(0).Expr))
	})

	t.Run("sum", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		o, orders := ordersOf(c)
		sum := orders.Select(expr.Field(expr.Ref(o), "Total")).Sum()
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(expr.Gt(sum.Sub(), expr.Const(50.0))))
		assert.Nil(t, cq.Client)
		assert.Equal(t, "COALESCE(SUM(o.Total), 0)", queryir.FormatExpr(scalarSub(t, cq).Subquery.Projection(0).Expr))
	})

	t.Run("all", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		o, orders := ordersOf(c)
		all := orders.All(expr.Gt(expr.Field(expr.Ref(o), "Total"), expr.Const(20.0)))
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(all.Sub()))
		exists, ok := cq.Select.Predicate().(*queryir.Exists)
		require.True(t, ok)
		assert.True(t, exists.Negated)
		assert.Contains(t, queryir.FormatExpr(exists.Subquery.Predicate()), "NOT COALESCE((o.Total > 20), false)")
	})

	t.Run("first or default of a nullable value", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		o, orders := ordersOf(c)
		first := orders.Select(expr.Field(expr.Ref(o), "Note")).FirstOrDefault()
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(expr.Eq(first.Sub(), expr.Const("gift"))))
		assert.Nil(t, cq.Client)
		sub := scalarSub(t, cq)
		assert.Equal(t, "1", queryir.FormatExpr(sub.Subquery.Limit()))
		assert.Equal(t, "o.Note", queryir.FormatExpr(sub.Subquery.Projection(0).Expr))
	})

	t.Run("min of non-nullable values stays on the client", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		o, orders := ordersOf(c)
		lowest := orders.Select(expr.Field(expr.Ref(o), "Total")).Min()
		cq := mustCompile(t, newTestCompiler(), expr.Query(c).Where(expr.Gt(lowest.Sub(), expr.Const(20.0))))
		assert.NotNil(t, cq.Client)
		assert.NotEmpty(t, cq.ClientExprs)
	})
}

func TestCompile_LiftedGrouping(t *testing.T) {
	t.Run("key and count", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		g := expr.FromQuery("g", expr.Query(c).GroupBy(expr.Field(expr.Ref(c), "City"), nil))
		count := expr.Query(expr.FromGroup("e", g)).Count()
		m := expr.Query(g).Select(expr.Tuple(expr.P("City", expr.Key(g)), expr.P("N", count.Sub())))

		cq := mustCompile(t, newTestCompiler(), m)
		assert.Nil(t, cq.Client)
		require.Len(t, cq.Select.GroupBy(), 1)
		assert.Equal(t, "c.City", queryir.FormatExpr(cq.Select.GroupBy()[0]))
		require.Equal(t, 2, cq.Select.ProjectionCount())
		assert.Equal(t, "c.City", queryir.FormatExpr(cq.Select.Projection(0).Expr))
		assert.Equal(t, "COUNT(*)", queryir.FormatExpr(cq.Select.Projection(1).Expr))
	})

	t.Run("composite key members and aggregates", func(t *testing.T) {
		c := expr.From("c", testutil.Customer{})
		key := expr.Tuple(
			expr.P("Name", expr.Field(expr.Ref(c), "Name")),
			expr.P("City", expr.Field(expr.Ref(c), "City")),
		)
		g := expr.FromQuery("g", expr.Query(c).GroupBy(key, nil))
		e := expr.FromGroup("e", g)
		sum := expr.Query(e).Select(expr.Field(expr.Ref(e), "ID")).Sum()
		f := expr.FromGroup("f", g)
		late := expr.Query(f).Where(expr.Gt(expr.Field(expr.Ref(f), "ID"), expr.Const(2))).Count()
		m := expr.Query(g).Select(expr.Tuple(
			expr.P("City", expr.Field(expr.Key(g), "City")),
			expr.P("Total", sum.Sub()),
			expr.P("Late", late.Sub()),
		))

		cq := mustCompile(t, newTestCompiler(), m)
		assert.Nil(t, cq.Client)
		require.Len(t, cq.Select.GroupBy(), 1)
		assert.Equal(t, "(c.Name, c.City)", queryir.FormatExpr(cq.Select.GroupBy()[0]))
		require.Equal(t, 3, cq.Select.ProjectionCount())
		assert.Equal(t, "c.City", queryir.FormatExpr(cq.Select.Projection(0).Expr))
		assert.Equal(t, "COALESCE(SUM(c.Id), 0)", queryir.FormatExpr(cq.Select.Projection(1).Expr))
		assert.Equal(t, "COUNT(CASE WHEN (c.Id > 2) THEN 1 END)", queryir.FormatExpr(cq.Select.Projection(2).Expr))
	})
}

func TestCompile_TupleSubQueryMembers(t *testing.T) {
	c := expr.From("c", testutil.Customer{})
	inner := expr.Query(c).Select(expr.Tuple(
		expr.P("Name", expr.Field(expr.Ref(c), "Name")),
		expr.P("City", expr.Field(expr.Ref(c), "City")),
	))

	t.Run("members resolve to derived columns", func(t *testing.T) {
		x := expr.FromQuery("x", inner)
		m := expr.Query(x).
			Where(expr.Eq(expr.Field(expr.Ref(x), "City"), expr.Const("Oslo"))).
			Select(expr.Field(expr.Ref(x), "Name"))

		cq := mustCompile(t, newTestCompiler(), m)
		assert.Nil(t, cq.Client)
		assert.Empty(t, cq.ClientExprs)
		assert.Equal(t, "(x.City = 'Oslo')", predicate(t, cq))
		assert.Equal(t, "x.Name", queryir.FormatExpr(cq.Select.Projection(0).Expr))

		require.Len(t, cq.Select.Tables(), 1)
		derived, ok := cq.Select.Tables()[0].(*queryir.Derived)
		require.True(t, ok)
		require.Equal(t, 2, derived.Select.ProjectionCount())
		assert.Equal(t, "Name", derived.Select.Projection(0).Alias)
		assert.Equal(t, "City", derived.Select.Projection(1).Alias)
	})

	t.Run("whole tuple reads every member", func(t *testing.T) {
		x := expr.FromQuery("x", inner)
		cq := mustCompile(t, newTestCompiler(), expr.Query(x))
		assert.Nil(t, cq.Client)
		assert.IsType(t, &shaper.ProjectionShaper{}, cq.Shaper)
		require.Equal(t, 2, cq.Select.ProjectionCount())
		assert.Equal(t, "x.Name", queryir.FormatExpr(cq.Select.Projection(0).Expr))
		assert.Equal(t, "x.City", queryir.FormatExpr(cq.Select.Projection(1).Expr))
	})
}
