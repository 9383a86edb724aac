package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/store"
	"github.com/roach88/relq/internal/testutil"
)

var (
	stringType = reflect.TypeOf("")
	intPtrType = reflect.TypeOf((*int)(nil))
	strPtrType = reflect.TypeOf((*string)(nil))
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEngine creates an engine over a file-backed store holding the
// fixture schema and rows.
func setupEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := testutil.MustModel()
	require.NoError(t, s.CreateSchema(ctx, m))
	for _, table := range testutil.Seed() {
		for _, row := range table.Rows {
			require.NoError(t, s.Insert(ctx, table.Table, row))
		}
	}
	c := compiler.New(m, compiler.WithLogger(discardLogger()))
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return New(s, c, opts...)
}

func customers() *expr.QuerySource { return expr.From("c", testutil.Customer{}) }

func TestQuery_WhereSelect(t *testing.T) {
	e := setupEngine(t)
	c := customers()
	m := expr.Query(c).
		Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Ann"))).
		OrderBy(expr.Field(expr.Ref(c), "ID")).
		Select(expr.Field(expr.Ref(c), "ID"))

	got, err := e.Query(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, got)
}

func TestQuery_NullableParameter(t *testing.T) {
	e := setupEngine(t)
	c := customers()
	m := expr.Query(c).
		Where(expr.Eq(expr.Field(expr.Ref(c), "City"), expr.Param("city", strPtrType))).
		OrderBy(expr.Field(expr.Ref(c), "ID")).
		Select(expr.Field(expr.Ref(c), "ID"))

	tests := []struct {
		name string
		city any
		want []int
	}{
		{"nil matches NULL", nil, []int{2}},
		{"value", "Rome", []int{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Query(context.Background(), m, map[string]any{"city": tt.city})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_ScalarOperators(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	c := customers()
	o := expr.From("o", testutil.Order{})
	total := expr.Query(o).Select(expr.Field(expr.Ref(o), "Total"))

	tests := []struct {
		name  string
		model *expr.QueryModel
		want  any
	}{
		{"count", expr.Query(c).Count(), 4},
		{"any", expr.Query(c).Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Bob"))).Any(), true},
		{"all", expr.Query(c).All(expr.Gt(expr.Field(expr.Ref(c), "ID"), expr.Const(0))), true},
		{"sum", expr.Query(o).Select(expr.Field(expr.Ref(o), "Total")).Sum(), 115.5},
		{"max", expr.Query(c).Select(expr.Field(expr.Ref(c), "ID")).Max(), 4},
		{"average", total.Average(), 28.875},
		{"contains", expr.Query(c).Select(expr.Field(expr.Ref(c), "Name")).Contains(expr.Const("Cid")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Query(ctx, tt.model, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_EmptyAggregate(t *testing.T) {
	e := setupEngine(t)
	c := customers()
	m := expr.Query(c).
		Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const("Zed"))).
		Select(expr.Field(expr.Ref(c), "ID")).
		Min()

	_, err := e.Query(context.Background(), m, nil)
	require.Error(t, err)
	assert.True(t, IsNoElements(err))
}

func TestQuery_FirstAndSingle(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	c := customers()
	named := func(name string) *expr.QueryModel {
		return expr.Query(c).Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Const(name)))
	}

	t.Run("first", func(t *testing.T) {
		got, err := e.Query(ctx, named("Bob").First(), nil)
		require.NoError(t, err)
		assert.Equal(t, testutil.Customer{ID: 2, Name: "Bob"}, got)
	})

	t.Run("first or default of nothing", func(t *testing.T) {
		got, err := e.Query(ctx, named("Zed").FirstOrDefault(), nil)
		require.NoError(t, err)
		assert.Equal(t, testutil.Customer{}, got)
	})

	t.Run("first of nothing", func(t *testing.T) {
		_, err := e.Query(ctx, named("Zed").First(), nil)
		assert.True(t, IsNoElements(err))
	})

	t.Run("single of two", func(t *testing.T) {
		_, err := e.Query(ctx, named("Ann").Single(), nil)
		assert.True(t, IsMoreThanOneElement(err))
	})
}

func TestQuery_Include(t *testing.T) {
	e := setupEngine(t)
	o := expr.From("o", testutil.Order{})
	m := expr.Query(o).OrderBy(expr.Field(expr.Ref(o), "ID")).Include("Customer")

	got, err := QueryAs[[]testutil.Order](context.Background(), e, m, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)

	require.NotNil(t, got[0].Customer)
	assert.Equal(t, "Ann", got[0].Customer.Name)
	assert.Equal(t, testutil.Ptr("gift"), got[0].Note)
	require.NotNil(t, got[2].Customer)
	assert.Equal(t, "Cid", got[2].Customer.Name)
	assert.Nil(t, got[3].Customer, "walk-in order has no customer")
}

func TestQuery_Hierarchy(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	t.Run("root returns every concrete type", func(t *testing.T) {
		a := expr.From("a", testutil.Animal{})
		got, err := QueryAs[[]any](ctx, e, expr.Query(a).OrderBy(expr.Field(expr.Ref(a), "ID")), nil)
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.IsType(t, testutil.Animal{}, got[0])
		assert.Equal(t, testutil.Dog{Animal: testutil.Animal{ID: 2, Name: "Rex", Kind: "dog"}, Breed: testutil.Ptr("Collie")}, got[1])
		assert.Equal(t, testutil.Cat{Animal: testutil.Animal{ID: 3, Name: "Tom", Kind: "cat"}, Lives: testutil.Ptr(9)}, got[2])
	})

	t.Run("subtype is filtered in the store", func(t *testing.T) {
		d := expr.From("d", testutil.Dog{})
		got, err := QueryAs[[]testutil.Dog](ctx, e, expr.Query(d).OrderBy(expr.Field(expr.Ref(d), "ID")), nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Fido", got[1].Name)
		assert.Nil(t, got[1].Breed)
	})
}

func TestQuery_ClientPredicate(t *testing.T) {
	e := setupEngine(t)
	c := customers()
	reversed := expr.Method(expr.Field(expr.Ref(c), "Name"), "Reverse", stringType)
	m := expr.Query(c).
		Where(expr.Eq(reversed, expr.Const("nnA"))).
		OrderBy(expr.Field(expr.Ref(c), "ID")).
		Select(expr.Field(expr.Ref(c), "ID"))

	got, err := e.Query(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, got)
}

func TestQuery_LiteralSQL(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	t.Run("composable", func(t *testing.T) {
		c := expr.FromSQL("c", testutil.Customer{}, "SELECT * FROM Customers WHERE City IS NOT NULL")
		m := expr.Query(c).OrderBy(expr.Field(expr.Ref(c), "ID")).Select(expr.Field(expr.Ref(c), "ID"))
		got, err := e.Query(ctx, m, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3, 4}, got)
	})

	t.Run("verbatim", func(t *testing.T) {
		c := expr.FromSQL("c", testutil.Customer{},
			"WITH named AS (SELECT Name, Id, City FROM Customers) SELECT * FROM named WHERE Name = ? ORDER BY Id", "Ann")
		got, err := QueryAs[[]testutil.Customer](ctx, e, expr.Query(c), nil)
		require.NoError(t, err)
		assert.Equal(t, []testutil.Customer{
			{ID: 1, Name: "Ann", City: testutil.Ptr("Oslo")},
			{ID: 4, Name: "Ann", City: testutil.Ptr("Rome")},
		}, got)
	})

	t.Run("verbatim missing a column", func(t *testing.T) {
		c := expr.FromSQL("c", testutil.Customer{}, "WITH x AS (SELECT Id FROM Customers) SELECT * FROM x")
		_, err := e.Query(ctx, expr.Query(c), nil)
		require.Error(t, err)
		assert.True(t, IsMissingColumnError(err))
	})
}

// seededCustomers holds the Customers seed rows as values.
var seededCustomers = []testutil.Customer{
	{ID: 1, Name: "Ann", City: testutil.Ptr("Oslo")},
	{ID: 2, Name: "Bob"},
	{ID: 3, Name: "Cid", City: testutil.Ptr("Rome")},
	{ID: 4, Name: "Ann", City: testutil.Ptr("Rome")},
}

func TestQuery_NullablePredicatesAgreeWithClient(t *testing.T) {
	city := func(c *expr.QuerySource) expr.Expr { return expr.Field(expr.Ref(c), "City") }
	name := func(c *expr.QuerySource) expr.Expr { return expr.Field(expr.Ref(c), "Name") }

	tests := []struct {
		name string
		pred func(c *expr.QuerySource) expr.Expr
		want []int
	}{
		{"not equal", func(c *expr.QuerySource) expr.Expr {
			return expr.Not(expr.Eq(city(c), expr.Const("Oslo")))
		}, []int{2, 3, 4}},
		{"not less than", func(c *expr.QuerySource) expr.Expr {
			return expr.Not(expr.Lt(city(c), expr.Const("P")))
		}, []int{2, 3, 4}},
		{"double negation", func(c *expr.QuerySource) expr.Expr {
			return expr.Not(expr.Not(expr.Eq(city(c), expr.Const("Oslo"))))
		}, []int{1}},
		{"not in list", func(c *expr.QuerySource) expr.Expr {
			cities := expr.FromValues("x", []string{"Oslo"})
			return expr.Not(expr.Query(cities).Contains(city(c)).Sub())
		}, []int{2, 3, 4}},
		{"nullable test", func(c *expr.QuerySource) expr.Expr {
			return expr.Cond(expr.Lt(city(c), expr.Const("P")),
				expr.Eq(name(c), expr.Const("Ann")),
				expr.Eq(name(c), expr.Const("Bob")))
		}, []int{1, 2}},
		{"nullable test with constant branches", func(c *expr.QuerySource) expr.Expr {
			return expr.Cond(expr.Eq(city(c), expr.Const("Oslo")), expr.Const(false), expr.Const(true))
		}, []int{2, 3, 4}},
	}
	build := func(c *expr.QuerySource, pred expr.Expr) *expr.QueryModel {
		return expr.Query(c).Where(pred).OrderBy(expr.Field(expr.Ref(c), "ID")).Select(expr.Field(expr.Ref(c), "ID"))
	}

	e := setupEngine(t)
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := customers()
			m := build(c, tt.pred(c))
			cq, err := e.Compile(m)
			require.NoError(t, err)
			require.Nil(t, cq.Client, "predicate runs in SQL")

			got, err := e.Query(ctx, m, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "store result")

			local := expr.FromValues("c", seededCustomers)
			f, err := eval.CompileModel(build(local, tt.pred(local)))
			require.NoError(t, err)
			inMemory, err := f(eval.NewEnv(ctx, nil, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, inMemory, "in-memory result")
		})
	}
}

func TestQuery_TupleSubQuery(t *testing.T) {
	e := setupEngine(t)
	c := customers()
	inner := expr.Query(c).Select(expr.Tuple(
		expr.P("Name", expr.Field(expr.Ref(c), "Name")),
		expr.P("City", expr.Field(expr.Ref(c), "City")),
	))
	x := expr.FromQuery("x", inner)
	m := expr.Query(x).
		Where(expr.Eq(expr.Field(expr.Ref(x), "City"), expr.Const("Rome"))).
		OrderBy(expr.Field(expr.Ref(x), "Name")).
		Select(expr.Field(expr.Ref(x), "Name"))

	cq, err := e.Compile(m)
	require.NoError(t, err)
	assert.Nil(t, cq.Client)

	got, err := e.Query(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Cid"}, got)
}

// correlatedTotals selects, per customer, the totals of its orders. The
// sub-query has no terminal operator, so it runs once per customer.
func correlatedTotals() *expr.QueryModel {
	c := customers()
	o := expr.From("o", testutil.Order{})
	totals := expr.Query(o).
		Where(expr.Eq(
			expr.Field(expr.Ref(o), "CustomerID"),
			expr.Convert(expr.Field(expr.Ref(c), "ID"), intPtrType),
		)).
		OrderBy(expr.Field(expr.Ref(o), "ID")).
		Select(expr.Field(expr.Ref(o), "Total"))
	return expr.Query(c).OrderBy(expr.Field(expr.Ref(c), "ID")).Select(totals.Sub())
}

func TestQuery_CorrelatedSubQuery(t *testing.T) {
	e := setupEngine(t)

	got, err := e.Query(context.Background(), correlatedTotals(), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{25, 75.5}, {}, {10}, {}}, got)

	stats := e.CacheStats()
	assert.Equal(t, 2, stats.Entries, "outer query plus the nested sub-query")
	assert.Equal(t, 3, stats.Hits, "the sub-query compiles once")
}

func TestQuery_RoundTripQuota(t *testing.T) {
	e := setupEngine(t, WithMaxRoundTrips(3))

	_, err := e.Query(context.Background(), correlatedTotals(), nil)
	require.Error(t, err)
	assert.True(t, IsRoundTripsExceeded(err))
}

func TestQuery_CompiledQueryCache(t *testing.T) {
	build := func() *expr.QueryModel {
		c := customers()
		return expr.Query(c).Where(expr.Eq(expr.Field(expr.Ref(c), "Name"), expr.Param("name", stringType))).Count()
	}

	t.Run("structurally equal models share a compile", func(t *testing.T) {
		e := setupEngine(t)
		ctx := context.Background()
		first, err := e.Query(ctx, build(), map[string]any{"name": "Ann"})
		require.NoError(t, err)
		second, err := e.Query(ctx, build(), map[string]any{"name": "Bob"})
		require.NoError(t, err)

		assert.Equal(t, 2, first)
		assert.Equal(t, 1, second)
		assert.Equal(t, CacheStats{Entries: 1, Hits: 1, Misses: 1}, e.CacheStats())
	})

	t.Run("disabled", func(t *testing.T) {
		e := setupEngine(t, WithCache(0))
		_, err := e.Query(context.Background(), build(), map[string]any{"name": "Ann"})
		require.NoError(t, err)
		assert.Equal(t, CacheStats{}, e.CacheStats())
	})
}

func TestQueryAs_WrongType(t *testing.T) {
	e := setupEngine(t)
	_, err := QueryAs[string](context.Background(), e, expr.Query(customers()).Count(), nil)
	require.Error(t, err)
	assert.True(t, IsResultTypeError(err))
}

func TestQuery_Cancelled(t *testing.T) {
	e := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Query(ctx, expr.Query(customers()), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
