package eval

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/expr"
)

type person struct {
	ID      int
	Name    string
	Nick    *string
	Age     int
	Manager *person
}

var (
	intType    = reflect.TypeOf(0)
	stringType = reflect.TypeOf("")
	strPtrType = reflect.TypeOf((*string)(nil))
)

func ptr[T any](v T) *T { return &v }

func run(t *testing.T, e expr.Expr, env *Env) any {
	t.Helper()
	f, err := Compile(e)
	require.NoError(t, err)
	v, err := f(env)
	require.NoError(t, err)
	return v
}

func newEnv() *Env { return NewEnv(context.Background(), nil, nil) }

func TestCompile_NullEquality(t *testing.T) {
	src := expr.FromValues("p", []person{})
	nick := expr.Field(expr.Ref(src), "Nick")

	tests := []struct {
		name string
		e    expr.Expr
		nick *string
		want bool
	}{
		{"eq nil on nil", expr.Eq(nick, expr.Null(strPtrType)), nil, true},
		{"eq nil on value", expr.Eq(nick, expr.Null(strPtrType)), ptr("x"), false},
		{"nil eq mirrored", expr.Eq(expr.Null(strPtrType), nick), nil, true},
		{"ne nil on value", expr.Ne(nick, expr.Null(strPtrType)), ptr("x"), true},
		{"ne nil on nil", expr.Ne(nick, expr.Null(strPtrType)), nil, false},
		{"eq value on nil", expr.Eq(nick, expr.Const("x")), nil, false},
		{"ne value on nil", expr.Ne(nick, expr.Const("x")), nil, true},
		{"eq value on value", expr.Eq(nick, expr.Const("x")), ptr("x"), true},
		{"lt against nil", expr.Lt(nick, expr.Const("z")), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv()
			env.Bind(src, person{Nick: tt.nick})
			assert.Equal(t, tt.want, run(t, tt.e, env))
		})
	}
}

func TestCompile_MemberPropagatesNil(t *testing.T) {
	src := expr.FromValues("p", []person{})
	mgr := expr.Field(expr.Ref(src), "Manager")
	name := expr.Field(mgr, "Name")

	env := newEnv()
	env.Bind(src, person{})
	assert.Nil(t, run(t, name, env))

	env.Bind(src, person{Manager: &person{Name: "Boss"}})
	assert.Equal(t, "Boss", run(t, name, env))
}

func TestCompile_ArithmeticAndConvert(t *testing.T) {
	tests := []struct {
		name string
		e    expr.Expr
		want any
	}{
		{"int add", expr.Add(expr.Const(2), expr.Const(3)), 5},
		{"int div truncates", expr.Div(expr.Const(7), expr.Const(2)), 3},
		{"float mul", expr.Mul(expr.Const(1.5), expr.Const(2.0)), 3.0},
		{"string concat", expr.Add(expr.Const("a"), expr.Const("b")), "ab"},
		{"decimal add", expr.Add(expr.Const(decimal.RequireFromString("1.10")), expr.Const(decimal.RequireFromString("2.05"))), decimal.RequireFromString("3.15")},
		{"nil propagates", expr.Add(expr.Null(reflect.TypeOf((*int)(nil))), expr.Const(1)), nil},
		{"convert to float", expr.Convert(expr.Const(3), reflect.TypeOf(float64(0))), 3.0},
		{"negate", expr.Neg(expr.Const(4)), -4},
		{"coalesce", expr.Coalesce(expr.Null(strPtrType), expr.Const("d")), "d"},
		{"conditional", expr.Cond(expr.Gt(expr.Const(2), expr.Const(1)), expr.Const("yes"), expr.Const("no")), "yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, tt.e, newEnv())
			if d, ok := tt.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_DivisionByZero(t *testing.T) {
	f, err := Compile(expr.Div(expr.Const(1), expr.Const(0)))
	require.NoError(t, err)
	_, err = f(newEnv())
	assert.ErrorContains(t, err, "division by zero")
}

func TestCompile_MethodsAndFunctions(t *testing.T) {
	boolType := reflect.TypeOf(false)
	when := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		e    expr.Expr
		want any
	}{
		{"upper", expr.Method(expr.Const("ann"), "ToUpper", stringType), "ANN"},
		{"contains", expr.Method(expr.Const("hannah"), "Contains", boolType, expr.Const("nna")), true},
		{"prefix", expr.Method(expr.Const("hannah"), "HasPrefix", boolType, expr.Const("ha")), true},
		{"len method", expr.Method(expr.Const("abc"), "Len", intType), 3},
		{"len counts characters", expr.Method(expr.Const("Zoë"), "Len", intType), 3},
		{"slice contains", expr.Method(expr.Const([]int{1, 2, 3}), "Contains", boolType, expr.Const(2)), true},
		{"static abs", expr.Func("math.Abs", intType, expr.Const(-4)), 4},
		{"static len", expr.Func("len", intType, expr.Const([]string{"a", "b"})), 2},
		{"reflected method", expr.Method(expr.Const(when), "Weekday", reflect.TypeOf(time.Sunday)), time.Saturday},
		{"time member", expr.FieldT(expr.Const(when), "Year", intType), 2024},
		{"nil receiver", expr.Method(expr.Null(strPtrType), "ToUpper", strPtrType), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.e, newEnv()))
		})
	}
}

func TestCompile_NewBuildsTuple(t *testing.T) {
	tuple := expr.Tuple(expr.P("A", expr.Const(1)), expr.P("B", expr.Null(strPtrType)))
	v := run(t, tuple, newEnv())

	rv := reflect.ValueOf(v)
	require.Equal(t, reflect.Struct, rv.Kind())
	assert.Equal(t, 1, rv.FieldByName("A").Interface())
	assert.Nil(t, rv.FieldByName("B").Interface())
}

func TestCompile_ValueBufferRead(t *testing.T) {
	env := newEnv()
	env.Buffer = []any{int64(7), []byte("Ann"), nil}

	assert.Equal(t, 7, run(t, &expr.ValueBufferRead{Index: 0, T: intType}, env))
	assert.Equal(t, "Ann", run(t, &expr.ValueBufferRead{Index: 1, T: stringType}, env))
	assert.Nil(t, run(t, &expr.ValueBufferRead{Index: 2, T: strPtrType}, env))

	f, err := Compile(&expr.ValueBufferRead{Index: 5, T: intType})
	require.NoError(t, err)
	_, err = f(env)
	assert.ErrorContains(t, err, "out of range")
}

func TestCompile_MissingParameter(t *testing.T) {
	f, err := Compile(expr.Param("x", intType))
	require.NoError(t, err)
	_, err = f(newEnv())
	assert.ErrorContains(t, err, `missing value for parameter "x"`)
}

func TestConvertTo(t *testing.T) {
	id := uuid.MustParse("0190b6c4-8f2a-7c3e-9d1b-2a4c6e8f0a1b")
	tests := []struct {
		name string
		in   any
		t    reflect.Type
		want any
	}{
		{"int64 to int", int64(3), intType, 3},
		{"int64 to bool", int64(1), reflect.TypeOf(false), true},
		{"bytes to string", []byte("x"), stringType, "x"},
		{"nil to pointer", nil, strPtrType, (*string)(nil)},
		{"nil to int", nil, intType, 0},
		{"string to uuid", id.String(), reflect.TypeOf(uuid.UUID{}), id},
		{"float to decimal", 1.5, reflect.TypeOf(decimal.Decimal{}), decimal.NewFromFloat(1.5)},
		{"text to time", "2024-03-09 10:11:12", reflect.TypeOf(time.Time{}), time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)},
		{"pointer deref", ptr(5), intType, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertTo(tt.in, tt.t)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := ConvertTo(int64(9), reflect.TypeOf((*int)(nil)))
	require.NoError(t, err)
	assert.Equal(t, 9, *got.(*int))

	_, err = ConvertTo("nope", intType)
	assert.Error(t, err)
}

func TestEqual_TuplesCompareMembersByValue(t *testing.T) {
	type key struct {
		SKU   string
		Price decimal.Decimal
		Note  *string
	}
	ten := decimal.RequireFromString("10")
	tenPointZero := decimal.RequireFromString("10.0")

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"decimal scale ignored", key{"a", ten, nil}, key{"a", tenPointZero, nil}, true},
		{"decimal value differs", key{"a", ten, nil}, key{"a", decimal.NewFromInt(11), nil}, false},
		{"string member differs", key{"a", ten, nil}, key{"b", ten, nil}, false},
		{"pointer members by value", key{"a", ten, ptr("x")}, key{"a", ten, ptr("x")}, true},
		{"nil against value member", key{"a", ten, nil}, key{"a", ten, ptr("x")}, false},
		{"entities by member", &person{ID: 1, Name: "Ann"}, &person{ID: 1, Name: "Ann"}, true},
		{"nil entity", (*person)(nil), &person{ID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}
