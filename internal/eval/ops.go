package eval

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roach88/relq/internal/expr"
)

// ErrIncomparable is returned when two values have no defined ordering.
var ErrIncomparable = errors.New("values are not comparable")

// Equal implements host equality: nil equals nil, nil never equals a
// value, numbers compare across int, float and decimal representations.
// Tuples and entities are equal when their members are.
func Equal(a, b any) bool {
	if isScalar(a) && isScalar(b) {
		return scalarEqual(a, b)
	}
	return cmp.Equal(a, b, structural)
}

// structural compares tuples and entities member by member, with
// scalarEqual deciding scalar members.
var structural = cmp.Options{
	cmp.FilterValues(func(x, y any) bool { return isScalar(x) && isScalar(y) }, cmp.Comparer(scalarEqual)),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

func scalarEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		c, err := compareNumbers(a, b)
		return err == nil && c == 0
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case uuid.UUID:
		y, ok := b.(uuid.UUID)
		return ok && x == y
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return false
}

func isScalar(v any) bool {
	switch normalize(v).(type) {
	case nil, int64, float64, string, bool, decimal.Decimal, time.Time, uuid.UUID, []byte:
		return true
	}
	return false
}

// Compare orders two non-nil values. It returns ErrIncomparable for values
// of different kinds.
func Compare(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return 0, ErrIncomparable
	}
	if isNumber(a) && isNumber(b) {
		return compareNumbers(a, b)
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:]), nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

// compareNulls orders nil before every value.
func compareNulls(a, b any) (int, error) {
	na, nb := normalize(a) == nil, normalize(b) == nil
	switch {
	case na && nb:
		return 0, nil
	case na:
		return -1, nil
	case nb:
		return 1, nil
	}
	return Compare(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64, decimal.Decimal:
		return true
	}
	return false
}

func compareNumbers(a, b any) (int, error) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		case float64:
			return compareFloats(float64(x), y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return compareFloats(x, y), nil
		}
		if y, ok := b.(int64); ok {
			return compareFloats(x, float64(y)), nil
		}
	}
	da, err := toDecimal(a)
	if err != nil {
		return 0, err
	}
	db, err := toDecimal(b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(db), nil
}

func compareFloats(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Truthy reports whether v is a true boolean. nil is false.
func Truthy(v any) bool {
	b, ok := normalize(v).(bool)
	return ok && b
}

// arith applies an arithmetic operator. nil operands propagate to nil.
func arith(op expr.BinaryOp, a, b any) (any, error) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return nil, nil
	}
	if op == expr.OpAdd {
		if sa, ok := a.(string); ok {
			return sa + toString(b), nil
		}
		if sb, ok := b.(string); ok {
			return toString(a) + sb, nil
		}
	}
	if !isNumber(a) || !isNumber(b) {
		return nil, fmt.Errorf("operator %s not defined for %T and %T", op, a, b)
	}
	_, decA := a.(decimal.Decimal)
	_, decB := b.(decimal.Decimal)
	if decA || decB {
		x, _ := toDecimal(a)
		y, _ := toDecimal(b)
		switch op {
		case expr.OpAdd:
			return x.Add(y), nil
		case expr.OpSubtract:
			return x.Sub(y), nil
		case expr.OpMultiply:
			return x.Mul(y), nil
		case expr.OpDivide:
			if y.IsZero() {
				return nil, errors.New("division by zero")
			}
			return x.Div(y), nil
		case expr.OpModulo:
			if y.IsZero() {
				return nil, errors.New("division by zero")
			}
			return x.Mod(y), nil
		}
	}
	xi, intA := a.(int64)
	yi, intB := b.(int64)
	if intA && intB {
		switch op {
		case expr.OpAdd:
			return xi + yi, nil
		case expr.OpSubtract:
			return xi - yi, nil
		case expr.OpMultiply:
			return xi * yi, nil
		case expr.OpDivide:
			if yi == 0 {
				return nil, errors.New("division by zero")
			}
			return xi / yi, nil
		case expr.OpModulo:
			if yi == 0 {
				return nil, errors.New("division by zero")
			}
			return xi % yi, nil
		}
	}
	x, _ := toFloat64(a)
	y, _ := toFloat64(b)
	switch op {
	case expr.OpAdd:
		return x + y, nil
	case expr.OpSubtract:
		return x - y, nil
	case expr.OpMultiply:
		return x * y, nil
	case expr.OpDivide:
		return x / y, nil
	case expr.OpModulo:
		return math.Mod(x, y), nil
	}
	return nil, fmt.Errorf("unsupported arithmetic operator %s", op)
}

func negate(v any) (any, error) {
	switch x := normalize(v).(type) {
	case nil:
		return nil, nil
	case int64:
		return -x, nil
	case float64:
		return -x, nil
	case decimal.Decimal:
		return x.Neg(), nil
	}
	return nil, fmt.Errorf("cannot negate %T", v)
}
