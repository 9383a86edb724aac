package eval

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	bytesType   = reflect.TypeOf([]byte(nil))
)

// timeLayouts are the text forms SQLite and the sqlite3 driver use for
// timestamps.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC3339Nano,
}

// ConvertTo converts a store or host value to type t. Pointer types are
// nullable: nil converts to a nil pointer, anything else to a pointer to
// the converted element. nil converted to a non-nullable type yields the
// zero value.
func ConvertTo(v any, t reflect.Type) (any, error) {
	if t == nil {
		return v, nil
	}
	if v == nil {
		return reflect.Zero(t).Interface(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v, nil
	}
	if rv.Kind() == reflect.Pointer && t.Kind() != reflect.Pointer {
		if rv.IsNil() {
			return reflect.Zero(t).Interface(), nil
		}
		return ConvertTo(rv.Elem().Interface(), t)
	}
	if t.Kind() == reflect.Pointer {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return reflect.Zero(t).Interface(), nil
		}
		inner, err := ConvertTo(v, t.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface(), nil
	}
	if t.Kind() == reflect.Interface {
		if rv.Type().Implements(t) {
			return v, nil
		}
		return nil, fmt.Errorf("cannot convert %T to %v", v, t)
	}

	switch t {
	case decimalType:
		return toDecimal(v)
	case uuidType:
		return toUUID(v)
	case timeType:
		return toTime(v)
	case bytesType:
		switch x := v.(type) {
		case string:
			return []byte(x), nil
		}
		return nil, fmt.Errorf("cannot convert %T to []byte", v)
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		out.SetFloat(f)
	case reflect.String:
		out.SetString(toString(v))
	default:
		if rv.Type().AssignableTo(t) {
			out.Set(rv)
		} else if rv.Type().ConvertibleTo(t) {
			out.Set(rv.Convert(t))
		} else {
			return nil, fmt.Errorf("cannot convert %T to %v", v, t)
		}
	}
	return out.Interface(), nil
}

func toBool(v any) (bool, error) {
	switch x := normalize(v).(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(x) {
		case "1", "true", "t":
			return true, nil
		case "0", "false", "f", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}

func toInt64(v any) (int64, error) {
	switch x := normalize(v).(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case decimal.Decimal:
		return x.IntPart(), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return 0, fmt.Errorf("cannot convert %q to integer", x)
			}
			return int64(f), nil
		}
		return i, nil
	case []byte:
		return toInt64(string(x))
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toFloat64(v any) (float64, error) {
	switch x := normalize(v).(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case decimal.Decimal:
		return x.InexactFloat64(), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", x)
		}
		return f, nil
	case []byte:
		return toFloat64(string(x))
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

func toString(v any) string {
	switch x := normalize(v).(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(timeLayouts[0])
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := normalize(v).(type) {
	case decimal.Decimal:
		return x, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case []byte:
		return decimal.NewFromString(strings.TrimSpace(string(x)))
	}
	return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", v)
}

func toUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case string:
		return uuid.Parse(x)
	case []byte:
		if len(x) == 16 {
			return uuid.FromBytes(x)
		}
		return uuid.ParseBytes(x)
	}
	return uuid.UUID{}, fmt.Errorf("cannot convert %T to uuid", v)
}

func toTime(v any) (time.Time, error) {
	var s string
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s = x
	case []byte:
		s = string(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// normalize dereferences pointers and widens named and sized scalars to
// int64, float64, string or bool. Other values are returned as they are.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case int64, float64, string, bool, decimal.Decimal, time.Time, uuid.UUID, []byte:
		return v
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}
