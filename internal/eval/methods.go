package eval

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// builtin evaluates a known method on a non-nil receiver (or a static
// function when recv is unused).
type builtin func(recv any, args []any) (any, error)

var stringMethods = map[string]builtin{
	"ToUpper":   func(r any, _ []any) (any, error) { return strings.ToUpper(toString(r)), nil },
	"ToLower":   func(r any, _ []any) (any, error) { return strings.ToLower(toString(r)), nil },
	"TrimSpace": func(r any, _ []any) (any, error) { return strings.TrimSpace(toString(r)), nil },
	// Characters, not bytes, as SQLite's length does.
	"Len": func(r any, _ []any) (any, error) { return int64(utf8.RuneCountInString(toString(r))), nil },
	// Reverse has no SQLite form; queries using it always run on the client.
	"Reverse": func(r any, _ []any) (any, error) {
		runes := []rune(toString(r))
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	},
	"Contains": func(r any, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return strings.Contains(toString(r), toString(args[0])), nil
	},
	"HasPrefix": func(r any, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return strings.HasPrefix(toString(r), toString(args[0])), nil
	},
	"HasSuffix": func(r any, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return strings.HasSuffix(toString(r), toString(args[0])), nil
	},
}

var staticFuncs = map[string]func(args []any) (any, error){
	"strings.ToUpper": func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return strings.ToUpper(toString(args[0])), nil
	},
	"strings.ToLower": func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return strings.ToLower(toString(args[0])), nil
	},
	"len": func(args []any) (any, error) {
		return length(args[0])
	},
	"math.Abs": func(args []any) (any, error) {
		switch x := normalize(args[0]).(type) {
		case nil:
			return nil, nil
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			return math.Abs(x), nil
		case decimal.Decimal:
			return x.Abs(), nil
		}
		return nil, fmt.Errorf("math.Abs: unsupported %T", args[0])
	},
}

func length(v any) (any, error) {
	v = normalize(v)
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		return int64(utf8.RuneCountInString(s)), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return int64(rv.Len()), nil
	}
	return nil, fmt.Errorf("len: unsupported %T", v)
}

// callMethod invokes name on recv. A nil receiver propagates to nil.
// Strings and slices use the builtin tables; anything else is called by
// reflection.
func callMethod(recv any, name string, args []any) (any, error) {
	if normalize(recv) == nil {
		return nil, nil
	}
	if s, ok := normalize(recv).(string); ok {
		if fn, ok := stringMethods[name]; ok {
			return fn(s, args)
		}
	}
	rv := reflect.ValueOf(recv)
	if name == "Contains" && rv.Kind() == reflect.Slice && len(args) == 1 {
		for i := 0; i < rv.Len(); i++ {
			if Equal(rv.Index(i).Interface(), args[0]) {
				return true, nil
			}
		}
		return false, nil
	}

	m := rv.MethodByName(name)
	if !m.IsValid() && rv.Kind() == reflect.Pointer && !rv.IsNil() {
		m = rv.Elem().MethodByName(name)
	}
	if !m.IsValid() && rv.Kind() != reflect.Pointer {
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		m = p.MethodByName(name)
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("%T has no method %s", recv, name)
	}
	return callReflect(m, name, args)
}

func callStatic(name string, args []any) (any, error) {
	fn, ok := staticFuncs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %s", name)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(args))
	}
	return fn(args)
}

func callReflect(m reflect.Value, name string, args []any) (any, error) {
	mt := m.Type()
	if mt.NumIn() != len(args) && !mt.IsVariadic() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, mt.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if mt.IsVariadic() && i >= mt.NumIn()-1 {
			pt = mt.In(mt.NumIn() - 1).Elem()
		} else {
			pt = mt.In(i)
		}
		v, err := ConvertTo(a, pt)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", name, i, err)
		}
		if v == nil {
			in[i] = reflect.Zero(pt)
		} else {
			in[i] = reflect.ValueOf(v)
		}
	}
	out := m.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	if err, ok := out[len(out)-1].Interface().(error); ok && err != nil {
		return nil, err
	}
	return out[0].Interface(), nil
}

// memberMethod reads a zero-argument method used as a member, such as
// time.Time.Year.
func memberMethod(v reflect.Value, name string) (any, bool) {
	m := v.MethodByName(name)
	if !m.IsValid() || m.Type().NumIn() != 0 || m.Type().NumOut() != 1 {
		return nil, false
	}
	return m.Call(nil)[0].Interface(), true
}
