package harness

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the expect clause and all assertions hold.
	Pass bool `json:"pass"`

	// SQL is the store command of the query. Empty when the whole query
	// runs on the client.
	SQL string `json:"sql,omitempty"`

	// Client reports whether part of the query runs on the client.
	Client bool `json:"client"`

	// Value is the normalized query result (see Normalize).
	Value any `json:"value"`

	// QueryError is the message of the error the query failed with.
	QueryError string `json:"query_error,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Normalize converts a query result, or a value decoded from YAML, into a
// comparable form: structs become maps of field name to value (embedded
// structs are flattened), slices become []any, integers become int64,
// floats with an integral value become int64, and pointers are
// dereferenced. Decimals, UUIDs and times become strings.
func Normalize(v any) any {
	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano)
		case decimal.Decimal:
			return x.String()
		case uuid.UUID:
			return x.String()
		case []byte:
			return string(x)
		}
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			out[fmt.Sprint(k.Interface())] = normalizeValue(rv.MapIndex(k))
		}
		return out
	case reflect.Struct:
		out := map[string]any{}
		flattenStruct(rv, out)
		return out
	}
	if rv.CanInterface() {
		return fmt.Sprint(rv.Interface())
	}
	return nil
}

func flattenStruct(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			flattenStruct(rv.Field(i), out)
			continue
		}
		out[f.Name] = normalizeValue(rv.Field(i))
	}
}
