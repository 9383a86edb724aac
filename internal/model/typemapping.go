package model

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TypeMapping describes how a host type is represented in the store.
type TypeMapping struct {
	StoreType string
	ClrType   reflect.Type
}

// TypeMappingSource gates which constants, parameters and properties are
// representable in the store.
type TypeMappingSource interface {
	FindMapping(t reflect.Type) *TypeMapping
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	bytesType   = reflect.TypeOf([]byte(nil))
)

// TypeMappings is the default SQLite-flavoured mapping source. Additional
// exact-type mappings can be registered with Register.
type TypeMappings struct {
	exact map[reflect.Type]*TypeMapping
}

// NewTypeMappings returns the default mappings.
func NewTypeMappings() *TypeMappings {
	s := &TypeMappings{exact: map[reflect.Type]*TypeMapping{}}
	s.Register(timeType, "DATETIME")
	s.Register(decimalType, "NUMERIC")
	s.Register(uuidType, "TEXT")
	s.Register(bytesType, "BLOB")
	return s
}

// Register adds or replaces the mapping for an exact host type.
func (s *TypeMappings) Register(t reflect.Type, storeType string) {
	s.exact[t] = &TypeMapping{StoreType: storeType, ClrType: t}
}

// FindMapping unwraps nullable pointers and named (enum-like) types and
// returns the mapping, or nil when the type has no store representation.
func (s *TypeMappings) FindMapping(t reflect.Type) *TypeMapping {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil
	}
	if m, ok := s.exact[t]; ok {
		return m
	}
	store := ""
	switch t.Kind() {
	case reflect.Bool:
		store = "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		store = "INTEGER"
	case reflect.Float32, reflect.Float64:
		store = "REAL"
	case reflect.String:
		store = "TEXT"
	default:
		return nil
	}
	return &TypeMapping{StoreType: store, ClrType: t}
}

var namedTypes = map[string]reflect.Type{
	"bool":    reflect.TypeOf(false),
	"int":     reflect.TypeOf(0),
	"int32":   reflect.TypeOf(int32(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"float":   reflect.TypeOf(float64(0)),
	"float64": reflect.TypeOf(float64(0)),
	"string":  reflect.TypeOf(""),
	"bytes":   bytesType,
	"time":    timeType,
	"decimal": decimalType,
	"uuid":    uuidType,
}

// TypeByName resolves a schema type name such as "int" or "string?". A
// trailing "?" makes scalar types nullable (pointer).
func TypeByName(name string) (reflect.Type, bool) {
	nullable := strings.HasSuffix(name, "?")
	t, ok := namedTypes[strings.TrimSuffix(name, "?")]
	if !ok {
		return nil, false
	}
	if nullable && t.Kind() != reflect.Slice {
		t = reflect.PointerTo(t)
	}
	return t, true
}
