package compiler

import (
	"reflect"
	"time"

	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/queryir"
)

// MethodTranslator maps a method call whose receiver and arguments are
// already translated onto a store expression. object is nil for static
// functions such as "math.Abs". Translate returns nil for calls it does not
// handle.
type MethodTranslator interface {
	Translate(object queryir.Expression, method string, args []queryir.Expression, t reflect.Type) queryir.Expression
}

// MemberTranslator maps a member access on a translated object, e.g. the
// Year of a time column. It returns nil for members it does not handle.
type MemberTranslator interface {
	Translate(object queryir.Expression, member string, t reflect.Type) queryir.Expression
}

// MethodTranslatorFunc adapts a function to MethodTranslator.
type MethodTranslatorFunc func(object queryir.Expression, method string, args []queryir.Expression, t reflect.Type) queryir.Expression

func (f MethodTranslatorFunc) Translate(object queryir.Expression, method string, args []queryir.Expression, t reflect.Type) queryir.Expression {
	return f(object, method, args, t)
}

// MemberTranslatorFunc adapts a function to MemberTranslator.
type MemberTranslatorFunc func(object queryir.Expression, member string, t reflect.Type) queryir.Expression

func (f MemberTranslatorFunc) Translate(object queryir.Expression, member string, t reflect.Type) queryir.Expression {
	return f(object, member, t)
}

var (
	intType  = reflect.TypeOf(0)
	boolType = reflect.TypeOf(false)
	timeType = reflect.TypeOf(time.Time{})
)

func fn(name string, t reflect.Type, args ...queryir.Expression) *queryir.Function {
	return &queryir.Function{Name: name, Args: args, T: t}
}

func isString(e queryir.Expression) bool {
	t := expr.UnwrapNullable(e.Type())
	return t != nil && t.Kind() == reflect.String
}

// stringMethods translates the string methods the client evaluator knows
// to their SQLite equivalents.
func stringMethods(object queryir.Expression, method string, args []queryir.Expression, t reflect.Type) queryir.Expression {
	if object == nil || !isString(object) {
		return nil
	}
	switch {
	case method == "ToUpper" && len(args) == 0:
		return fn("UPPER", t, object)
	case method == "ToLower" && len(args) == 0:
		return fn("LOWER", t, object)
	case method == "TrimSpace" && len(args) == 0:
		return fn("TRIM", t, object)
	case method == "Len" && len(args) == 0:
		return fn("length", t, object)
	case method == "Contains" && len(args) == 1:
		return &queryir.Binary{
			Op:    queryir.OpGreaterThan,
			Left:  fn("instr", intType, object, args[0]),
			Right: &queryir.Constant{Value: 0, T: intType},
		}
	case method == "HasPrefix" && len(args) == 1:
		prefix := fn("substr", object.Type(), object, &queryir.Constant{Value: 1, T: intType}, fn("length", intType, args[0]))
		return queryir.Equal(prefix, args[0])
	case method == "HasSuffix" && len(args) == 1:
		start := &queryir.Binary{
			Op: queryir.OpAdd,
			Left: &queryir.Binary{
				Op:    queryir.OpSubtract,
				Left:  fn("length", intType, object),
				Right: fn("length", intType, args[0]),
				T:     intType,
			},
			Right: &queryir.Constant{Value: 1, T: intType},
			T:     intType,
		}
		return queryir.Equal(fn("substr", object.Type(), object, start), args[0])
	}
	return nil
}

// staticFunctions translates package-level functions.
func staticFunctions(object queryir.Expression, method string, args []queryir.Expression, t reflect.Type) queryir.Expression {
	if object != nil || len(args) != 1 {
		return nil
	}
	switch method {
	case "strings.ToUpper":
		return fn("UPPER", t, args[0])
	case "strings.ToLower":
		return fn("LOWER", t, args[0])
	case "len":
		if isString(args[0]) {
			return fn("length", t, args[0])
		}
	case "math.Abs":
		return fn("abs", t, args[0])
	}
	return nil
}

var datePartFormats = map[string]string{
	"Year":  "%Y",
	"Month": "%m",
	"Day":   "%d",
}

// timeMembers translates date parts of time columns through strftime.
func timeMembers(object queryir.Expression, member string, t reflect.Type) queryir.Expression {
	if expr.UnwrapNullable(object.Type()) != timeType {
		return nil
	}
	format, ok := datePartFormats[member]
	if !ok {
		return nil
	}
	part := fn("strftime", reflect.TypeOf(""), &queryir.Constant{Value: format, T: reflect.TypeOf("")}, object)
	return &queryir.Convert{Operand: part, T: t, StoreType: "INTEGER"}
}

func defaultMethodTranslators() []MethodTranslator {
	return []MethodTranslator{MethodTranslatorFunc(stringMethods), MethodTranslatorFunc(staticFunctions)}
}

func defaultMemberTranslators() []MemberTranslator {
	return []MemberTranslator{MemberTranslatorFunc(timeMembers)}
}

func (c *Compiler) translateMethod(object queryir.Expression, method string, args []queryir.Expression, t reflect.Type) queryir.Expression {
	for _, mt := range c.methods {
		if e := mt.Translate(object, method, args, t); e != nil {
			return e
		}
	}
	return nil
}

func (c *Compiler) translateMember(object queryir.Expression, member string, t reflect.Type) queryir.Expression {
	for _, mt := range c.members {
		if e := mt.Translate(object, member, t); e != nil {
			return e
		}
	}
	return nil
}
