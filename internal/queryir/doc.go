// Package queryir is the relational-algebra representation that the
// compiler builds while it walks a query model.
//
// ARCHITECTURE:
//
//	[expr.QueryModel] → [compiler] → [queryir.SelectExpression] → [querysql] → SQL
//	                              ↘ [shaper.Shaper]
//
// A SelectExpression owns an ordered table list (base tables, literal SQL
// sources, derived selects, join wrappers), an ordered projection, a
// predicate, grouping keys, orderings, limit/offset and a distinct flag. It
// is mutated incrementally during one compile and frozen before it is
// rendered.
//
// BOUND EXPRESSIONS:
//
// Expression is the translated, store-native form of a host expression.
// Every node reports one of six kinds:
//
//	KindColumn     table column bound to an alias
//	KindConstant   captured literal
//	KindParameter  value supplied at execution time
//	KindComputed   arithmetic, comparison, function, null test, IN, EXISTS, CASE
//	KindComposite  multi-part tuple (structural equality, grouping keys)
//	KindSubSelect  nested select used as a scalar value
//
// A nil Expression is never a valid node. Translators use a nil result to
// signal "not translatable", so constructors in this package never return
// nil for non-nil input.
//
// SEALED INTERFACES:
//
// Expression and TableSource are sealed with marker methods so renderers
// can switch exhaustively:
//
//	switch n := e.(type) {
//	case *Column:
//	case *Binary:
//	...
//	}
//
// SLOT STABILITY:
//
// AddToProjection only appends (or returns the index of a structurally equal
// projection). RemoveFromProjectionAfter is the only shrinking operation and
// exists for rolling back speculative work. Shapers hold slot indices, so
// nothing else may reorder the projection.
package queryir
