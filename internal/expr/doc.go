// Package expr defines the language-integrated query tree consumed by the
// query compiler.
//
// The tree has two layers:
//
//	QueryModel      from/join/where/orderby clauses, a selector and result
//	                operators (First, Count, Any, GroupBy, Include, ...)
//	Expr            value-level expressions (constants, parameters, member
//	                access, binary/unary operators, conditionals, method
//	                calls, anonymous tuples, nested sub-queries)
//
// QuerySource is the logical identity of a position in the query ("from c in
// Customers"). Expressions reference sources through QuerySourceRef; the
// compiler decides per source whether it maps to a table in the generated
// relational query or must be materialized on the client.
//
// SEALED INTERFACES:
//
// Expr, BodyClause and ResultOperator use the marker method pattern so the
// compiler can switch exhaustively over node kinds. An unknown kind is never
// a crash: translators return nil for it and fall back to client evaluation.
//
// IMMUTABILITY:
//
// A QueryModel is built once (see the fluent builder in build.go) and is
// treated as read-only input by every compilation pass. Compilation state
// (source bindings, projections) lives in the compiler, never on the tree.
package expr
