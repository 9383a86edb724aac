// Package engine executes compiled queries against a store.
//
// The engine is the runtime half of relq: it compiles query models (once,
// through a fingerprint-keyed cache), renders the server part to SQL, reads
// the rows, shapes them into host values and runs whatever the compiler
// left for the client.
//
// ARCHITECTURE:
//
// Execution Flow:
//  1. Fingerprint the model (ir.Fingerprint) and look it up in the cache
//  2. On a miss, compile and cache the CompiledQuery
//  3. Render the frozen select with the caller's parameters (querysql)
//  4. Read every row from the store
//  5. Shape each row (scalar, entity, projection or value buffer)
//  6. Hand value-buffer rows to the client part as the $rows parameter,
//     or collapse the shaped values by result kind (sequence, first,
//     single, scalar, aggregate)
//
// Sub-queries the compiler could not lift run through RunSubQuery, once per
// outer element, with their correlated outer values bound as parameters.
// All executions of one top-level query share an identity map and a
// round-trip quota.
//
// CRITICAL PATTERNS:
//
// Immutable compiled queries:
// A CompiledQuery is never mutated after compile. Any number of goroutines
// may execute the same cached query; per-execution state lives in the
// eval.Env of that execution.
//
// Bounded round trips:
// A client-evaluated correlated sub-query costs one store round trip per
// outer element. The quota (WithMaxRoundTrips) stops runaway executions.
package engine
