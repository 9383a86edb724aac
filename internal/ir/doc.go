// Package ir holds the canonical value form used to fingerprint queries.
//
// A query model is encoded into a tree of IRValues (strings, ints, bools,
// arrays, objects; no floats, no nulls) and serialized as canonical JSON.
// The SHA-256 of that encoding, under a versioned domain prefix, is the
// query's fingerprint: two models with the same shape, the same constants
// and the same types have the same fingerprint, whatever their source
// pointers are. Parameter values never take part.
//
// ir imports only expr; it never imports the compiler or the engine.
//
// Key constraints:
//   - no float values in the tree; floats are encoded as decimal strings
//   - strings are NFC normalized at the serialization boundary
//   - object keys are ordered by UTF-16 code units (RFC 8785)
package ir
