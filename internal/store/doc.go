// Package store executes rendered queries against SQLite.
//
// The store is the execution collaborator of the query compiler: it takes
// the command text and arguments produced by querysql and returns the raw
// rows, one []any per row in projection order. Values are returned exactly
// as the driver produces them (int64, float64, string or []byte, time.Time
// for DATETIME columns, nil for NULL); conversion to host types is the
// shaper's job.
//
// # Schema
//
// CreateSchema derives CREATE TABLE statements from an entity model so that
// tests, the harness and the CLI can run against a fresh database. A
// hierarchy sharing a table gets one table holding the columns of every
// concrete type; columns of subtypes are always nullable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
