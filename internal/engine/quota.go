package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultMaxRoundTrips is the default store round-trip limit per top-level
// query.
const DefaultMaxRoundTrips = 10000

// roundTripQuota counts store commands issued by one top-level query,
// including every per-element sub-query execution.
//
// A correlated sub-query that stays on the client costs one round trip per
// outer element; nested ones multiply. The quota turns such an explosion
// into an error instead of an unbounded stream of commands.
type roundTripQuota struct {
	limit   int
	current atomic.Int64
}

func newRoundTripQuota(limit int) *roundTripQuota {
	return &roundTripQuota{limit: limit}
}

// check counts one round trip and fails once the limit is passed. A
// non-positive limit disables the quota.
func (q *roundTripQuota) check(queryID string) error {
	n := int(q.current.Add(1))
	if q.limit > 0 && n > q.limit {
		return &RoundTripsExceededError{QueryID: queryID, RoundTrips: n, Limit: q.limit}
	}
	return nil
}

// RoundTripsExceededError is returned when one query issues more store
// commands than allowed.
type RoundTripsExceededError struct {
	QueryID    string // The query that issued the command over the limit
	RoundTrips int    // Number of commands issued
	Limit      int    // Maximum allowed commands
}

// Error implements the error interface.
func (e *RoundTripsExceededError) Error() string {
	return fmt.Sprintf("query %s exceeded round-trip quota: %d commands > %d limit",
		e.QueryID, e.RoundTrips, e.Limit)
}

// IsRoundTripsExceeded returns true if the error is a RoundTripsExceededError.
// Uses errors.As to handle wrapped errors.
func IsRoundTripsExceeded(err error) bool {
	var re *RoundTripsExceededError
	return errors.As(err, &re)
}
