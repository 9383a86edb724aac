package engine

import (
	"sync"

	"github.com/roach88/relq/internal/compiler"
)

// DefaultCacheSize is the default number of compiled queries kept.
const DefaultCacheSize = 256

// queryCache holds compiled queries, evicting the oldest entry first.
//
// Top-level models are keyed by their canonical fingerprint, so two
// structurally equal models built separately share one compile. Nested
// sub-query models are keyed by identity: their compiled correlations read
// outer sources by pointer, which only the enclosing compiled query binds.
//
// Thread-safety: all methods may be called from any goroutine.
type queryCache struct {
	mu      sync.Mutex
	size    int
	entries map[any]*compiler.CompiledQuery
	order   []any // insertion order, oldest first
	hits    int
	misses  int
}

// newQueryCache creates a cache holding at most size entries. A
// non-positive size disables caching.
func newQueryCache(size int) *queryCache {
	return &queryCache{
		size:    size,
		entries: make(map[any]*compiler.CompiledQuery),
		order:   make([]any, 0, 64),
	}
}

func (c *queryCache) get(key any) (*compiler.CompiledQuery, bool) {
	if c.size <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cq, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return cq, ok
}

// put stores cq unless key is already present. Concurrent compiles of the
// same model race benignly: the first stored result wins and is returned.
func (c *queryCache) put(key any, cq *compiler.CompiledQuery) *compiler.CompiledQuery {
	if c.size <= 0 {
		return cq
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	for len(c.order) >= c.size {
		oldest := c.order[0]
		// Clear the slot so the evicted key can be collected.
		c.order[0] = nil
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = cq
	c.order = append(c.order, key)
	return cq
}

// CacheStats reports compiled query cache usage.
type CacheStats struct {
	Entries int
	Hits    int
	Misses  int
}

func (c *queryCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
