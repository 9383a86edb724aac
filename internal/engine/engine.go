package engine

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/store"
)

// Engine executes query models against one store.
//
// Thread-safety model:
//   - Query(), QueryAs(), Compile(): safe from any goroutine
//   - compiled queries are shared read-only between executions
//   - each execution owns its environment, identity map and quota
type Engine struct {
	store    *store.Store
	compiler *compiler.Compiler
	renderer *querysql.Renderer
	cache    *queryCache
	clock    *Clock
	logger   *slog.Logger

	maxRoundTrips int
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithCache sets the number of compiled queries kept.
//
// Default: 256 (DefaultCacheSize)
// Use WithCache(0) to compile on every execution.
func WithCache(size int) Option {
	return func(e *Engine) {
		e.cache = newQueryCache(size)
	}
}

// WithLogger sets the logger for execution events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxRoundTrips sets the store round-trip quota per top-level query.
//
// Default: 10000 (DefaultMaxRoundTrips)
// Use WithMaxRoundTrips(0) to disable the quota.
func WithMaxRoundTrips(n int) Option {
	return func(e *Engine) {
		e.maxRoundTrips = n
	}
}

// New creates an Engine reading from s and compiling with c.
func New(s *store.Store, c *compiler.Compiler, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		// Compiled selects were validated by the compiler already.
		renderer:      &querysql.Renderer{},
		compiler:      c,
		cache:         newQueryCache(DefaultCacheSize),
		clock:         NewClock(),
		logger:        slog.Default(),
		maxRoundTrips: DefaultMaxRoundTrips,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query executes m and returns its result: a typed slice for sequences
// ([]any when a polymorphic result holds several concrete types), a single
// value for First, Single and scalar operators.
//
// params supplies values for the model's parameters by name.
func (e *Engine) Query(ctx context.Context, m *expr.QueryModel, params map[string]any) (any, error) {
	cq, err := e.Compile(m)
	if err != nil {
		return nil, err
	}
	x := &execution{
		engine: e,
		quota:  newRoundTripQuota(e.maxRoundTrips),
		logger: e.logger.With("exec", e.clock.Next()),
	}
	env := eval.NewEnv(ctx, copyParams(params, 0), x)
	return x.run(env, cq)
}

// QueryAs executes m and asserts the result to T.
//
// An empty FirstOrDefault of a pointer type yields the zero T.
func QueryAs[T any](ctx context.Context, e *Engine, m *expr.QueryModel, params map[string]any) (T, error) {
	var zero T
	v, err := e.Query(ctx, m, params)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, newExecError(ErrCodeResultType, "", nil, "result is %T, not %v", v, reflect.TypeFor[T]())
	}
	return t, nil
}

// Compile returns the compiled form of m, from the cache when a
// structurally equal model was compiled before.
func (e *Engine) Compile(m *expr.QueryModel) (*compiler.CompiledQuery, error) {
	fp, err := ir.Fingerprint(m)
	if err != nil {
		// Models holding values without a canonical encoding still run.
		e.logger.Debug("query not cacheable", "error", err)
		return e.compiler.Compile(m)
	}
	return e.compileKeyed(fp, m)
}

// compileNested compiles a sub-query model, keyed by identity.
func (e *Engine) compileNested(m *expr.QueryModel) (*compiler.CompiledQuery, error) {
	return e.compileKeyed(m, m)
}

func (e *Engine) compileKeyed(key any, m *expr.QueryModel) (*compiler.CompiledQuery, error) {
	if cq, ok := e.cache.get(key); ok {
		e.logger.Debug("compiled query cache hit", "query", cq.ID)
		return cq, nil
	}
	cq, err := e.compiler.Compile(m)
	if err != nil {
		return nil, err
	}
	return e.cache.put(key, cq), nil
}

// CacheStats reports compiled query cache usage.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.stats()
}

func copyParams(params map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(params)+extra)
	for k, v := range params {
		out[k] = v
	}
	return out
}
