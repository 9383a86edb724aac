// Package eval evaluates query expressions in process. It is the client
// side of the translator: whatever the compiler could not push into SQL is
// compiled here into closures and run over materialized rows.
package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/relq/internal/expr"
)

var (
	// ErrNoElements is returned by First, Single, Min, Max and Average on an
	// empty sequence.
	ErrNoElements = errors.New("sequence contains no elements")

	// ErrMoreThanOneElement is returned by Single on a sequence with more
	// than one element.
	ErrMoreThanOneElement = errors.New("sequence contains more than one element")
)

// Func is a compiled expression.
type Func func(env *Env) (any, error)

// SubQueryRunner executes query models that need the store. env is the
// environment of the outer query at the point of evaluation, so correlated
// references resolve against it.
type SubQueryRunner interface {
	RunSubQuery(env *Env, m *expr.QueryModel) (any, error)
}

// Row is one store row together with the query sources materialized from
// it. Iterating a sequence of Rows binds the buffer and the sources.
type Row struct {
	Values  []any
	Sources map[*expr.QuerySource]any
}

// Env is the evaluation environment of one item. Environments form a
// chain; source lookups walk to the parent.
type Env struct {
	Ctx      context.Context
	Buffer   []any
	Params   map[string]any
	Runner   SubQueryRunner
	Identity *IdentityMap

	parent  *Env
	sources map[*expr.QuerySource]any
}

// NewEnv creates a root environment.
func NewEnv(ctx context.Context, params map[string]any, runner SubQueryRunner) *Env {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]any{}
	}
	return &Env{Ctx: ctx, Params: params, Runner: runner, Identity: NewIdentityMap()}
}

// Child returns an environment that inherits everything from e.
func (e *Env) Child() *Env {
	return &Env{
		Ctx:      e.Ctx,
		Buffer:   e.Buffer,
		Params:   e.Params,
		Runner:   e.Runner,
		Identity: e.Identity,
		parent:   e,
	}
}

// Parent returns the enclosing environment, or nil.
func (e *Env) Parent() *Env { return e.parent }

// Bind sets the current item of src.
func (e *Env) Bind(src *expr.QuerySource, v any) {
	if e.sources == nil {
		e.sources = map[*expr.QuerySource]any{}
	}
	e.sources[src] = v
}

// BindRow binds the buffer and materialized sources of a row.
func (e *Env) BindRow(r Row) {
	e.Buffer = r.Values
	for src, v := range r.Sources {
		e.Bind(src, v)
	}
}

// Lookup returns the current item of src.
func (e *Env) Lookup(src *expr.QuerySource) (any, bool) {
	for env := e; env != nil; env = env.parent {
		if v, ok := env.sources[src]; ok {
			return v, true
		}
	}
	return nil, false
}

// IdentityMap resolves entities by key within one execution so that the
// same row materialized twice yields the same instance.
type IdentityMap struct {
	entries map[string]any
}

// NewIdentityMap creates an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: map[string]any{}}
}

// Resolve returns the instance stored for (entity, key), storing create()
// on first use.
func (m *IdentityMap) Resolve(entity string, key []any, create func() any) any {
	k := entity + "|" + fmt.Sprintf("%v", key)
	if v, ok := m.entries[k]; ok {
		return v
	}
	v := create()
	m.entries[k] = v
	return v
}
