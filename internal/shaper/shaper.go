// Package shaper turns rows read from the store into host values.
//
// A Shaper is compiled once per query and reused for every row, across
// concurrent executions: it holds no per-execution state. Anything that
// is per execution (the row buffer, parameters, the identity map) comes
// in through the eval.Env passed to Shape.
//
// KINDS:
//
//	ScalarShaper        one projection slot converted to a host type
//	ValueBuffer         the raw row plus materialized sources (eval.Row),
//	                    consumed by client-side evaluation
//	ProjectionShaper    a compiled client expression over the row
//	EntityMaterializer  a full entity, polymorphic by discriminator,
//	                    optionally resolved through the identity map
package shaper

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
)

// Shaper produces one result value from the row bound in env.
type Shaper interface {
	Shape(env *eval.Env) (any, error)

	// IsTracking reports whether materialized entities are resolved
	// through the identity map.
	IsTracking() bool

	// EntityTypeName is the entity produced, or "" for non-entity shapes.
	EntityTypeName() string

	// Key extracts the entity key from a row, or nil for non-entity shapes.
	Key(values []any) []any
}

// ScalarShaper reads one slot.
type ScalarShaper struct {
	Index int
	T     reflect.Type
}

func (s *ScalarShaper) Shape(env *eval.Env) (any, error) {
	if s.Index >= len(env.Buffer) {
		return nil, fmt.Errorf("scalar slot %d out of range (%d values)", s.Index, len(env.Buffer))
	}
	return eval.ConvertTo(env.Buffer[s.Index], s.T)
}

func (*ScalarShaper) IsTracking() bool       { return false }
func (*ScalarShaper) EntityTypeName() string { return "" }
func (*ScalarShaper) Key([]any) []any        { return nil }

// SourceMaterializer binds a query source to the materializer that builds
// its current item.
type SourceMaterializer struct {
	Source       *expr.QuerySource
	Materializer *EntityMaterializer
}

// materializeSources builds every source item of the current row.
func materializeSources(env *eval.Env, sources []SourceMaterializer) (map[*expr.QuerySource]any, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	out := make(map[*expr.QuerySource]any, len(sources))
	for _, s := range sources {
		v, err := s.Materializer.Shape(env)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.Source.Name, err)
		}
		out[s.Source] = v
	}
	return out, nil
}

func sourceNames(sources []SourceMaterializer) string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Materializer.EntityTypeName())
	}
	sort.Strings(names)
	return fmt.Sprint(names)
}

// ValueBuffer passes the row through together with the entities the
// client part of the query needs.
type ValueBuffer struct {
	Sources []SourceMaterializer
}

func (s *ValueBuffer) Shape(env *eval.Env) (any, error) {
	sources, err := materializeSources(env, s.Sources)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(env.Buffer))
	copy(values, env.Buffer)
	return eval.Row{Values: values, Sources: sources}, nil
}

func (s *ValueBuffer) IsTracking() bool {
	for _, src := range s.Sources {
		if src.Materializer.IsTracking() {
			return true
		}
	}
	return false
}

func (*ValueBuffer) EntityTypeName() string { return "" }
func (*ValueBuffer) Key([]any) []any        { return nil }

func (s *ValueBuffer) String() string { return "ValueBuffer" + sourceNames(s.Sources) }

// ProjectionShaper evaluates a compiled selector whose leaves read the row
// buffer or the materialized sources.
type ProjectionShaper struct {
	Sources []SourceMaterializer
	Body    eval.Func
}

func (s *ProjectionShaper) Shape(env *eval.Env) (any, error) {
	sources, err := materializeSources(env, s.Sources)
	if err != nil {
		return nil, err
	}
	child := env.Child()
	for src, v := range sources {
		child.Bind(src, v)
	}
	return s.Body(child)
}

func (s *ProjectionShaper) IsTracking() bool {
	for _, src := range s.Sources {
		if src.Materializer.IsTracking() {
			return true
		}
	}
	return false
}

func (*ProjectionShaper) EntityTypeName() string { return "" }
func (*ProjectionShaper) Key([]any) []any        { return nil }

var (
	_ Shaper = (*ScalarShaper)(nil)
	_ Shaper = (*ValueBuffer)(nil)
	_ Shaper = (*ProjectionShaper)(nil)
	_ Shaper = (*EntityMaterializer)(nil)
)
