// Package compiler translates query models into a relational select plus
// a shaper that turns the selected rows back into host values.
//
// Translation is best effort. Whatever has no faithful SQL form is left
// for client evaluation: a filter conjunct, an ordering, a piece of the
// selector, a result operator or, when even the sources cannot be bound,
// the whole query. Each such decision is logged at Warn. WithClientEvalDisabled
// turns it into ErrCodeClientEvalDisabled.
//
// COMPILE FLOW:
//
//	QueryModel
//	  -> main source      table, literal SQL, derived table or lifted GROUP BY
//	  -> body clauses     WHERE conjuncts, ORDER BY, INNER/CROSS JOIN
//	  -> selector         projection slots + shaper
//	  -> result operators LIMIT/OFFSET, DISTINCT, COUNT(*), EXISTS, aggregates
//	  -> client residue   compiled eval over the shaped rows ($rows)
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/shaper"
)

// Compiler compiles query models against one entity model. A Compiler is
// immutable after New and safe for concurrent use.
type Compiler struct {
	provider model.Provider
	logger   *slog.Logger
	mappings model.TypeMappingSource
	methods  []MethodTranslator
	members  []MemberTranslator
	strict   bool
	ids      IDGenerator
	tracking bool
}

// New creates a compiler resolving entity types through provider.
func New(provider model.Provider, opts ...Option) *Compiler {
	c := &Compiler{
		provider: provider,
		logger:   slog.Default(),
		mappings: model.NewTypeMappings(),
		methods:  defaultMethodTranslators(),
		members:  defaultMemberTranslators(),
		ids:      UUIDv7Generator{},
		tracking: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResultKind says how the shaped rows of a compiled query become its
// result.
type ResultKind int

const (
	// ResultSequence returns every shaped row.
	ResultSequence ResultKind = iota
	// ResultFirst returns the first row (LIMIT 1).
	ResultFirst
	// ResultSingle returns the only row; the select reads at most two.
	ResultSingle
	// ResultScalar returns the single value the select computes.
	ResultScalar
	// ResultAggregate is ResultScalar where NULL means "no elements" for
	// a non-nullable item type.
	ResultAggregate
)

func (k ResultKind) String() string {
	switch k {
	case ResultSequence:
		return "sequence"
	case ResultFirst:
		return "first"
	case ResultSingle:
		return "single"
	case ResultScalar:
		return "scalar"
	case ResultAggregate:
		return "aggregate"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// CompiledQuery is the immutable product of a compile. It may be executed
// any number of times, concurrently.
//
// A query has a server part (Select and Shaper), a client part (Client),
// or both. With both, Client receives the shaped rows as the []eval.Row
// parameter RowsParam and computes the final result.
type CompiledQuery struct {
	ID    string
	Model *expr.QueryModel

	Select    *queryir.SelectExpression
	Shaper    shaper.Shaper
	Result    ResultKind
	OrDefault bool

	// ItemType is the type of one selected element; ResultType the type
	// of the whole result.
	ItemType   reflect.Type
	ResultType reflect.Type

	Client      eval.Func
	ClientModel *expr.QueryModel

	// Correlations are outer values read by a standalone sub-query.
	Correlations []Correlation

	// ClientExprs lists what was scheduled for client evaluation.
	ClientExprs []string
}

// IsClientOnly reports whether the whole query runs in memory.
func (q *CompiledQuery) IsClientOnly() bool { return q.Select == nil }

// Compile translates m. Expressions without a SQL form are scheduled for
// client evaluation; only structural problems are errors.
func (c *Compiler) Compile(m *expr.QueryModel) (*CompiledQuery, error) {
	if m == nil || m.MainFrom == nil {
		return nil, newError(ErrCodeInvalidQueryModel, "", "query model has no main source")
	}
	if errs := ValidateModel(m); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, newError(ErrCodeInvalidQueryModel, m.MainFrom.Name, "%s", strings.Join(msgs, "; "))
	}
	id := c.ids.Generate()
	ctx := newCompileContext(c, id)
	cq := &CompiledQuery{
		ID:         id,
		Model:      m,
		Result:     ResultSequence,
		ItemType:   m.ItemType(),
		ResultType: m.ResultType(),
	}

	if !eval.NeedsServer(m) {
		f, err := eval.CompileModel(m)
		if err != nil {
			return nil, newError(ErrCodeInvalidQueryModel, m.MainFrom.Name, "%v", err)
		}
		cq.Client = f
		ctx.logger.Debug("query compiled", "source", m.MainFrom.Name, "plan", "in-memory")
		return cq, nil
	}

	v := newVisitor(ctx, nil, m, queryir.NewSelect(""))
	plan, err := v.visit()
	if err == nil && ctx.err != nil {
		err = ctx.err
	}
	if errors.Is(err, errClientOnly) {
		return c.compileClientOnly(ctx, cq)
	}
	if err != nil {
		return nil, err
	}

	if res := queryir.Validate(plan.sel); !res.IsValid {
		return nil, newError(ErrCodeInvalidQueryModel, m.MainFrom.Name, "invalid select: %s", strings.Join(res.Problems, "; "))
	}
	plan.sel.Freeze()

	cq.Select = plan.sel
	cq.Shaper = plan.shaper
	cq.Result = plan.result
	cq.OrDefault = plan.orDefault
	cq.Client = plan.client
	cq.ClientModel = plan.clientModel
	cq.Correlations = ctx.correlations
	cq.ClientExprs = ctx.clientExprs
	ctx.logger.Debug("query compiled",
		"source", m.MainFrom.Name,
		"result", cq.Result,
		"shaper", fmt.Sprintf("%T", cq.Shaper),
		"client", cq.Client != nil)
	return cq, nil
}

// compileClientOnly evaluates the whole model in memory. Entity sources
// are read through the execution's sub-query runner.
func (c *Compiler) compileClientOnly(ctx *compileContext, cq *CompiledQuery) (*CompiledQuery, error) {
	m := cq.Model
	what := expr.FormatModel(m)
	if c.strict {
		return nil, newError(ErrCodeClientEvalDisabled, m.MainFrom.Name, "query cannot be bound to SQL: %s", what)
	}
	ctx.logger.Warn("expression will be evaluated on the client", "source", m.MainFrom.Name, "expr", what)
	f, err := eval.CompileModel(m)
	if err != nil {
		return nil, newError(ErrCodeInvalidQueryModel, m.MainFrom.Name, "%v", err)
	}
	cq.Client = f
	cq.ClientExprs = []string{what}
	return cq, nil
}

// Describe renders the compiled query for diagnostics.
func (q *CompiledQuery) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "query %s\n", q.ID)
	fmt.Fprintf(&sb, "result: %s", q.Result)
	if q.OrDefault {
		sb.WriteString(" (or default)")
	}
	sb.WriteString("\n")
	if q.Shaper != nil {
		fmt.Fprintf(&sb, "shaper: %T", q.Shaper)
		if name := q.Shaper.EntityTypeName(); name != "" {
			fmt.Fprintf(&sb, " %s", name)
		}
		sb.WriteString("\n")
	}
	if q.Select != nil {
		sb.WriteString(queryir.Format(q.Select))
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}
	for _, c := range q.Correlations {
		fmt.Fprintf(&sb, "correlation %s = %s\n", c.Param, expr.Format(c.Expr))
	}
	for _, e := range q.ClientExprs {
		fmt.Fprintf(&sb, "client: %s\n", e)
	}
	return sb.String()
}
