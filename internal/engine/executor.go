package engine

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/store"
)

// execution is one top-level query run together with every sub-query it
// triggers. It is the eval.SubQueryRunner of its environments.
type execution struct {
	engine *Engine
	quota  *roundTripQuota
	logger *slog.Logger
}

var _ eval.SubQueryRunner = (*execution)(nil)

// RunSubQuery executes a sub-query the compiler left for the client. It
// runs once per outer element: correlated outer values are evaluated in
// env and bound as parameters, and the identity map of the outer
// execution is shared so entities resolve to the same instances.
func (x *execution) RunSubQuery(env *eval.Env, m *expr.QueryModel) (any, error) {
	cq, err := x.engine.compileNested(m)
	if err != nil {
		return nil, fmt.Errorf("compile sub-query: %w", err)
	}
	params := copyParams(env.Params, len(cq.Correlations))
	for _, c := range cq.Correlations {
		v, err := c.Value(env)
		if err != nil {
			return nil, fmt.Errorf("correlation %s: %w", c.Param, err)
		}
		params[c.Param] = v
	}
	sub := env.Child()
	sub.Params = params
	return x.run(sub, cq)
}

// run executes cq in env and returns its final result.
func (x *execution) run(env *eval.Env, cq *compiler.CompiledQuery) (any, error) {
	if err := env.Ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if cq.IsClientOnly() {
		v, err := cq.Client(env)
		if err != nil {
			return nil, newExecError(ErrCodeClient, cq.ID, err, "client evaluation")
		}
		return v, nil
	}

	values, raw, err := x.read(env, cq)
	if err != nil {
		return nil, err
	}

	if cq.Client != nil {
		rows := make([]eval.Row, len(values))
		for i, v := range values {
			r, ok := v.(eval.Row)
			if !ok {
				return nil, newExecError(ErrCodeShape, cq.ID, nil, "client part expects value-buffer rows, got %T", v)
			}
			rows[i] = r
		}
		cenv := env.Child()
		cenv.Params = copyParams(env.Params, 1)
		cenv.Params[compiler.RowsParam] = rows
		v, err := cq.Client(cenv)
		if err != nil {
			return nil, newExecError(ErrCodeClient, cq.ID, err, "client evaluation")
		}
		return v, nil
	}
	return collapse(cq, values, raw)
}

// read renders and runs the select of cq and shapes every row.
func (x *execution) read(env *eval.Env, cq *compiler.CompiledQuery) ([]any, [][]any, error) {
	cmd, err := x.engine.renderer.Render(cq.Select, env.Params)
	if err != nil {
		return nil, nil, newExecError(ErrCodeRender, cq.ID, err, "render select")
	}
	if err := x.quota.check(cq.ID); err != nil {
		return nil, nil, err
	}
	res, err := x.engine.store.Query(env.Ctx, cmd.Text, cmd.Args...)
	if err != nil {
		return nil, nil, newExecError(ErrCodeStore, cq.ID, err, "run select")
	}
	x.logger.Debug("query executed", "query", cq.ID, "sql", cmd.Text, "rows", len(res.Rows))

	rows := res.Rows
	if cq.Select.IsProjectStar() {
		if rows, err = remapStar(cq, res); err != nil {
			return nil, nil, err
		}
	}

	values := make([]any, len(rows))
	for i, buf := range rows {
		if err := env.Ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("context cancelled: %w", err)
		}
		renv := env.Child()
		renv.Buffer = buf
		v, err := cq.Shaper.Shape(renv)
		if err != nil {
			return nil, nil, newExecError(ErrCodeShape, cq.ID, err, "shape row %d", i)
		}
		values[i] = v
	}
	return values, rows, nil
}

// remapStar reorders the columns of a literal SQL result into projection
// slots by column name. Literal SQL returns its own column order; slots
// were assigned for the entity's mapped columns.
func remapStar(cq *compiler.CompiledQuery, res *store.Result) ([][]any, error) {
	items := cq.Select.Projections()
	index := make([]int, len(items))
	for i, p := range items {
		col, ok := p.Expr.(*queryir.Column)
		if !ok {
			return nil, newExecError(ErrCodeShape, cq.ID, nil, "slot %d of a literal SQL select is not a column", i)
		}
		j := res.ColumnIndex(col.Name)
		if j < 0 {
			return nil, newExecError(ErrCodeMissingColumn, cq.ID, nil, "literal SQL returned no column %q", col.Name)
		}
		index[i] = j
	}
	out := make([][]any, len(res.Rows))
	for r, row := range res.Rows {
		buf := make([]any, len(index))
		for i, j := range index {
			buf[i] = row[j]
		}
		out[r] = buf
	}
	return out, nil
}

// collapse turns the shaped rows of a server-only query into its result.
func collapse(cq *compiler.CompiledQuery, values []any, raw [][]any) (any, error) {
	switch cq.Result {
	case compiler.ResultFirst, compiler.ResultSingle:
		if len(values) == 0 {
			if cq.OrDefault {
				return zeroOf(cq.ItemType), nil
			}
			return nil, fmt.Errorf("query %s: %w", cq.ID, eval.ErrNoElements)
		}
		if cq.Result == compiler.ResultSingle && len(values) > 1 {
			return nil, fmt.Errorf("query %s: %w", cq.ID, eval.ErrMoreThanOneElement)
		}
		return values[0], nil

	case compiler.ResultScalar:
		if len(values) == 0 {
			return zeroOf(cq.ResultType), nil
		}
		return values[0], nil

	case compiler.ResultAggregate:
		// MIN, MAX and AVG of no rows are NULL.
		if len(values) == 0 || len(raw[0]) == 0 || raw[0][0] == nil {
			return nil, fmt.Errorf("query %s: %w", cq.ID, eval.ErrNoElements)
		}
		return values[0], nil
	}

	out, err := eval.TypedSlice(values, cq.ItemType)
	if err != nil {
		return nil, newExecError(ErrCodeShape, cq.ID, err, "collect results")
	}
	return out, nil
}

func zeroOf(t reflect.Type) any {
	if t == nil {
		return nil
	}
	return reflect.Zero(t).Interface()
}
