package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/querydsl"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/store"
	"github.com/roach88/relq/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs one scenario against a fresh in-memory database with a
// deterministic compile ID.
type Harness struct {
	store  *store.Store
	model  *model.Model
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the model and create its schema
// 2. Insert seed rows
// 3. Decode the query and bind parameters
// 4. Compile, render and execute the query
// 5. Check the expect clause and assertions
//
// Errors returned are setup failures. A failing query is part of the
// result and is checked against the expect clause.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	m, seed, err := scenarioModel(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.CreateSchema(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	for _, table := range seed {
		for i, row := range table.Rows {
			if err := st.Insert(ctx, table.Table, row); err != nil {
				return nil, fmt.Errorf("seed %s[%d]: %w", table.Table, i, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	comp := compiler.New(m,
		compiler.WithLogger(logger),
		compiler.WithCompileIDGenerator(testutil.NewFixedIDGenerator(scenario.CompileID)),
	)
	h := &Harness{
		store:  st,
		model:  m,
		engine: engine.New(st, comp, engine.WithLogger(logger)),
		logger: logger,
	}

	q, err := querydsl.Decode(&scenario.Query, m)
	if err != nil {
		return nil, fmt.Errorf("failed to decode query: %w", err)
	}
	params, err := q.Bind(scenario.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to bind parameters: %w", err)
	}

	result := NewResult()
	h.execute(ctx, q, params, result)

	for _, msg := range checkExpect(result, scenario.Expect) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute compiles and runs the query, recording SQL, placement and the
// result or error.
func (h *Harness) execute(ctx context.Context, q *querydsl.Query, params map[string]any, result *Result) {
	cq, err := h.engine.Compile(q.Model)
	if err != nil {
		result.QueryError = err.Error()
		return
	}
	result.Client = cq.Client != nil
	if !cq.IsClientOnly() {
		cmd, err := querysql.NewRenderer().Render(cq.Select, params)
		if err != nil {
			result.QueryError = err.Error()
			return
		}
		result.SQL = cmd.Text
	}

	v, err := h.engine.Query(ctx, q.Model, params)
	if err != nil {
		result.QueryError = err.Error()
		return
	}
	result.Value = Normalize(v)

	h.logger.Info("scenario query executed",
		"query", cq.ID,
		"client", result.Client,
		"sql", result.SQL,
	)
}

// scenarioModel returns the scenario's model and seed rows.
func scenarioModel(s *Scenario) (*model.Model, []SeedTable, error) {
	if s.Model != "" {
		m, err := model.LoadCUEFile(s.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load model: %w", err)
		}
		return m, s.Seed, nil
	}

	m, err := testutil.NewModel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build fixture model: %w", err)
	}
	if len(s.Seed) > 0 {
		return m, s.Seed, nil
	}
	var seed []SeedTable
	for _, t := range testutil.Seed() {
		seed = append(seed, SeedTable{Table: t.Table, Rows: t.Rows})
	}
	return m, seed, nil
}

// checkExpect validates the result against the expect clause.
func checkExpect(result *Result, e *ExpectClause) []string {
	if e == nil {
		if result.QueryError != "" {
			return []string{fmt.Sprintf("query failed: %s", result.QueryError)}
		}
		return nil
	}

	var errs []string
	if e.Error != "" {
		switch {
		case result.QueryError == "":
			errs = append(errs, fmt.Sprintf("expected query error containing %q, query succeeded", e.Error))
		case !strings.Contains(result.QueryError, e.Error):
			errs = append(errs, fmt.Sprintf("expected query error containing %q, got %q", e.Error, result.QueryError))
		}
		return errs
	}
	if result.QueryError != "" {
		return []string{fmt.Sprintf("query failed: %s", result.QueryError)}
	}

	if e.SQL != "" && e.SQL != result.SQL {
		errs = append(errs, (&AssertionError{Type: "expect.sql", Expected: e.SQL, Actual: result.SQL}).Error())
	}
	if e.Client != nil && *e.Client != result.Client {
		errs = append(errs, (&AssertionError{
			Type:     "expect.client",
			Expected: fmt.Sprintf("client evaluation %v", *e.Client),
			Actual:   fmt.Sprintf("client evaluation %v", result.Client),
			SQL:      result.SQL,
		}).Error())
	}
	if e.Result != nil {
		if diff := cmp.Diff(Normalize(e.Result), result.Value, cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, (&AssertionError{
				Type:     "expect.result",
				Expected: fmt.Sprintf("%v", Normalize(e.Result)),
				Actual:   fmt.Sprintf("%v (-want +got):\n%s", result.Value, diff),
				SQL:      result.SQL,
			}).Error())
		}
	}
	return errs
}
