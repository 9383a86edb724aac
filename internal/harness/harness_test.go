package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func parseScenario(t *testing.T, src string) *Scenario {
	t.Helper()
	var s Scenario
	require.NoError(t, yaml.Unmarshal([]byte(src), &s))
	return &s
}

func TestRun_PushdownScenario(t *testing.T) {
	scenario := parseScenario(t, `
name: pushdown
description: "Filter and projection run in SQL"
params: {name: Ann}
query:
  params: {name: string}
  from: {c: Customer}
  body:
    - where: [eq, c.Name, $name]
  select: c.ID
expect:
  sql: 'SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ?'
  client: false
  result: [1, 4]
assertions:
  - type: sql_contains
    text: '"c"."Name" = ?'
  - type: result_count
    count: 2
  - type: result_contains
    value: 4
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.False(t, result.Client)
	assert.Equal(t, []any{int64(1), int64(4)}, result.Value)
}

func TestRun_ClientEvaluation(t *testing.T) {
	scenario := parseScenario(t, `
name: client
description: "Untranslatable predicate runs on the client"
query:
  from: {c: Customer}
  body:
    - where: [eq, [call, c.Name, Reverse], nnA]
  select: c.ID
expect:
  client: true
  result: [1, 4]
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.True(t, result.Client)
	assert.NotContains(t, result.SQL, "WHERE")
}

func TestRun_CustomSeed(t *testing.T) {
	scenario := parseScenario(t, `
name: custom_seed
description: "Scenario rows replace the fixture rows"
seed:
  - table: Customers
    rows:
      - {Id: 7, Name: Zed, City: null}
query:
  from: {c: Customer}
  select: [new, {Id: c.ID, City: c.City}]
expect:
  result: [{Id: 7, City: null}]
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ResultMismatch(t *testing.T) {
	scenario := parseScenario(t, `
name: mismatch
description: "Wrong expectations are reported"
query:
  from: {c: Customer}
  body:
    - orderBy: c.ID
  select: c.Name
expect:
  sql: 'SELECT 1'
  client: true
  result: [Ann]
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expect.sql")
	assert.Contains(t, result.Errors[1], "expect.client")
	assert.Contains(t, result.Errors[2], "expect.result")
	assert.Equal(t, []any{"Ann", "Bob", "Cid", "Ann"}, result.Value)
}

func TestRun_ExpectedError(t *testing.T) {
	scenario := parseScenario(t, `
name: empty_min
description: "Min over no rows fails"
query:
  from: {c: Customer}
  body:
    - where: [eq, c.Name, Nobody]
  select: c.ID
  ops: [min]
expect:
  error: no elements
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NotEmpty(t, result.QueryError)
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := parseScenario(t, `
name: unexpected
description: "A failing query without an expected error fails the scenario"
query:
  from: {c: Customer}
  body:
    - where: [eq, c.Name, Nobody]
  ops: [first]
assertions:
  - type: result_count
    count: 0
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "query failed")
}

func TestRun_ErrorExpectedButQuerySucceeds(t *testing.T) {
	scenario := parseScenario(t, `
name: no_error
description: "An expected error that never happens"
query:
  from: {c: Customer}
  ops: [count]
expect:
  error: boom
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "query succeeded")
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name: "bad query",
			src: `
name: bad
description: d
query: {from: {c: Nope}}
expect: {result: []}
`,
			wantErr: "failed to decode query",
		},
		{
			name: "missing parameter",
			src: `
name: bad
description: d
query:
  params: {name: string}
  from: {c: Customer}
  body: [{where: [eq, c.Name, $name]}]
expect: {result: []}
`,
			wantErr: "failed to bind parameters",
		},
		{
			name: "unknown seed table",
			src: `
name: bad
description: d
seed: [{table: Nope, rows: [{Id: 1}]}]
query: {from: {c: Customer}}
expect: {result: []}
`,
			wantErr: "seed Nope[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), parseScenario(t, tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
