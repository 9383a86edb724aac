package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/customers_by_name.yaml")
	require.NoError(t, err)

	require.NoError(t, RunWithGolden(t, scenario))
}

func TestSnapshotJSON(t *testing.T) {
	r := NewResult()
	r.Client = true
	r.Value = []any{map[string]any{"b": int64(1), "a": nil}}

	data, err := MarshalSnapshot("snap", r)
	require.NoError(t, err)

	assert.Equal(t, `{
  "scenario": "snap",
  "client": true,
  "result": [
    {
      "a": null,
      "b": 1
    }
  ]
}
`, string(data))
}

func TestSnapshotJSON_QueryError(t *testing.T) {
	r := NewResult()
	r.SQL = "SELECT 1"
	r.QueryError = "boom"

	data, err := MarshalSnapshot("failing", r)
	require.NoError(t, err)

	assert.Equal(t, `{
  "scenario": "failing",
  "sql": "SELECT 1",
  "client": false,
  "result": null,
  "query_error": "boom"
}
`, string(data))
}
