package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioDir holds the repository's reference scenarios; the CLI's test
// command runs the same files.
const scenarioDir = "../../testdata/scenarios"

func TestDemoScenarios(t *testing.T) {
	paths, err := FindScenarios([]string{scenarioDir}, "")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestDemoScenarios_Suite(t *testing.T) {
	paths, err := FindScenarios([]string{scenarioDir}, "")
	require.NoError(t, err)

	result, err := RunSuite(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, len(paths), result.Passed, "failures: %+v", result.Failures)
	assert.Zero(t, result.Failed)
}
