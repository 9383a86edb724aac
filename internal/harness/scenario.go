package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a query conformance scenario.
// A scenario seeds a fresh database, runs one query and checks the SQL it
// was translated to, where it was evaluated and what it returned.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the path of a CUE entity model. Relative paths are resolved
	// against the scenario file's directory. If empty, the fixture model
	// (Customer, Order and the Animal hierarchy) is used.
	Model string `yaml:"model,omitempty"`

	// Seed lists the rows inserted before the query runs.
	// If empty and no model is given, the fixture rows are inserted.
	Seed []SeedTable `yaml:"seed,omitempty"`

	// Params supplies values for the query's declared parameters.
	Params map[string]any `yaml:"params,omitempty"`

	// Query is the query document (see package querydsl).
	Query yaml.Node `yaml:"query"`

	// Expect specifies the expected outcome.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions are additional checks on the outcome.
	// Supported types: sql_contains, sql_not_contains, result_count, result_contains
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// CompileID is an optional fixed compile ID for deterministic logs.
	// If empty, defaults to "test-compile".
	CompileID string `yaml:"compile_id,omitempty"`
}

// SeedTable holds rows for one table, keyed by column.
type SeedTable struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// ExpectClause specifies the expected outcome of the query.
type ExpectClause struct {
	// SQL is the exact text of the store command of the query.
	// If empty, the SQL is not checked.
	SQL string `yaml:"sql,omitempty"`

	// Client states whether part of the query must run on the client.
	// If nil, it is not checked.
	Client *bool `yaml:"client,omitempty"`

	// Error is a substring of the expected query error. When set, the
	// query must fail.
	Error string `yaml:"error,omitempty"`

	// Result is the expected result. Entities compare as mappings of
	// field name to value; numbers compare by value.
	// If nil, the result is not checked.
	Result any `yaml:"result,omitempty"`
}

// Assertion validates one aspect of the outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "sql_contains": the SQL contains Text
	// - "sql_not_contains": the SQL does not contain Text
	// - "result_count": the result sequence has Count elements
	// - "result_contains": some element of the result matches Value
	Type string `yaml:"type"`

	// Text is the expected SQL fragment (used by sql_contains, sql_not_contains).
	Text string `yaml:"text,omitempty"`

	// Count is the expected number of elements (used by result_count).
	Count int `yaml:"count,omitempty"`

	// Value is the expected element (used by result_contains).
	// Mappings match by subset: only specified fields are validated.
	Value any `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertSQLContains    = "sql_contains"
	AssertSQLNotContains = "sql_not_contains"
	AssertResultCount    = "result_count"
	AssertResultContains = "result_contains"
)

// LoadScenario reads and parses a scenario YAML file, resolving the model
// path relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the model path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the model path BEFORE validation
	if scenario.Model != "" && !filepath.IsAbs(scenario.Model) && basePath != "" {
		scenario.Model = filepath.Join(basePath, scenario.Model)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Query.Kind == 0 {
		return fmt.Errorf("query is required")
	}

	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}

	if s.Model != "" {
		if _, err := os.Stat(s.Model); os.IsNotExist(err) {
			return fmt.Errorf("model file not found: %s", s.Model)
		}
	}

	for i, table := range s.Seed {
		if table.Table == "" {
			return fmt.Errorf("seed[%d]: table is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSQLContains, AssertSQLNotContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertResultCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for result_count", index)
		}
	case AssertResultContains:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for result_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
