package harness

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	SQL      string // Store command of the query, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.SQL != "" {
		fmt.Fprintf(&buf, "\nSQL:\n  %s\n", e.SQL)
	}

	return buf.String()
}

// assertSQLContains checks that the query's SQL contains a fragment.
func assertSQLContains(result *Result, assertion Assertion) error {
	if strings.Contains(result.SQL, assertion.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSQLContains,
		Expected: fmt.Sprintf("SQL containing %q", assertion.Text),
		Actual:   "not found",
		SQL:      result.SQL,
	}
}

// assertSQLNotContains checks that the query's SQL lacks a fragment, for
// instance that a predicate left for the client was not also sent.
func assertSQLNotContains(result *Result, assertion Assertion) error {
	if !strings.Contains(result.SQL, assertion.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSQLNotContains,
		Expected: fmt.Sprintf("SQL without %q", assertion.Text),
		Actual:   "found",
		SQL:      result.SQL,
	}
}

// assertResultCount checks the number of elements of a sequence result.
func assertResultCount(result *Result, assertion Assertion) error {
	items, ok := result.Value.([]any)
	if !ok {
		return &AssertionError{
			Type:     AssertResultCount,
			Expected: fmt.Sprintf("a sequence of %d elements", assertion.Count),
			Actual:   fmt.Sprintf("%T result %v", result.Value, result.Value),
			SQL:      result.SQL,
		}
	}
	if len(items) != assertion.Count {
		return &AssertionError{
			Type:     AssertResultCount,
			Expected: fmt.Sprintf("%d elements", assertion.Count),
			Actual:   fmt.Sprintf("%d elements: %v", len(items), items),
			SQL:      result.SQL,
		}
	}
	return nil
}

// assertResultContains checks that some element of a sequence result
// matches the expected value (subset match for mappings).
func assertResultContains(result *Result, assertion Assertion) error {
	want := Normalize(assertion.Value)
	items, ok := result.Value.([]any)
	if !ok {
		items = []any{result.Value}
	}
	for _, item := range items {
		if matchValue(item, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertResultContains,
		Expected: fmt.Sprintf("an element matching %v", want),
		Actual:   fmt.Sprintf("%v", result.Value),
		SQL:      result.SQL,
	}
}

// matchValue checks if actual matches expected. Mappings match when every
// expected key is present in actual with a matching value; extra keys in
// actual are ignored.
func matchValue(actual, expected any) bool {
	em, ok := expected.(map[string]any)
	if !ok {
		return cmp.Equal(expected, actual, cmpopts.EquateEmpty())
	}
	am, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for key, ev := range em {
		av, exists := am[key]
		if !exists || !matchValue(av, ev) {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// Assertions are skipped when the query failed; the expect clause reports
// that.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	if result.QueryError != "" {
		return nil
	}
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertSQLContains:
			err = assertSQLContains(result, assertion)
		case AssertSQLNotContains:
			err = assertSQLNotContains(result, assertion)
		case AssertResultCount:
			err = assertResultCount(result, assertion)
		case AssertResultContains:
			err = assertResultContains(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}
