package cli

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/querydsl"
	"github.com/roach88/relq/internal/testutil"
)

// LoadError represents an error that occurred while loading a model or a
// query file.
type LoadError struct {
	Code    string
	Message string
	Line    int // line in the query file, 0 if unknown
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModel loads the CUE model at path. An empty path selects the demo
// model (Customer, Order and the Animal hierarchy) that `run --init`
// seeds.
func LoadModel(path string) (*model.Model, error) {
	if path == "" {
		m, err := testutil.NewModel()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeModelInvalid, Message: err.Error()}
		}
		return m, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("model file not found: %s", path)}
	}
	m, err := model.LoadCUEFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeModelInvalid, Message: err.Error()}
	}
	return m, nil
}

// LoadQuery reads and decodes a query file against m.
func LoadQuery(path string, m *model.Model) (*querydsl.Query, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("query file not found: %s", path)}
	}
	q, err := querydsl.ParseFile(path, m)
	if err != nil {
		var syntaxErr *querydsl.Error
		if errors.As(err, &syntaxErr) {
			return nil, &LoadError{Code: ErrCodeQuerySyntax, Message: syntaxErr.Msg, Line: syntaxErr.Line}
		}
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	return q, nil
}

// ParseParams decodes the --params flag, a YAML (or JSON) mapping such as
// `{name: Ann, ids: [1, 3]}`. An empty string yields no values.
func ParseParams(s string) (map[string]any, error) {
	raw := map[string]any{}
	if s == "" {
		return raw, nil
	}
	if err := yaml.Unmarshal([]byte(s), &raw); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalidParams, Message: fmt.Sprintf("parsing --params: %v", err)}
	}
	return raw, nil
}

// BindParams checks raw against the query's declared parameters and
// converts each value to its declared type.
func BindParams(q *querydsl.Query, raw map[string]any) (map[string]any, error) {
	params, err := q.Bind(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeInvalidParams, Message: err.Error()}
	}
	return params, nil
}

// placeholderParams binds raw after filling every declared parameter that
// has no value with a zero value of its type, so a query can be rendered
// without real arguments. Nullable parameters get a non-nil zero value: a
// nil one would render as IS NULL.
func placeholderParams(q *querydsl.Query, raw map[string]any) (map[string]any, error) {
	filled := make(map[string]any, len(q.Params))
	for name, v := range raw {
		filled[name] = v
	}
	for name, t := range q.Params {
		if _, ok := filled[name]; ok {
			continue
		}
		switch t.Kind() {
		case reflect.Pointer:
			filled[name] = reflect.Zero(t.Elem()).Interface()
		case reflect.Slice:
			filled[name] = []any{}
		default:
			filled[name] = reflect.Zero(t).Interface()
		}
	}
	return BindParams(q, filled)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeLoadFailed    = "E004" // Query file could not be read
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeModelInvalid  = "E008" // CUE model failed to load or link
	ErrCodeQuerySyntax   = "E009" // Query document could not be decoded
	ErrCodeInvalidParams = "E010" // --params missing, unknown or mistyped
	ErrCodeCompileFailed = "E011" // Query could not be translated
	ErrCodeStoreFailed   = "E012" // Database could not be opened or initialized
	ErrCodeQueryFailed   = "E013" // Query execution failed
)
