package executor

import "github.com/hanpama/querycore/internal/report"

// Path locates a value in the response: response keys (string) and list
// indices (int) from the top-level field down.
type Path []any

type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string { return e.Message }

// ExecutionResult is the outcome of ExecuteRequest. Data is nil when
// execution never started; otherwise Errors is non-nil, possibly empty.
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
	// Diagnostics raised while collecting fields. Nil when there were none.
	Diagnostics []report.Diagnostic `json:"-"`
}
