// Package report collects diagnostics raised while preparing a request so
// callers can surface every problem of one pass together.
package report

import (
	"fmt"
	"sync"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type Code string

const (
	CodeFragmentNotFound          Code = "FRAGMENT_NOT_FOUND"
	CodeIncompatibleTypeCondition Code = "INCOMPATIBLE_TYPE_CONDITION"
	CodeUnknownType               Code = "UNKNOWN_TYPE"
	CodeValidationFailed          Code = "VALIDATION_FAILED"
)

// Diagnostic is one recoverable problem found in a document.
type Diagnostic struct {
	Code     Code
	Message  string
	Position *language.Position
}

func (d Diagnostic) Error() string {
	if d.Position != nil {
		return fmt.Sprintf("%s (line %d, column %d)", d.Message, d.Position.Line, d.Position.Column)
	}
	return d.Message
}

// ToError converts d into a located GraphQL error carrying its code.
func (d Diagnostic) ToError() *language.Error {
	err := &language.Error{
		Message:    d.Message,
		Extensions: map[string]any{"code": string(d.Code)},
	}
	if d.Position != nil {
		err.Locations = append(err.Locations, gqlerror.Location{Line: d.Position.Line, Column: d.Position.Column})
	}
	return err
}

// FromError converts a GraphQL error into a diagnostic. The code is read
// from the "code" extension and defaults to CodeValidationFailed; the first
// location becomes the position.
func FromError(err *language.Error) Diagnostic {
	d := Diagnostic{Code: CodeValidationFailed, Message: err.Message}
	if code, ok := err.Extensions["code"].(string); ok && code != "" {
		d.Code = Code(code)
	}
	if len(err.Locations) > 0 {
		d.Position = &language.Position{Line: err.Locations[0].Line, Column: err.Locations[0].Column}
	}
	return d
}

// Sink receives diagnostics. Implementations must be safe for concurrent use.
type Sink interface {
	Report(d Diagnostic)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

// Discard drops every diagnostic.
var Discard Sink = SinkFunc(func(Diagnostic) {})

// Report is a Sink that keeps diagnostics in arrival order, collapsing exact
// repeats.
type Report struct {
	mu    sync.Mutex
	diags []Diagnostic
	seen  map[Diagnostic]struct{}
}

func (r *Report) Report(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[Diagnostic]struct{})
	}
	if _, dup := r.seen[d]; dup {
		return
	}
	r.seen[d] = struct{}{}
	r.diags = append(r.diags, d)
}

func (r *Report) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diags) > 0
}

// Diagnostics returns a copy of the collected diagnostics.
func (r *Report) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

// Errors converts the collected diagnostics into GraphQL errors.
func (r *Report) Errors() language.ErrorList {
	diags := r.Diagnostics()
	if len(diags) == 0 {
		return nil
	}
	out := make(language.ErrorList, len(diags))
	for i, d := range diags {
		out[i] = d.ToError()
	}
	return out
}

func (r *Report) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diags = r.diags[:0]
	r.seen = nil
}

// Tee forwards every diagnostic to each of sinks in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(d Diagnostic) {
		for _, s := range sinks {
			if s != nil {
				s.Report(d)
			}
		}
	})
}
