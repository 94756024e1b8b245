// Package events declares the values published on the event bus while a
// request moves through the server and the pipeline.
package events

import (
	"net/http"
	"time"

	"github.com/hanpama/querycore/internal/report"
)

// RequestReceived is published when the HTTP handler accepts a request.
type RequestReceived struct {
	Request *http.Request
}

// RequestServed is published once the response status is known.
type RequestServed struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// Operation names the GraphQL operation one request executes. Type is empty
// when the document has no matching operation.
type Operation struct {
	RequestID  string
	DocumentID string
	Name       string
	Type       string
}

type OperationStarted struct {
	Operation
}

type OperationFinished struct {
	Operation
	Errors   []error
	Duration time.Duration
}

// DocumentParsed is published once a request's query text has a document.
// Cached is true when the document came from the parse cache.
type DocumentParsed struct {
	DocumentID string
	Cached     bool
	Duration   time.Duration
}

type ValidationFailed struct {
	DocumentID string
	Errors     []error
}

// CollectionDiagnostics carries the diagnostics field collection raised for
// one request.
type CollectionDiagnostics struct {
	Diagnostics []report.Diagnostic
}

// SegmentPoolOverflow is published when a request needed more path segments
// than its pool holds.
type SegmentPoolOverflow struct {
	Capacity int
	Overflow int64
}

// MergeLeftover is published for every group of type definitions no merge
// handler accepted.
type MergeLeftover struct {
	TypeName string
	Schemas  []string
}
