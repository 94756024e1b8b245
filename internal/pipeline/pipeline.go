// Package pipeline runs a GraphQL request through a chain of stages: parse,
// normalize, validate and execute. Each stage is a Middleware around the
// rest of the chain and may stop the request by setting a Result without
// calling next.
package pipeline

import (
	"context"
	"errors"

	executor "github.com/hanpama/querycore/internal/executor"
	language "github.com/hanpama/querycore/internal/language"
	schema "github.com/hanpama/querycore/internal/schema"
)

// Keys of well known ContextData entries.
const (
	// ValidationErrorsKey is set to true in Result.ContextData when the
	// document failed validation.
	ValidationErrorsKey = "querycore.validationErrors"
	// HTTPStatusCodeKey holds a proposed transport status code. Stages
	// propose it on the RequestContext; results carry it forward.
	HTTPStatusCodeKey = "querycore.httpStatusCode"
)

var (
	// ErrStateInvalidForValidation means the validation gate ran before a
	// document was attached to the request.
	ErrStateInvalidForValidation = errors.New("request state is invalid for document validation")
	// ErrNoResult means the chain finished without producing a result.
	ErrNoResult = errors.New("pipeline finished without a result")
)

// Request is the transport independent part of a GraphQL request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Result is what a request produces. ContextData is side channel data for
// the transport and is never serialized.
type Result struct {
	Data        any                `json:"data,omitempty"`
	Errors      language.ErrorList `json:"errors,omitempty"`
	Extensions  map[string]any     `json:"extensions,omitempty"`
	ContextData map[string]any     `json:"-"`
}

// ErrorResult builds a result without data.
func ErrorResult(errs language.ErrorList, contextData map[string]any) *Result {
	return &Result{Errors: errs, ContextData: contextData}
}

// RequestContext is the state of one request while it moves through the
// stages.
type RequestContext struct {
	Request Request
	Schema  *schema.Schema

	// Document and DocumentID are attached by the parse stage.
	Document   *language.QueryDocument
	DocumentID string

	// ValidationResult is the last validation outcome, if any.
	ValidationResult *ValidationResult

	// ContextData holds per request values stages exchange.
	ContextData map[string]any

	// RootValue is handed to the executor as the root object.
	RootValue any

	Result *Result
}

// NewRequestContext prepares req for s.
func NewRequestContext(s *schema.Schema, req Request) *RequestContext {
	return &RequestContext{Request: req, Schema: s, ContextData: map[string]any{}}
}

// IsValidDocument reports whether validation ran and succeeded.
func (rc *RequestContext) IsValidDocument() bool {
	return rc.ValidationResult != nil && rc.ValidationResult.IsValid()
}

// Operation returns the operation the request selects, or nil.
func (rc *RequestContext) Operation() *language.OperationDefinition {
	if rc.Document == nil {
		return nil
	}
	if rc.Request.OperationName == "" && len(rc.Document.Operations) == 1 {
		return rc.Document.Operations[0]
	}
	return rc.Document.Operations.ForName(rc.Request.OperationName)
}

// Handler runs the remaining stages for rc.
type Handler func(ctx context.Context, rc *RequestContext) error

// Middleware wraps the rest of the chain.
type Middleware func(next Handler) Handler

// Chain links stages in order. The last stage is followed by a handler that
// does nothing.
func Chain(stages ...Middleware) Handler {
	h := Handler(func(context.Context, *RequestContext) error { return nil })
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

// Pipeline is a built chain bound to a schema.
type Pipeline struct {
	schema  *schema.Schema
	handler Handler
}

// New builds a pipeline from stages.
func New(s *schema.Schema, stages ...Middleware) *Pipeline {
	return &Pipeline{schema: s, handler: Chain(stages...)}
}

// Default builds parse, normalize, validate and execute stages with the
// given executor.
func Default(s *schema.Schema, exec *executor.Executor, opts ...Option) (*Pipeline, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	parse, err := ParseStage(o.documentCacheSize)
	if err != nil {
		return nil, err
	}
	validator := o.validator
	if validator == nil {
		validator, err = NewCachingValidator(GQLValidator{Rules: o.rules}, o.validationCacheSize)
		if err != nil {
			return nil, err
		}
	}
	return New(s,
		parse,
		NormalizeStage(o.passes...),
		ValidationGate(validator, o.validationSink),
		ExecuteStage(exec),
	), nil
}

// Execute runs req and returns its result. The error is non-nil only for
// faults of the pipeline itself and for cancellation.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	rc := p.NewRequestContext(req)
	if err := p.handler(ctx, rc); err != nil {
		return rc.Result, err
	}
	if rc.Result == nil {
		return nil, ErrNoResult
	}
	return rc.Result, nil
}

// NewRequestContext prepares req for the pipeline's schema.
func (p *Pipeline) NewRequestContext(req Request) *RequestContext {
	return NewRequestContext(p.schema, req)
}

// Run runs the chain over a prepared request context.
func (p *Pipeline) Run(ctx context.Context, rc *RequestContext) error {
	return p.handler(ctx, rc)
}
