package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/hanpama/querycore/internal/collector"
	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/path"
	"github.com/hanpama/querycore/internal/report"
	"github.com/hanpama/querycore/internal/rewrite"
	schema "github.com/hanpama/querycore/internal/schema"
)

// DefaultSegmentCapacity is the number of pooled path segments per request.
const DefaultSegmentCapacity = 256

// Executor runs operations against one schema and Runtime. It is safe for
// concurrent use.
type Executor struct {
	runtime         Runtime
	schema          *schema.Schema
	collector       *collector.Collector
	segmentCapacity int
	diagnostics     report.Sink
	pools           sync.Pool
}

type Option func(*Executor)

// WithCollector shares a collector, and its cache, with other users.
func WithCollector(c *collector.Collector) Option { return func(e *Executor) { e.collector = c } }

// WithSegmentCapacity sets how many path segments each request may take
// from its pool before falling back to the heap.
func WithSegmentCapacity(n int) Option { return func(e *Executor) { e.segmentCapacity = n } }

// WithDiagnostics receives collection diagnostics of every request.
func WithDiagnostics(s report.Sink) Option { return func(e *Executor) { e.diagnostics = s } }

func NewExecutor(runtime Runtime, s *schema.Schema, opts ...Option) *Executor {
	e := &Executor{runtime: runtime, schema: s, segmentCapacity: DefaultSegmentCapacity}
	for _, opt := range opts {
		opt(e)
	}
	if e.collector == nil {
		c, err := collector.New(s)
		if err != nil {
			c, _ = collector.New(s, collector.WithCacheSize(0))
		}
		e.collector = c
	}
	capacity := e.segmentCapacity
	e.pools.New = func() any { return path.NewPool(capacity) }
	return e
}

// ExecuteRequest runs one operation of document. Problems that prevent
// execution from starting are returned as a result without data; field
// errors are located and execution goes on.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	idx := selectOperation(document, operationName)
	if idx < 0 {
		return failure("operation not found")
	}
	op := document.Operations[idx]

	variables, err := coerceVariableValues(e.schema, op, variableValues)
	if err != nil {
		return failure(err.Error())
	}
	root, err := e.rootType(op.Operation)
	if err != nil {
		return failure(err.Error())
	}
	// @skip and @include are settled once variables are known.
	document, err = rewrite.EvaluateConditions(document, variables)
	if err != nil {
		return failure(err.Error())
	}
	op = document.Operations[idx]

	paths := e.pools.Get().(*path.Pool)
	var overflow atomic.Int64
	paths.OnOverflow = func() { overflow.Inc() }
	defer func() {
		paths.OnOverflow = nil
		paths.Reset()
		e.pools.Put(paths)
	}()

	diags := &report.Report{}
	r := &request{
		ctx:       ctx,
		runtime:   e.runtime,
		schema:    e.schema,
		collector: e.collector.Bind(collector.FragmentsOf(document), diags),
		paths:     paths,
		variables: variables,
		errors:    []GraphQLError{},
		dead:      map[*path.Segment]struct{}{},
	}
	r.run(root, op.SelectionSet, initialValue, op.Operation == language.Mutation)

	if n := overflow.Load(); n > 0 {
		eventbus.Publish(ctx, events.SegmentPoolOverflow{Capacity: paths.Capacity(), Overflow: n})
	}
	result := &ExecutionResult{Data: r.data, Errors: r.errors}
	if d := diags.Diagnostics(); len(d) > 0 {
		result.Diagnostics = d
		if e.diagnostics != nil {
			for _, diag := range d {
				e.diagnostics.Report(diag)
			}
		}
		eventbus.Publish(ctx, events.CollectionDiagnostics{Diagnostics: d})
	}
	return result
}

func (e *Executor) rootType(op language.Operation) (*schema.Type, error) {
	var t *schema.Type
	switch op {
	case language.Query:
		t = e.schema.GetQueryType()
	case language.Mutation:
		t = e.schema.GetMutationType()
	case language.Subscription:
		t = e.schema.GetSubscriptionType()
	default:
		return nil, fmt.Errorf("unsupported operation type: %s", op)
	}
	if t == nil {
		return nil, fmt.Errorf("root type not found for %s operation", op)
	}
	return t, nil
}

// selectOperation returns the index of the operation named name, or of the
// only operation when name is empty. It returns -1 when there is none.
func selectOperation(document *language.QueryDocument, name string) int {
	if name == "" && len(document.Operations) == 1 {
		return 0
	}
	for i, op := range document.Operations {
		if op.Name == name {
			return i
		}
	}
	return -1
}

func failure(message string) *ExecutionResult {
	return &ExecutionResult{Errors: []GraphQLError{{Message: message}}}
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	switch {
	case t == nil:
		return nil
	case t.NonNull:
		nullable := *t
		nullable.NonNull = false
		return schema.NonNullType(typeRefFromAST(&nullable))
	case t.Elem != nil:
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return schema.NamedType(t.NamedType)
}
