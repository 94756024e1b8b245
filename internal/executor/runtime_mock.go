package executor

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/hanpama/querycore/internal/ordered"
	schema "github.com/hanpama/querycore/internal/schema"
)

// MockResolver resolves one field of one source.
type MockResolver func(ctx context.Context, source any, args map[string]any) (any, error)

func NewMockValueResolver(val any) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return val, nil }
}

func NewMockErrorResolver(err error) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

const (
	CallKindSync  = "sync"
	CallKindAsync = "async"
)

// Call is one entry of the MockRuntime call log. Async calls made by the
// same BatchResolveAsync share a BatchID, counted from 1. Sync calls have
// BatchID 0.
type Call struct {
	Kind       string
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	BatchID    int
}

// MockRuntime is a Runtime for tests. Fields resolve through resolvers keyed
// "ObjectType.Field"; a field without one resolves to null.
type MockRuntime struct {
	mu        sync.Mutex
	resolvers map[string]MockResolver
	calls     []Call
	batches   int

	typeResolver func(value any) (string, error)
	serializer   func(val any, t schema.TypeRef) (any, error)
}

var _ Runtime = (*MockRuntime)(nil)

func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{resolvers: maps.Clone(resolvers)}
	if m.resolvers == nil {
		m.resolvers = map[string]MockResolver{}
	}
	return m
}

func (m *MockRuntime) SetResolver(objectType, field string, resolver MockResolver) {
	m.mu.Lock()
	m.resolvers[objectType+"."+field] = resolver
	m.mu.Unlock()
}

// SetTypeResolver makes a MockRuntime resolve abstract types with f instead
// of reading "__typename". Other runtimes are left alone.
func SetTypeResolver(r Runtime, f func(value any) (string, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.typeResolver = f
		m.mu.Unlock()
	}
}

// SetSerializer makes a MockRuntime serialize leaves with f. Without one,
// leaves are returned unchanged.
func SetSerializer(r Runtime, f func(val any, t schema.TypeRef) (any, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.serializer = f
		m.mu.Unlock()
	}
}

// call logs c and runs the resolver of its field.
func (m *MockRuntime) call(ctx context.Context, c Call) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	resolve := m.resolvers[c.ObjectType+"."+c.Field]
	m.mu.Unlock()
	if resolve == nil {
		return nil, nil
	}
	return resolve(ctx, c.Source, c.Args)
}

func (m *MockRuntime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	return m.call(ctx, Call{Kind: CallKindSync, ObjectType: objectType, Field: field, Source: source, Args: args})
}

// BatchResolveAsync resolves the tasks of one field together, fields in the
// order they first appear, so the call log keeps each field's tasks adjacent.
// Results are still returned in task order.
func (m *MockRuntime) BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult {
	if len(tasks) == 0 {
		return nil
	}
	m.mu.Lock()
	m.batches++
	id := m.batches
	m.mu.Unlock()

	var byField ordered.Groups[string, int]
	for i, t := range tasks {
		byField.Add(t.ObjectType+"."+t.Field, i)
	}
	results := make([]AsyncResolveResult, len(tasks))
	byField.Each(func(_ string, indices []int) {
		for _, i := range indices {
			t := tasks[i]
			v, err := m.call(ctx, Call{Kind: CallKindAsync, ObjectType: t.ObjectType, Field: t.Field, Source: t.Source, Args: t.Args, BatchID: id})
			results[i] = AsyncResolveResult{Value: v, Error: err}
		}
	})
	return results
}

func (m *MockRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	m.mu.Lock()
	resolve := m.typeResolver
	m.mu.Unlock()
	if resolve != nil {
		return resolve(value)
	}
	obj, _ := value.(map[string]any)
	if name, ok := obj["__typename"].(string); ok {
		return name, nil
	}
	return "", errors.New("cannot resolve type")
}

// The mock keeps abstract values as they are.
func (m *MockRuntime) ResolveUnionConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (m *MockRuntime) ResolveInterfaceConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (m *MockRuntime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	m.mu.Lock()
	serialize := m.serializer
	m.mu.Unlock()
	if serialize == nil {
		return value, nil
	}
	return serialize(value, *schema.NamedType(typeName))
}

// GetCalls returns a copy of the call log.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Reset clears the call log and the batch counter. Resolvers stay.
func (m *MockRuntime) Reset() {
	m.mu.Lock()
	m.calls, m.batches = nil, 0
	m.mu.Unlock()
}
