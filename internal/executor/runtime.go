package executor

import (
	"context"
)

// Runtime is how the Executor reaches data.
//
// Per depth, the Executor resolves every sync field through ResolveSync and
// then calls BatchResolveAsync once with every async task of that depth. It
// never calls ResolveSync for an async field, and never calls
// BatchResolveAsync with zero tasks. Tasks under paths already nullified by a
// Non-Null violation are not sent.
//
// objectType is the parent type name ("Query" for root fields) and source the
// parent object value, nil for root fields unless the request supplied a root
// value. args hold coerced argument values. Implementations must not mutate
// source or args and must be safe for concurrent use by several requests.
//
// Any returned error becomes a located GraphQL error on the field; Non-Null
// propagation is the Executor's job.
type Runtime interface {
	// ResolveSync resolves a sync field. (nil, nil) yields null.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one depth of async tasks. It must return
	// exactly one result per task, results[i] belonging to tasks[i]. Results
	// fail independently. Grouping by (ObjectType, Field) or backend and
	// fanning out internally is up to the implementation.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType names the concrete object type of an interface or union
	// value. The name must be a possible type of abstractType.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// ResolveUnionConcreteValue unwraps a union value before it is completed
	// as its concrete type.
	ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error)

	// ResolveInterfaceConcreteValue unwraps an interface value before it is
	// completed as its concrete type.
	ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error)

	// SerializeLeafValue turns a scalar or enum value into a JSON-safe Go
	// value. Enums serialize to their name.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	ObjectType string
	Field      string
	// Source is the parent object value, nil for root fields.
	Source any
	Args   map[string]any
}

type AsyncResolveResult struct {
	// Value is the raw value before completion, nil on error.
	Value any
	Error error
}
