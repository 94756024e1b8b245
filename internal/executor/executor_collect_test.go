package executor_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querycore/internal/collector"
	executor "github.com/hanpama/querycore/internal/executor"
	"github.com/hanpama/querycore/internal/report"
	schema "github.com/hanpama/querycore/internal/schema"
)

func abcSchema() *schema.Schema {
	return &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {Name: "Query", Kind: schema.TypeKindObject, Fields: []*schema.Field{
				{Name: "a", Type: schema.NamedType("String")},
				{Name: "b", Type: schema.NamedType("String")},
				{Name: "c", Type: schema.NamedType("String")},
			}},
			"String":  {Name: "String", Kind: schema.TypeKindScalar},
			"Boolean": {Name: "Boolean", Kind: schema.TypeKindScalar},
		},
	}
}

func abcRuntime() *executor.MockRuntime {
	return executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.a": executor.NewMockValueResolver("A"),
		"Query.b": executor.NewMockValueResolver("B"),
		"Query.c": executor.NewMockValueResolver("C"),
	})
}

// Pattern: Result comparison
func TestCollectFields_And_Directives_Result(t *testing.T) {
	tests := []struct {
		name  string
		query string
		vars  map[string]any
		want  map[string]any
		calls []string
	}{
		{
			name: "Fragment merging and typename",
			query: `{ a ...F1 ...F2 }
				fragment F1 on Query { a __typename }
				fragment F2 on Query { __typename }`,
			want:  map[string]any{"a": "A", "__typename": "Query"},
			calls: []string{"a"},
		},
		{
			name:  "Directives on scalar",
			query: `{ a b @skip(if: true) c @include(if: false) }`,
			want:  map[string]any{"a": "A"},
			calls: []string{"a"},
		},
		{
			name: "Directives on fragment spread",
			query: `{ a ...Frag1 @include(if: true) ...Frag2 @skip(if: true) }
				fragment Frag1 on Query { b }
				fragment Frag2 on Query { c }`,
			want:  map[string]any{"a": "A", "b": "B"},
			calls: []string{"a", "b"},
		},
		{
			name:  "Directives on inline fragment",
			query: `{ a ... on Query @include(if: true) { b } ... on Query @skip(if: true) { c } }`,
			want:  map[string]any{"a": "A", "b": "B"},
			calls: []string{"a", "b"},
		},
		{
			name:  "Directives on anonymous inline fragment",
			query: `{ a ... @include(if: true) { b } ... @skip(if: true) { c } }`,
			want:  map[string]any{"a": "A", "b": "B"},
			calls: []string{"a", "b"},
		},
		{
			name:  "Directives bound to variables",
			query: `query Q($s: Boolean!, $i: Boolean!) { a @skip(if: $s) b @include(if: $i) c }`,
			vars:  map[string]any{"s": true, "i": true},
			want:  map[string]any{"b": "B", "c": "C"},
			calls: []string{"b", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := abcRuntime()
			exec := executor.NewExecutor(rt, abcSchema())
			got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, tt.query), "", tt.vars, nil)

			want := &executor.ExecutionResult{Data: tt.want, Errors: []executor.GraphQLError{}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
			}
			var fields []string
			for _, c := range rt.GetCalls() {
				fields = append(fields, c.Field)
			}
			if diff := cmp.Diff(tt.calls, fields); diff != "" {
				t.Fatalf("resolved fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func petSchema() *schema.Schema {
	return &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {Name: "Query", Kind: schema.TypeKindObject, Fields: schema.NewFieldMap(
				&schema.Field{Name: "pets", Type: schema.ListType(schema.NamedType("Pet"))},
			)},
			"Pet": {Name: "Pet", Kind: schema.TypeKindInterface, PossibleTypes: []string{"Dog", "Cat"},
				Fields: schema.NewFieldMap(&schema.Field{Name: "name", Type: schema.NamedType("String")})},
			"Dog": {Name: "Dog", Kind: schema.TypeKindObject, Interfaces: []string{"Pet"}, Fields: schema.NewFieldMap(
				&schema.Field{Name: "name", Type: schema.NamedType("String")},
				&schema.Field{Name: "barks", Type: schema.NamedType("Boolean")},
			)},
			"Cat": {Name: "Cat", Kind: schema.TypeKindObject, Interfaces: []string{"Pet"}, Fields: schema.NewFieldMap(
				&schema.Field{Name: "name", Type: schema.NamedType("String")},
				&schema.Field{Name: "lives", Type: schema.NamedType("Int")},
			)},
			"String":  {Name: "String", Kind: schema.TypeKindScalar},
			"Boolean": {Name: "Boolean", Kind: schema.TypeKindScalar},
			"Int":     {Name: "Int", Kind: schema.TypeKindScalar},
		},
	}
}

func petRuntime() *executor.MockRuntime {
	field := func(name string) executor.MockResolver {
		return func(_ context.Context, source any, _ map[string]any) (any, error) {
			return source.(map[string]any)[name], nil
		}
	}
	return executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.pets": executor.NewMockValueResolver([]any{
			map[string]any{"__typename": "Dog", "name": "Rex", "barks": true},
			map[string]any{"__typename": "Cat", "name": "Tom", "lives": 9},
		}),
		"Dog.name":  field("name"),
		"Dog.barks": field("barks"),
		"Cat.name":  field("name"),
		"Cat.lives": field("lives"),
	})
}

func TestExecuteRequest_FragmentsOnAbstractTypes(t *testing.T) {
	exec := executor.NewExecutor(petRuntime(), petSchema())
	doc := mustParseQuery(t, `{
		pets {
			__typename
			... on Dog { barks name }
			...CatFields
			name
		}
	}
	fragment CatFields on Cat { lives }`)

	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	want := &executor.ExecutionResult{
		Data: map[string]any{"pets": []any{
			map[string]any{"__typename": "Dog", "barks": true, "name": "Rex"},
			map[string]any{"__typename": "Cat", "lives": 9, "name": "Tom"},
		}},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteRequest_ReportsCollectionDiagnostics(t *testing.T) {
	var seen []report.Code
	sink := report.SinkFunc(func(d report.Diagnostic) { seen = append(seen, d.Code) })
	c, err := collector.New(petSchema())
	require.NoError(t, err)
	exec := executor.NewExecutor(petRuntime(), petSchema(), executor.WithCollector(c), executor.WithDiagnostics(sink))

	doc := mustParseQuery(t, `{ pets { name ...Missing } }`)
	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

	require.Equal(t, map[string]any{"pets": []any{
		map[string]any{"name": "Rex"},
		map[string]any{"name": "Tom"},
	}}, got.Data)
	require.Empty(t, got.Errors)
	require.Len(t, got.Diagnostics, 1)
	require.Equal(t, report.CodeFragmentNotFound, got.Diagnostics[0].Code)
	require.Equal(t, []report.Code{report.CodeFragmentNotFound}, seen)
}

func TestExecuteRequest_RuntimeTypeOutsidePossibleTypes(t *testing.T) {
	sch := petSchema()
	sch.Types["Fish"] = &schema.Type{Name: "Fish", Kind: schema.TypeKindObject}
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.pets": executor.NewMockValueResolver([]any{map[string]any{"__typename": "Fish"}}),
	})
	exec := executor.NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{ pets { name } }`), "", nil, nil)
	want := &executor.ExecutionResult{
		Data:   map[string]any{"pets": []any{nil}},
		Errors: []executor.GraphQLError{{Message: "Runtime Object type Fish is not a possible type for Pet", Path: executor.Path{"pets", 0}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteRequest_SmallSegmentPool(t *testing.T) {
	exec := executor.NewExecutor(petRuntime(), petSchema(), executor.WithSegmentCapacity(1))
	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{ pets { name } }`), "", nil, nil)
	require.Equal(t, map[string]any{"pets": []any{
		map[string]any{"name": "Rex"},
		map[string]any{"name": "Tom"},
	}}, got.Data)
}
