package introspection_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querycore/internal/executor"
	"github.com/hanpama/querycore/internal/introspection"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/pipeline"
	"github.com/hanpama/querycore/internal/schema"
)

const sdl = `
"The root"
type Query { hero: Character droid(id: ID!): Droid }
interface Character { name: String! }
type Droid implements Character {
  name: String!
  friends: [Character!]
  model: String @deprecated(reason: "use name")
}
type Human implements Character { name: String! }
enum Episode { NEWHOPE EMPIRE JEDI @deprecated }
`

func setup(t *testing.T) (executor.Runtime, *schema.Schema, *executor.MockRuntime) {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	base := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hero": executor.NewMockValueResolver(map[string]any{"__typename": "Human", "name": "Luke"}),
		"Human.name": func(_ context.Context, src any, _ map[string]any) (any, error) {
			return src.(map[string]any)["name"], nil
		},
	})
	rt, ext, err := introspection.Wrap(base, sch)
	require.NoError(t, err)
	return rt, ext, base
}

func execute(t *testing.T, query string) *executor.ExecutionResult {
	t.Helper()
	rt, ext, _ := setup(t)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return executor.NewExecutor(rt, ext).ExecuteRequest(context.Background(), doc, "", nil, nil)
}

func TestWrap_LeavesSchemaUntouched(t *testing.T) {
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	_, ext, err := introspection.Wrap(executor.NewMockRuntime(nil), sch)
	require.NoError(t, err)

	require.Nil(t, sch.GetQueryType().Field("__schema"))
	require.Nil(t, sch.Types["__Type"])
	require.NotNil(t, ext.GetQueryType().Field("__schema"))
	require.NotNil(t, ext.GetQueryType().Field("__type"))
	require.NotNil(t, ext.Types["__Type"])
}

func TestWrap_RequiresDefinition(t *testing.T) {
	sch := schema.NewSchema("").
		SetQueryType("Query").
		AddType(schema.NewType("Query", schema.TypeKindObject, ""))
	_, _, err := introspection.Wrap(executor.NewMockRuntime(nil), sch)
	require.Error(t, err)
}

func TestSchemaQuery(t *testing.T) {
	res := execute(t, `{ __schema { queryType { name description } mutationType { name } } }`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query", "description": "The root"},
			"mutationType": nil,
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaQuery_TypesAreSorted(t *testing.T) {
	res := execute(t, `{ __schema { types { name } } }`)
	require.Empty(t, res.Errors)

	types := res.Data.(map[string]any)["__schema"].(map[string]any)["types"].([]any)
	var names []string
	for _, ty := range types {
		names = append(names, ty.(map[string]any)["name"].(string))
	}
	require.IsIncreasing(t, names)
	require.Contains(t, names, "Droid")
	require.Contains(t, names, "__Schema")
}

func TestTypeQuery(t *testing.T) {
	res := execute(t, `{
		__type(name: "Droid") {
			kind
			name
			interfaces { name }
			fields { name type { kind name ofType { kind name ofType { kind name } } } }
		}
	}`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"__type": map[string]any{
			"kind":       "OBJECT",
			"name":       "Droid",
			"interfaces": []any{map[string]any{"name": "Character"}},
			"fields": []any{
				map[string]any{"name": "name", "type": map[string]any{
					"kind": "NON_NULL", "name": nil,
					"ofType": map[string]any{"kind": "SCALAR", "name": "String", "ofType": nil},
				}},
				map[string]any{"name": "friends", "type": map[string]any{
					"kind": "LIST", "name": nil,
					"ofType": map[string]any{"kind": "NON_NULL", "name": nil,
						"ofType": map[string]any{"kind": "INTERFACE", "name": "Character"}},
				}},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestTypeQuery_Deprecation(t *testing.T) {
	res := execute(t, `{
		droid: __type(name: "Droid") { fields(includeDeprecated: true) { name isDeprecated deprecationReason } }
		episode: __type(name: "Episode") { enumValues { name } }
		character: __type(name: "Character") { possibleTypes { name } fields { name } }
		missing: __type(name: "Nope") { name }
	}`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"droid": map[string]any{"fields": []any{
			map[string]any{"name": "name", "isDeprecated": false, "deprecationReason": nil},
			map[string]any{"name": "friends", "isDeprecated": false, "deprecationReason": nil},
			map[string]any{"name": "model", "isDeprecated": true, "deprecationReason": "use name"},
		}},
		"episode": map[string]any{"enumValues": []any{
			map[string]any{"name": "NEWHOPE"},
			map[string]any{"name": "EMPIRE"},
		}},
		"character": map[string]any{
			"possibleTypes": []any{map[string]any{"name": "Droid"}, map[string]any{"name": "Human"}},
			"fields":        []any{map[string]any{"name": "name"}},
		},
		"missing": nil,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBaseFieldsStillResolve(t *testing.T) {
	rt, ext, base := setup(t)
	doc, err := language.ParseQuery(`{ hero { name } __typename }`)
	require.NoError(t, err)

	res := executor.NewExecutor(rt, ext).ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"hero":       map[string]any{"name": "Luke"},
		"__typename": "Query",
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, base.GetCalls(), 2)
}

func TestPipeline_AcceptsIntrospection(t *testing.T) {
	rt, ext, _ := setup(t)
	p, err := pipeline.Default(ext, executor.NewExecutor(rt, ext))
	require.NoError(t, err)

	res, err := p.Execute(context.Background(), pipeline.Request{Query: `{ __type(name: "Human") { name } }`})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	if diff := cmp.Diff(map[string]any{"__type": map[string]any{"name": "Human"}}, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}
