package jsonrt_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querycore/internal/executor"
	"github.com/hanpama/querycore/internal/jsonrt"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/schema"
)

const starWarsSDL = `
type Query {
  hero: Character
  count: Int
  ratio: Float
  droids(primaryFunction: String): [Droid!]! @async
}
interface Character { name: String! }
type Droid implements Character { name: String! primaryFunction: String }
type Human implements Character { name: String! height: Float }
`

const starWarsData = `{
  "Query": {
    "hero": {"__typename": "Droid", "name": "R2-D2", "primaryFunction": "Astromech"},
    "count": 3,
    "ratio": 0.5,
    "droids": [
      {"name": "R2-D2", "primaryFunction": "Astromech"},
      {"name": "C-3PO", "primaryFunction": "Protocol"}
    ]
  }
}`

func execute(t *testing.T, query string) *executor.ExecutionResult {
	t.Helper()
	sch, err := schema.BuildFromSDL(starWarsSDL)
	require.NoError(t, err)
	rt, err := jsonrt.Load(strings.NewReader(starWarsData))
	require.NoError(t, err)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return executor.NewExecutor(rt, sch).ExecuteRequest(context.Background(), doc, "", nil, nil)
}

func TestRuntime_ExecutesAgainstDocument(t *testing.T) {
	res := execute(t, `{
		hero { name ... on Droid { primaryFunction } ... on Human { height } }
		count
		ratio
		droids(primaryFunction: "Protocol") { name }
	}`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"hero":   map[string]any{"name": "R2-D2", "primaryFunction": "Astromech"},
		"count":  3,
		"ratio":  0.5,
		"droids": []any{map[string]any{"name": "C-3PO"}},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestRuntime_BatchKeepsTaskOrder(t *testing.T) {
	rt := jsonrt.New(nil)
	src := func(name string) map[string]any { return map[string]any{"name": name, "id": json.Number("7")} }
	tasks := []executor.AsyncResolveTask{
		{ObjectType: "Droid", Field: "name", Source: src("a")},
		{ObjectType: "Droid", Field: "id", Source: src("b")},
		{ObjectType: "Droid", Field: "name", Source: src("c")},
		{ObjectType: "Droid", Field: "name", Source: "not an object"},
	}
	results := rt.BatchResolveAsync(context.Background(), tasks)
	require.Len(t, results, 4)
	require.Equal(t, "a", results[0].Value)
	require.Equal(t, json.Number("7"), results[1].Value)
	require.Equal(t, "c", results[2].Value)
	require.Error(t, results[3].Error)
}

func TestRuntime_BatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := jsonrt.New(nil).BatchResolveAsync(ctx, []executor.AsyncResolveTask{
		{ObjectType: "Query", Field: "a"},
	})
	require.ErrorIs(t, results[0].Error, context.Canceled)
}

func TestRuntime_ResolveType(t *testing.T) {
	rt := jsonrt.New(nil)
	name, err := rt.ResolveType(context.Background(), "Character", map[string]any{"__typename": "Human"})
	require.NoError(t, err)
	require.Equal(t, "Human", name)

	_, err = rt.ResolveType(context.Background(), "Character", map[string]any{"name": "x"})
	require.Error(t, err)
	_, err = rt.ResolveType(context.Background(), "Character", "x")
	require.Error(t, err)
}

func TestRuntime_SerializeLeafValue(t *testing.T) {
	rt := jsonrt.New(nil)
	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		typ     string
		in      any
		want    any
		wantErr bool
	}{
		{name: "int", typ: "Int", in: json.Number("42"), want: 42},
		{name: "int overflow", typ: "Int", in: json.Number("4294967296"), wantErr: true},
		{name: "int fraction", typ: "Int", in: json.Number("1.5"), wantErr: true},
		{name: "float", typ: "Float", in: json.Number("1.5"), want: 1.5},
		{name: "id from number", typ: "ID", in: json.Number("12"), want: "12"},
		{name: "string", typ: "String", in: "x", want: "x"},
		{name: "string from bool", typ: "String", in: true, wantErr: true},
		{name: "boolean", typ: "Boolean", in: false, want: false},
		{name: "enum", typ: "Episode", in: "JEDI", want: "JEDI"},
		{name: "null", typ: "Int", in: nil, want: nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := rt.SerializeLeafValue(ctx, tc.typ, tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoad_RejectsMalformedDocument(t *testing.T) {
	_, err := jsonrt.LoadBytes([]byte(`{"Query": `))
	require.Error(t, err)
}
