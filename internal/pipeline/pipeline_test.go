package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	executor "github.com/hanpama/querycore/internal/executor"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/pipeline"
	"github.com/hanpama/querycore/internal/report"
	schema "github.com/hanpama/querycore/internal/schema"
)

const sdl = `
type Query {
	hello: String
	user: User
}
type User {
	name: String
	friend: User
}
`

func mustSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	return s
}

type fakeValidator struct {
	dynamic bool
	errs    language.ErrorList
	propose int
	calls   []bool
}

func (f *fakeValidator) HasDynamicRules() bool { return f.dynamic }

func (f *fakeValidator) Validate(ctx context.Context, _ *schema.Schema, _ *language.QueryDocument, _ string,
	contextData map[string]any, alreadyValidated bool) (*pipeline.ValidationResult, error) {
	f.calls = append(f.calls, alreadyValidated)
	if f.propose != 0 {
		contextData[pipeline.HTTPStatusCodeKey] = f.propose
	}
	return &pipeline.ValidationResult{Errors: f.errs}, nil
}

// counter is a terminal stage recording how often it ran.
type counter struct{ n int }

func (c *counter) stage(next pipeline.Handler) pipeline.Handler {
	return func(ctx context.Context, rc *pipeline.RequestContext) error {
		c.n++
		rc.Result = &pipeline.Result{Data: "ok"}
		return next(ctx, rc)
	}
}

func parsedContext(t *testing.T, s *schema.Schema, query string) *pipeline.RequestContext {
	t.Helper()
	rc := pipeline.NewRequestContext(s, pipeline.Request{Query: query})
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	rc.Document, rc.DocumentID = doc, pipeline.DocumentID(query)
	return rc
}

func TestValidationGate(t *testing.T) {
	s := mustSchema(t)

	t.Run("invalid document stops the chain", func(t *testing.T) {
		v := &fakeValidator{errs: language.ErrorList{{Message: "bad"}}}
		c := &counter{}
		rc := parsedContext(t, s, "{ hello }")

		err := pipeline.Chain(pipeline.ValidationGate(v, nil), c.stage)(context.Background(), rc)
		require.NoError(t, err)
		require.Equal(t, 0, c.n)
		require.Nil(t, rc.Result.Data)
		require.Equal(t, "bad", rc.Result.Errors[0].Message)
		require.Equal(t, true, rc.Result.ContextData[pipeline.ValidationErrorsKey])
		require.NotContains(t, rc.Result.ContextData, pipeline.HTTPStatusCodeKey)
	})

	t.Run("errors reach the sink", func(t *testing.T) {
		v := &fakeValidator{errs: language.ErrorList{
			{Message: "bad", Locations: []gqlerror.Location{{Line: 2, Column: 5}}},
			{Message: "worse", Extensions: map[string]any{"code": "TOO_DEEP"}},
		}}
		sink := &report.Report{}
		rc := parsedContext(t, s, "{ hello }")

		require.NoError(t, pipeline.Chain(pipeline.ValidationGate(v, sink), (&counter{}).stage)(context.Background(), rc))
		want := []report.Diagnostic{
			{Code: report.CodeValidationFailed, Message: "bad", Position: &language.Position{Line: 2, Column: 5}},
			{Code: "TOO_DEEP", Message: "worse"},
		}
		if diff := cmp.Diff(want, sink.Diagnostics()); diff != "" {
			t.Fatalf("diagnostics mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("valid document reports nothing", func(t *testing.T) {
		sink := &report.Report{}
		rc := parsedContext(t, s, "{ hello }")
		require.NoError(t, pipeline.Chain(pipeline.ValidationGate(&fakeValidator{}, sink), (&counter{}).stage)(context.Background(), rc))
		require.Empty(t, sink.Diagnostics())
	})

	t.Run("proposed status is carried into the result", func(t *testing.T) {
		v := &fakeValidator{errs: language.ErrorList{{Message: "bad"}}, propose: http.StatusBadRequest}
		c := &counter{}
		rc := parsedContext(t, s, "{ hello }")

		require.NoError(t, pipeline.Chain(pipeline.ValidationGate(v, nil), c.stage)(context.Background(), rc))
		require.Equal(t, 0, c.n)
		require.Equal(t, http.StatusBadRequest, rc.Result.ContextData[pipeline.HTTPStatusCodeKey])
	})

	t.Run("valid document continues", func(t *testing.T) {
		v := &fakeValidator{}
		c := &counter{}
		rc := parsedContext(t, s, "{ hello }")

		require.NoError(t, pipeline.Chain(pipeline.ValidationGate(v, nil), c.stage)(context.Background(), rc))
		require.Equal(t, 1, c.n)
		require.Equal(t, "ok", rc.Result.Data)
		require.True(t, rc.IsValidDocument())
		require.Equal(t, []bool{false}, v.calls)
	})

	t.Run("missing document is a state error", func(t *testing.T) {
		v := &fakeValidator{}
		c := &counter{}
		rc := pipeline.NewRequestContext(s, pipeline.Request{Query: "{ hello }"})

		err := pipeline.Chain(pipeline.ValidationGate(v, nil), c.stage)(context.Background(), rc)
		require.ErrorIs(t, err, pipeline.ErrStateInvalidForValidation)
		require.Equal(t, 0, c.n)
		require.Empty(t, v.calls)
		require.NotContains(t, rc.Result.ContextData, pipeline.ValidationErrorsKey)
	})

	t.Run("attached result skips static validation", func(t *testing.T) {
		v := &fakeValidator{}
		rc := parsedContext(t, s, "{ hello }")
		rc.ValidationResult = &pipeline.ValidationResult{}

		require.NoError(t, pipeline.Chain(pipeline.ValidationGate(v, nil), (&counter{}).stage)(context.Background(), rc))
		require.Empty(t, v.calls)
	})

	t.Run("dynamic rules revalidate", func(t *testing.T) {
		v := &fakeValidator{dynamic: true}
		rc := parsedContext(t, s, "{ hello }")
		rc.ValidationResult = &pipeline.ValidationResult{}

		require.NoError(t, pipeline.Chain(pipeline.ValidationGate(v, nil), (&counter{}).stage)(context.Background(), rc))
		require.Equal(t, []bool{true}, v.calls)
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := &counter{}
		rc := parsedContext(t, s, "{ hello }")

		err := pipeline.Chain(pipeline.ValidationGate(pipeline.GQLValidator{}, nil), c.stage)(ctx, rc)
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, rc.Result)
		require.Equal(t, 0, c.n)
	})
}

func TestGQLValidator(t *testing.T) {
	s := mustSchema(t)
	ctx := context.Background()

	res, err := pipeline.GQLValidator{}.Validate(ctx, s, mustParse(t, "{ hello }"), "", map[string]any{}, false)
	require.NoError(t, err)
	require.True(t, res.IsValid())

	res, err = pipeline.GQLValidator{}.Validate(ctx, s, mustParse(t, "{ nope }"), "", map[string]any{}, false)
	require.NoError(t, err)
	require.False(t, res.IsValid())

	_, err = pipeline.GQLValidator{}.Validate(ctx, &schema.Schema{}, mustParse(t, "{ hello }"), "", nil, false)
	require.Error(t, err)
}

func TestMaxDepth(t *testing.T) {
	s := mustSchema(t)
	v := pipeline.GQLValidator{Rules: []pipeline.DynamicRule{pipeline.MaxDepth(2)}}
	require.True(t, v.HasDynamicRules())

	data := map[string]any{}
	res, err := v.Validate(context.Background(), s, mustParse(t, "{ user { friend { name } } }"), "", data, false)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "VALIDATION_FAILED", res.Errors[0].Extensions["code"])
	require.Equal(t, http.StatusBadRequest, data[pipeline.HTTPStatusCodeKey])

	data = map[string]any{}
	res, err = v.Validate(context.Background(), s, mustParse(t, "{ user { name } }"), "", data, false)
	require.NoError(t, err)
	require.True(t, res.IsValid())
	require.Empty(t, data)
}

func TestCachingValidator(t *testing.T) {
	s := mustSchema(t)
	inner := &fakeValidator{}
	v, err := pipeline.NewCachingValidator(inner, 8)
	require.NoError(t, err)

	doc := mustParse(t, "{ hello }")
	for i := 0; i < 3; i++ {
		res, err := v.Validate(context.Background(), s, doc, "doc-1", map[string]any{}, false)
		require.NoError(t, err)
		require.True(t, res.IsValid())
	}
	require.Len(t, inner.calls, 1)

	inner.errs = language.ErrorList{{Message: "bad"}}
	for i := 0; i < 2; i++ {
		res, err := v.Validate(context.Background(), s, doc, "doc-2", map[string]any{}, false)
		require.NoError(t, err)
		require.False(t, res.IsValid())
	}
	require.Len(t, inner.calls, 3)

	inner.dynamic = true
	_, err = v.Validate(context.Background(), s, doc, "doc-1", map[string]any{}, false)
	require.NoError(t, err)
	require.Len(t, inner.calls, 4)
}

func TestParseStage(t *testing.T) {
	s := mustSchema(t)
	parse, err := pipeline.ParseStage(4)
	require.NoError(t, err)

	var docs []*language.QueryDocument
	capture := func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, rc *pipeline.RequestContext) error {
			docs = append(docs, rc.Document)
			require.Equal(t, pipeline.DocumentID("{ hello }"), rc.DocumentID)
			return next(ctx, rc)
		}
	}
	h := pipeline.Chain(parse, capture)
	for i := 0; i < 2; i++ {
		require.NoError(t, h(context.Background(), pipeline.NewRequestContext(s, pipeline.Request{Query: "{ hello }"})))
	}
	require.Len(t, docs, 2)
	require.Same(t, docs[0], docs[1])

	rc := pipeline.NewRequestContext(s, pipeline.Request{Query: "{ hello"})
	require.NoError(t, h(context.Background(), rc))
	require.Len(t, docs, 2)
	require.Len(t, rc.Result.Errors, 1)
	require.NotEmpty(t, rc.Result.Errors[0].Locations)
}

func TestDocumentID(t *testing.T) {
	require.Equal(t, pipeline.DocumentID("{ a }"), pipeline.DocumentID("{ a }"))
	require.NotEqual(t, pipeline.DocumentID("{ a }"), pipeline.DocumentID("{ b }"))
}

func TestNormalizeStage(t *testing.T) {
	s := mustSchema(t)
	rc := parsedContext(t, s, `{ ...F } fragment F on Query { hello }`)
	original := rc.Document

	boom := errors.New("boom")
	err := pipeline.Chain(pipeline.NormalizeStage(func(*language.QueryDocument) (*language.QueryDocument, error) {
		return nil, boom
	}))(context.Background(), rc)
	require.ErrorIs(t, err, boom)
	require.Same(t, original, rc.Document)

	require.NoError(t, pipeline.Chain(pipeline.NormalizeStage(pipeline.InlineFragmentsPass()))(context.Background(), rc))
	require.NotSame(t, original, rc.Document)
	require.Empty(t, rc.Document.Fragments)
	_, ok := rc.Document.Operations[0].SelectionSet[0].(*language.InlineFragment)
	require.True(t, ok)
}

func TestDefaultPipeline(t *testing.T) {
	s := mustSchema(t)
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	sink := &report.Report{}
	p, err := pipeline.Default(s, executor.NewExecutor(rt, s),
		pipeline.WithPasses(pipeline.InlineFragmentsPass()), pipeline.WithValidationSink(sink))
	require.NoError(t, err)

	res, err := p.Execute(context.Background(), pipeline.Request{Query: `{ ...F } fragment F on Query { hello }`})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"hello": "world"}, res.Data)
	require.Empty(t, res.Errors)

	res, err = p.Execute(context.Background(), pipeline.Request{Query: `{ nope }`})
	require.NoError(t, err)
	require.Nil(t, res.Data)
	require.NotEmpty(t, res.Errors)
	require.Equal(t, true, res.ContextData[pipeline.ValidationErrorsKey])
	require.Len(t, rt.GetCalls(), 1)

	diags := sink.Diagnostics()
	require.Len(t, diags, len(res.Errors))
	require.Contains(t, diags[0].Message, "nope")
	require.NotNil(t, diags[0].Position)
}

func TestDefaultPipeline_WithRules(t *testing.T) {
	s := mustSchema(t)
	rt := executor.NewMockRuntime(nil)
	p, err := pipeline.Default(s, executor.NewExecutor(rt, s), pipeline.WithRules(pipeline.MaxDepth(1)))
	require.NoError(t, err)

	for range 2 {
		res, err := p.Execute(context.Background(), pipeline.Request{Query: `{ user { name } }`})
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		require.Equal(t, http.StatusBadRequest, res.ContextData[pipeline.HTTPStatusCodeKey])
	}
	require.Empty(t, rt.GetCalls())
}

func TestPipeline_NoResult(t *testing.T) {
	_, err := pipeline.New(mustSchema(t)).Execute(context.Background(), pipeline.Request{Query: "{ hello }"})
	require.ErrorIs(t, err, pipeline.ErrNoResult)
}

func mustParse(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(q)
	require.NoError(t, err)
	return doc
}
