package rewrite_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/rewrite"
)

func mustParse(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(q)
	require.NoError(t, err)
	return doc
}

func fieldAt(t *testing.T, set language.SelectionSet, i int) *language.Field {
	t.Helper()
	require.Greater(t, len(set), i)
	f, ok := set[i].(*language.Field)
	require.True(t, ok, "selection %d is %T", i, set[i])
	return f
}

func directiveNames(dirs language.DirectiveList) []string {
	var out []string
	for _, d := range dirs {
		out = append(out, d.Name)
	}
	return out
}

func TestRewriter_NoHooksKeepsIdentity(t *testing.T) {
	doc := mustParse(t, `
		query Q($id: ID = "1") @live { a: b(x: [1, {y: 2}]) @d { ...F ... on T { c } } }
		fragment F on T { d }
	`)
	rw := &rewrite.Rewriter[struct{}]{}
	out, err := rw.RewriteDocument(doc, struct{}{})
	require.NoError(t, err)
	require.Same(t, doc, out)
}

func TestRewriter_RewriteRejectsBadInput(t *testing.T) {
	rw := &rewrite.Rewriter[struct{}]{}

	_, err := rw.Rewrite(nil, struct{}{})
	require.ErrorIs(t, err, rewrite.ErrInvalidArgument)

	var f *language.Field
	_, err = rw.Rewrite(f, struct{}{})
	require.ErrorIs(t, err, rewrite.ErrInvalidArgument)

	_, err = rw.Rewrite(42, struct{}{})
	require.ErrorIs(t, err, rewrite.ErrUnsupportedNode)
}

func TestRewriter_NilDocument(t *testing.T) {
	rw := &rewrite.Rewriter[struct{}]{}
	_, err := rw.RewriteDocument(nil, struct{}{})
	require.ErrorIs(t, err, rewrite.ErrInvalidArgument)

	_, err = rw.Rewrite((*language.QueryDocument)(nil), struct{}{})
	require.ErrorIs(t, err, rewrite.ErrInvalidArgument)

	for name, pass := range map[string]func(*language.QueryDocument) (*language.QueryDocument, error){
		"InjectDirective": func(doc *language.QueryDocument) (*language.QueryDocument, error) {
			return rewrite.InjectDirective(doc, &language.Directive{Name: "d"})
		},
		"InlineFragments": rewrite.InlineFragments,
		"EvaluateConditions": func(doc *language.QueryDocument) (*language.QueryDocument, error) {
			return rewrite.EvaluateConditions(doc, nil)
		},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := pass(nil)
			require.ErrorIs(t, err, rewrite.ErrInvalidArgument)
			require.Nil(t, got)
		})
	}

	_, err = rewrite.SelectionDepth(nil)
	require.ErrorIs(t, err, rewrite.ErrInvalidArgument)
}

func TestRewriter_HookReturningNil(t *testing.T) {
	doc := mustParse(t, `{ a ...F ... on Query { b } } fragment F on Query { c }`)
	for name, rw := range map[string]*rewrite.Rewriter[struct{}]{
		"field": {Field: func(*rewrite.Rewriter[struct{}], *language.Field, struct{}) (*language.Field, error) {
			return nil, nil
		}},
		"fragment spread": {FragmentSpread: func(*rewrite.Rewriter[struct{}], *language.FragmentSpread, struct{}) (*language.FragmentSpread, error) {
			return nil, nil
		}},
		"inline fragment": {InlineFragment: func(*rewrite.Rewriter[struct{}], *language.InlineFragment, struct{}) (*language.InlineFragment, error) {
			return nil, nil
		}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := rw.RewriteDocument(doc, struct{}{})
			require.ErrorIs(t, err, rewrite.ErrInvalidArgument)

			for _, sel := range doc.Operations[0].SelectionSet {
				got, err := rw.RewriteSelection(sel, struct{}{})
				if err != nil {
					require.ErrorIs(t, err, rewrite.ErrInvalidArgument)
					require.Same(t, sel, got)
				}
			}
		})
	}
}

func TestRewriter_RewriteDispatchesOnKind(t *testing.T) {
	doc := mustParse(t, `{ a b }`)
	rw := &rewrite.Rewriter[struct{}]{
		Name: func(_ *rewrite.Rewriter[struct{}], name string, _ struct{}) (string, error) {
			return strings.ToUpper(name), nil
		},
	}
	out, err := rw.Rewrite(doc.Operations[0].SelectionSet, struct{}{})
	require.NoError(t, err)
	set, ok := out.(language.SelectionSet)
	require.True(t, ok)
	require.Equal(t, "A", fieldAt(t, set, 0).Name)
	require.Equal(t, "B", fieldAt(t, set, 1).Name)

	single, err := rw.Rewrite(fieldAt(t, doc.Operations[0].SelectionSet, 0), struct{}{})
	require.NoError(t, err)
	require.Equal(t, "A", single.(*language.Field).Name)
}

func TestRewriter_VisitOrder(t *testing.T) {
	doc := mustParse(t, `{ a: b(x: 1) @d(y: 2) { c } }`)
	var seen []string
	rw := &rewrite.Rewriter[struct{}]{
		Name: func(_ *rewrite.Rewriter[struct{}], name string, _ struct{}) (string, error) {
			seen = append(seen, name)
			return name, nil
		},
	}
	_, err := rw.RewriteDocument(doc, struct{}{})
	require.NoError(t, err)
	want := []string{"a", "b", "x", "d", "y", "c", "c"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("visit order mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriter_RebuildsOnlyChangedPath(t *testing.T) {
	doc := mustParse(t, `{ left { x } right { y } }`)
	rw := &rewrite.Rewriter[struct{}]{
		Name: func(_ *rewrite.Rewriter[struct{}], name string, _ struct{}) (string, error) {
			if name == "y" {
				return "z", nil
			}
			return name, nil
		},
	}
	out, err := rw.RewriteDocument(doc, struct{}{})
	require.NoError(t, err)
	require.NotSame(t, doc, out)

	before := doc.Operations[0].SelectionSet
	after := out.Operations[0].SelectionSet
	require.Same(t, fieldAt(t, before, 0), fieldAt(t, after, 0))
	require.NotSame(t, fieldAt(t, before, 1), fieldAt(t, after, 1))
	require.Equal(t, "z", fieldAt(t, fieldAt(t, after, 1).SelectionSet, 0).Name)
	require.Equal(t, "y", fieldAt(t, fieldAt(t, before, 1).SelectionSet, 0).Name)
}

func TestRewriter_SkipFragmentDefinitions(t *testing.T) {
	doc := mustParse(t, `{ ...F } fragment F on Query { a }`)
	upper := func(_ *rewrite.Rewriter[struct{}], name string, _ struct{}) (string, error) {
		return strings.ToUpper(name), nil
	}

	rw := &rewrite.Rewriter[struct{}]{Name: upper, SkipFragmentDefinitions: true}
	out, err := rw.RewriteDocument(doc, struct{}{})
	require.NoError(t, err)
	require.Same(t, doc.Fragments[0], out.Fragments[0])
	require.Equal(t, "F", out.Operations[0].SelectionSet[0].(*language.FragmentSpread).Name)

	rw = &rewrite.Rewriter[struct{}]{Name: upper}
	out, err = rw.RewriteDocument(doc, struct{}{})
	require.NoError(t, err)
	require.Equal(t, "A", fieldAt(t, out.Fragments[0].SelectionSet, 0).Name)
}

func TestInjectDirective(t *testing.T) {
	doc := mustParse(t, `{ foo { bar { baz } } }`)
	out, err := rewrite.InjectDirective(doc, &language.Directive{Name: "upper"})
	require.NoError(t, err)

	foo := fieldAt(t, out.Operations[0].SelectionSet, 0)
	bar := fieldAt(t, foo.SelectionSet, 0)
	baz := fieldAt(t, bar.SelectionSet, 0)
	for _, f := range []*language.Field{foo, bar, baz} {
		if diff := cmp.Diff([]string{"upper"}, directiveNames(f.Directives)); diff != "" {
			t.Errorf("%s directives mismatch (-want +got):\n%s", f.Name, diff)
		}
	}

	orig := fieldAt(t, doc.Operations[0].SelectionSet, 0)
	require.Empty(t, orig.Directives)
}

func TestInlineFragments(t *testing.T) {
	doc := mustParse(t, `
		{ hero { ...Names @include(if: true) } }
		fragment Names on Character { name ...More }
		fragment More on Droid { primaryFunction }
	`)
	out, err := rewrite.InlineFragments(doc)
	require.NoError(t, err)
	require.Empty(t, out.Fragments)
	require.Len(t, doc.Fragments, 2)

	hero := fieldAt(t, out.Operations[0].SelectionSet, 0)
	outer, ok := hero.SelectionSet[0].(*language.InlineFragment)
	require.True(t, ok)
	require.Equal(t, "Character", outer.TypeCondition)
	require.Equal(t, []string{"include"}, directiveNames(outer.Directives))
	require.Equal(t, "name", fieldAt(t, outer.SelectionSet, 0).Name)

	inner, ok := outer.SelectionSet[1].(*language.InlineFragment)
	require.True(t, ok)
	require.Equal(t, "Droid", inner.TypeCondition)
	require.Equal(t, "primaryFunction", fieldAt(t, inner.SelectionSet, 0).Name)
}

func TestInlineFragments_KeepsCyclesAndUnknown(t *testing.T) {
	doc := mustParse(t, `
		{ ...A ...Missing }
		fragment A on Query { a ...A }
	`)
	out, err := rewrite.InlineFragments(doc)
	require.NoError(t, err)

	set := out.Operations[0].SelectionSet
	inline, ok := set[0].(*language.InlineFragment)
	require.True(t, ok)
	spread, ok := inline.SelectionSet[1].(*language.FragmentSpread)
	require.True(t, ok)
	require.Equal(t, "A", spread.Name)

	missing, ok := set[1].(*language.FragmentSpread)
	require.True(t, ok)
	require.Equal(t, "Missing", missing.Name)

	require.Len(t, out.Fragments, 1)
	require.Equal(t, "A", out.Fragments[0].Name)
}

func TestEvaluateConditions(t *testing.T) {
	doc := mustParse(t, `
		query($s: Boolean!, $i: Boolean!) {
			a @skip(if: $s)
			b @include(if: false)
			c @include(if: $i)
			d { e @skip(if: true) f }
			... on Query @skip(if: $s) { g }
		}
	`)
	out, err := rewrite.EvaluateConditions(doc, map[string]any{"s": true, "i": true})
	require.NoError(t, err)

	set := out.Operations[0].SelectionSet
	require.Len(t, set, 2)
	require.Equal(t, "c", fieldAt(t, set, 0).Name)
	d := fieldAt(t, set, 1)
	require.Len(t, d.SelectionSet, 1)
	require.Equal(t, "f", fieldAt(t, d.SelectionSet, 0).Name)

	require.Len(t, doc.Operations[0].SelectionSet, 5)
}

func TestEvaluateConditions_UnchangedKeepsIdentity(t *testing.T) {
	doc := mustParse(t, `query($s: Boolean) { a @skip(if: $s) b { c @include(if: true) } }`)
	out, err := rewrite.EvaluateConditions(doc, map[string]any{"s": false})
	require.NoError(t, err)
	require.Same(t, doc, out)

	// unresolved variables keep the selection
	out, err = rewrite.EvaluateConditions(doc, nil)
	require.NoError(t, err)
	require.Same(t, doc, out)
}

func TestIncluded(t *testing.T) {
	doc := mustParse(t, `{ a @skip(if: false) @include(if: true) b @skip(if: true) @include(if: true) }`)
	set := doc.Operations[0].SelectionSet
	require.True(t, rewrite.Included(fieldAt(t, set, 0).Directives, nil))
	require.False(t, rewrite.Included(fieldAt(t, set, 1).Directives, nil))
	require.True(t, rewrite.Included(nil, nil))
}

func TestSelectionDepth(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{`{ a }`, 1},
		{`{ a { b { c } } d }`, 3},
		{`{ a { ...F } } fragment F on T { b { c { d } } }`, 4},
		{`{ ...F } fragment F on Query { a ...F }`, 1},
		{`query A { a } query B { a { b } }`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := rewrite.SelectionDepth(mustParse(t, tt.query))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
