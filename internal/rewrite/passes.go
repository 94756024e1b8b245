package rewrite

import (
	language "github.com/hanpama/querycore/internal/language"
)

// InjectDirective returns a copy of doc where every field carries dir in
// addition to its own directives.
func InjectDirective(doc *language.QueryDocument, dir *language.Directive) (*language.QueryDocument, error) {
	rw := &Rewriter[*language.Directive]{
		Field: func(rw *Rewriter[*language.Directive], node *language.Field, dir *language.Directive) (*language.Field, error) {
			out, err := rw.DefaultField(node, dir)
			if err != nil {
				return node, err
			}
			cp := *out
			cp.Directives = make(language.DirectiveList, 0, len(out.Directives)+1)
			cp.Directives = append(cp.Directives, out.Directives...)
			cp.Directives = append(cp.Directives, dir)
			return &cp, nil
		},
	}
	return rw.RewriteDocument(doc, dir)
}

type inlineState struct {
	fragments language.FragmentDefinitionList
	active    []string
}

func (s *inlineState) isActive(name string) bool {
	for _, n := range s.active {
		if n == name {
			return true
		}
	}
	return false
}

// InlineFragments replaces every fragment spread with an inline fragment
// holding the definition's type condition and selections, and the spread's
// own directives. Spreads of unknown fragments and spreads that would recurse
// into a fragment being inlined are left in place. Fragment definitions no
// longer referenced afterwards are dropped.
func InlineFragments(doc *language.QueryDocument) (*language.QueryDocument, error) {
	if doc == nil {
		return nil, ErrInvalidArgument
	}
	if len(doc.Fragments) == 0 {
		return doc, nil
	}
	rw := &Rewriter[*inlineState]{
		SkipFragmentDefinitions: true,
		Selection: func(rw *Rewriter[*inlineState], node language.Selection, st *inlineState) (language.Selection, error) {
			spread, ok := node.(*language.FragmentSpread)
			if !ok {
				return rw.DefaultSelection(node, st)
			}
			def := st.fragments.ForName(spread.Name)
			if def == nil || st.isActive(spread.Name) {
				return rw.DefaultSelection(node, st)
			}
			st.active = append(st.active, spread.Name)
			set, err := rw.RewriteSelectionSet(def.SelectionSet, st)
			st.active = st.active[:len(st.active)-1]
			if err != nil {
				return node, err
			}
			return &language.InlineFragment{
				TypeCondition:    def.TypeCondition,
				Directives:       spread.Directives,
				SelectionSet:     set,
				ObjectDefinition: spread.ObjectDefinition,
				Position:         spread.Position,
			}, nil
		},
	}
	out, err := rw.RewriteDocument(doc, &inlineState{fragments: doc.Fragments})
	if err != nil {
		return doc, err
	}
	used := referencedFragments(out)
	kept := make(language.FragmentDefinitionList, 0, len(used))
	for _, frag := range out.Fragments {
		if used[frag.Name] {
			kept = append(kept, frag)
		}
	}
	if len(kept) == len(out.Fragments) {
		return out, nil
	}
	if out == doc {
		cp := *doc
		out = &cp
	}
	out.Fragments = kept
	return out, nil
}

// referencedFragments returns the names of fragments reachable from the
// operations of doc.
func referencedFragments(doc *language.QueryDocument) map[string]bool {
	used := map[string]bool{}
	var pending []string
	rw := &Rewriter[struct{}]{
		SkipFragmentDefinitions: true,
		FragmentSpread: func(_ *Rewriter[struct{}], node *language.FragmentSpread, _ struct{}) (*language.FragmentSpread, error) {
			if !used[node.Name] {
				used[node.Name] = true
				pending = append(pending, node.Name)
			}
			return node, nil
		},
	}
	for _, op := range doc.Operations {
		_, _ = rw.RewriteOperationDefinition(op, struct{}{})
	}
	for len(pending) > 0 {
		name := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if def := doc.Fragments.ForName(name); def != nil {
			_, _ = rw.RewriteSelectionSet(def.SelectionSet, struct{}{})
		}
	}
	return used
}

// EvaluateConditions removes selections excluded by @skip or @include under
// the given variable values. Selections whose condition cannot be resolved
// are kept. Selection sets without excluded members keep their identity.
func EvaluateConditions(doc *language.QueryDocument, variables map[string]any) (*language.QueryDocument, error) {
	rw := &Rewriter[map[string]any]{
		SelectionSet: func(rw *Rewriter[map[string]any], node language.SelectionSet, vars map[string]any) (language.SelectionSet, error) {
			set, err := rw.DefaultSelectionSet(node, vars)
			if err != nil {
				return node, err
			}
			var out language.SelectionSet
			for i, sel := range set {
				if Included(selectionDirectives(sel), vars) {
					if out != nil {
						out = append(out, sel)
					}
					continue
				}
				if out == nil {
					out = make(language.SelectionSet, i, len(set))
					copy(out, set[:i])
				}
			}
			if out == nil {
				return set, nil
			}
			return out, nil
		},
	}
	return rw.RewriteDocument(doc, variables)
}

// Included reports whether a node with the given directives takes part in
// execution: @skip(if: true) excludes it, @include(if: false) excludes it.
func Included(dirs language.DirectiveList, variables map[string]any) bool {
	if d := dirs.ForName("skip"); d != nil {
		if v, ok := conditionValue(d, variables); ok && v {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if v, ok := conditionValue(d, variables); ok && !v {
			return false
		}
	}
	return true
}

func conditionValue(d *language.Directive, variables map[string]any) (bool, bool) {
	arg := d.Arguments.ForName("if")
	if arg == nil || arg.Value == nil {
		return false, false
	}
	switch arg.Value.Kind {
	case language.BooleanValue:
		return arg.Value.Raw == "true", true
	case language.Variable:
		b, ok := variables[arg.Value.Raw].(bool)
		return b, ok
	}
	return false, false
}

func selectionDirectives(sel language.Selection) language.DirectiveList {
	switch s := sel.(type) {
	case *language.Field:
		return s.Directives
	case *language.FragmentSpread:
		return s.Directives
	case *language.InlineFragment:
		return s.Directives
	}
	return nil
}

type depthState struct{ cur, max int }

// SelectionDepth returns the deepest nesting of fields in the operations of
// doc, counting fields reached through fragment spreads.
func SelectionDepth(doc *language.QueryDocument) (int, error) {
	inlined, err := InlineFragments(doc)
	if err != nil {
		return 0, err
	}
	rw := &Rewriter[*depthState]{
		SkipFragmentDefinitions: true,
		Field: func(rw *Rewriter[*depthState], node *language.Field, st *depthState) (*language.Field, error) {
			st.cur++
			st.max = max(st.max, st.cur)
			out, err := rw.DefaultField(node, st)
			st.cur--
			return out, err
		},
	}
	st := &depthState{}
	if _, err := rw.RewriteDocument(inlined, st); err != nil {
		return 0, err
	}
	return st.max, nil
}
