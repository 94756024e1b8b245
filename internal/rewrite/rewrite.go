// Package rewrite transforms query documents without mutating them.
//
// A Rewriter walks every node kind of a query document in a fixed order and
// rebuilds only the branches that changed: when no descendant of a node is
// replaced, the node itself is returned, so callers can detect a no-op with a
// pointer comparison at any depth. Individual passes plug in by setting the
// hook for the node kinds they care about and calling the matching Default
// method to keep descending.
package rewrite

import (
	"errors"
	"fmt"

	language "github.com/hanpama/querycore/internal/language"
)

var (
	// ErrUnsupportedNode is returned for node kinds the rewriter does not know.
	ErrUnsupportedNode = errors.New("rewrite: unsupported node")
	// ErrInvalidArgument is returned when the root node is nil, and when a
	// selection hook returns a nil node without an error.
	ErrInvalidArgument = errors.New("rewrite: nil node")
)

// Rewriter rewrites query documents with per-kind hooks. A nil hook means the
// default rewrite for that kind, which rewrites every child and rebuilds the
// node only if one of them changed. C is the caller's context type, passed
// through unchanged.
type Rewriter[C any] struct {
	// SkipFragmentDefinitions leaves top-level fragment definitions untouched
	// when rewriting a whole document. Fragment spreads are always visited.
	SkipFragmentDefinitions bool

	Document            func(rw *Rewriter[C], node *language.QueryDocument, ctx C) (*language.QueryDocument, error)
	OperationDefinition func(rw *Rewriter[C], node *language.OperationDefinition, ctx C) (*language.OperationDefinition, error)
	FragmentDefinition  func(rw *Rewriter[C], node *language.FragmentDefinition, ctx C) (*language.FragmentDefinition, error)
	VariableDefinition  func(rw *Rewriter[C], node *language.VariableDefinition, ctx C) (*language.VariableDefinition, error)
	SelectionSet        func(rw *Rewriter[C], node language.SelectionSet, ctx C) (language.SelectionSet, error)
	Selection           func(rw *Rewriter[C], node language.Selection, ctx C) (language.Selection, error)

	// The selection hooks must not return nil without an error; a nil result
	// keeps the original node and fails with ErrInvalidArgument.
	Field               func(rw *Rewriter[C], node *language.Field, ctx C) (*language.Field, error)
	FragmentSpread      func(rw *Rewriter[C], node *language.FragmentSpread, ctx C) (*language.FragmentSpread, error)
	InlineFragment      func(rw *Rewriter[C], node *language.InlineFragment, ctx C) (*language.InlineFragment, error)
	Directive           func(rw *Rewriter[C], node *language.Directive, ctx C) (*language.Directive, error)
	Argument            func(rw *Rewriter[C], node *language.Argument, ctx C) (*language.Argument, error)
	Value               func(rw *Rewriter[C], node *language.Value, ctx C) (*language.Value, error)
	Type                func(rw *Rewriter[C], node *language.Type, ctx C) (*language.Type, error)

	// Name rewrites field names, aliases, argument, directive, variable,
	// operation and fragment names.
	Name func(rw *Rewriter[C], name string, ctx C) (string, error)
	// TypeName rewrites type conditions.
	TypeName func(rw *Rewriter[C], name string, ctx C) (string, error)
}

// Rewrite rewrites any supported node: a document, operation, fragment or
// variable definition, selection set, selection, directive, argument, value
// or type. The result has the same dynamic type as node.
func (rw *Rewriter[C]) Rewrite(node any, ctx C) (any, error) {
	switch n := node.(type) {
	case nil:
		return nil, ErrInvalidArgument
	case *language.QueryDocument:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteDocument(n, ctx)
	case *language.OperationDefinition:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteOperationDefinition(n, ctx)
	case *language.FragmentDefinition:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteFragmentDefinition(n, ctx)
	case *language.VariableDefinition:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteVariableDefinition(n, ctx)
	case language.SelectionSet:
		return rw.RewriteSelectionSet(n, ctx)
	case *language.Field:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteField(n, ctx)
	case *language.FragmentSpread:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteFragmentSpread(n, ctx)
	case *language.InlineFragment:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteInlineFragment(n, ctx)
	case *language.Directive:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteDirective(n, ctx)
	case *language.Argument:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteArgument(n, ctx)
	case *language.Value:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteValue(n, ctx)
	case *language.Type:
		if n == nil {
			return nil, ErrInvalidArgument
		}
		return rw.RewriteType(n, ctx)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedNode, node)
	}
}

func (rw *Rewriter[C]) RewriteDocument(node *language.QueryDocument, ctx C) (*language.QueryDocument, error) {
	if node == nil {
		return nil, ErrInvalidArgument
	}
	if rw.Document != nil {
		return rw.Document(rw, node, ctx)
	}
	return rw.DefaultDocument(node, ctx)
}

// DefaultDocument rewrites the operations, then the fragment definitions
// unless SkipFragmentDefinitions is set.
func (rw *Rewriter[C]) DefaultDocument(node *language.QueryDocument, ctx C) (*language.QueryDocument, error) {
	cur, err := RewriteSlice(node, node.Operations, ctx,
		func(ops language.OperationList, ctx C) (language.OperationList, error) {
			return RewriteMany(ops, ctx, rw.RewriteOperationDefinition)
		},
		func(ops language.OperationList) *language.QueryDocument {
			cp := *node
			cp.Operations = ops
			return &cp
		})
	if err != nil || rw.SkipFragmentDefinitions {
		return cur, err
	}
	return RewriteSlice(cur, cur.Fragments, ctx,
		func(frags language.FragmentDefinitionList, ctx C) (language.FragmentDefinitionList, error) {
			return RewriteMany(frags, ctx, rw.RewriteFragmentDefinition)
		},
		func(frags language.FragmentDefinitionList) *language.QueryDocument {
			cp := *cur
			cp.Fragments = frags
			return &cp
		})
}

func (rw *Rewriter[C]) RewriteOperationDefinition(node *language.OperationDefinition, ctx C) (*language.OperationDefinition, error) {
	if rw.OperationDefinition != nil {
		return rw.OperationDefinition(rw, node, ctx)
	}
	return rw.DefaultOperationDefinition(node, ctx)
}

// DefaultOperationDefinition rewrites name, variable definitions, directives
// and selection set.
func (rw *Rewriter[C]) DefaultOperationDefinition(node *language.OperationDefinition, ctx C) (*language.OperationDefinition, error) {
	cur := node
	var err error
	if cur.Name != "" {
		if cur, err = RewriteOne(cur, cur.Name, ctx, rw.RewriteName, func(name string) *language.OperationDefinition {
			cp := *cur
			cp.Name = name
			return &cp
		}); err != nil {
			return node, err
		}
	}
	if cur, err = RewriteSlice(cur, cur.VariableDefinitions, ctx, rw.rewriteVariableDefinitions, func(vars language.VariableDefinitionList) *language.OperationDefinition {
		cp := *cur
		cp.VariableDefinitions = vars
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.Directives, ctx, rw.rewriteDirectives, func(dirs language.DirectiveList) *language.OperationDefinition {
		cp := *cur
		cp.Directives = dirs
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.SelectionSet, ctx, rw.RewriteSelectionSet, func(set language.SelectionSet) *language.OperationDefinition {
		cp := *cur
		cp.SelectionSet = set
		return &cp
	}); err != nil {
		return node, err
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteFragmentDefinition(node *language.FragmentDefinition, ctx C) (*language.FragmentDefinition, error) {
	if rw.FragmentDefinition != nil {
		return rw.FragmentDefinition(rw, node, ctx)
	}
	return rw.DefaultFragmentDefinition(node, ctx)
}

// DefaultFragmentDefinition rewrites name, type condition, variable
// definitions, directives and selection set, in that order.
func (rw *Rewriter[C]) DefaultFragmentDefinition(node *language.FragmentDefinition, ctx C) (*language.FragmentDefinition, error) {
	cur := node
	var err error
	if cur, err = RewriteOne(cur, cur.Name, ctx, rw.RewriteName, func(name string) *language.FragmentDefinition {
		cp := *cur
		cp.Name = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteOne(cur, cur.TypeCondition, ctx, rw.RewriteTypeName, func(name string) *language.FragmentDefinition {
		cp := *cur
		cp.TypeCondition = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.VariableDefinition, ctx, rw.rewriteVariableDefinitions, func(vars language.VariableDefinitionList) *language.FragmentDefinition {
		cp := *cur
		cp.VariableDefinition = vars
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.Directives, ctx, rw.rewriteDirectives, func(dirs language.DirectiveList) *language.FragmentDefinition {
		cp := *cur
		cp.Directives = dirs
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.SelectionSet, ctx, rw.RewriteSelectionSet, func(set language.SelectionSet) *language.FragmentDefinition {
		cp := *cur
		cp.SelectionSet = set
		return &cp
	}); err != nil {
		return node, err
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteVariableDefinition(node *language.VariableDefinition, ctx C) (*language.VariableDefinition, error) {
	if rw.VariableDefinition != nil {
		return rw.VariableDefinition(rw, node, ctx)
	}
	return rw.DefaultVariableDefinition(node, ctx)
}

// DefaultVariableDefinition rewrites variable name, type, default value and
// directives.
func (rw *Rewriter[C]) DefaultVariableDefinition(node *language.VariableDefinition, ctx C) (*language.VariableDefinition, error) {
	cur := node
	var err error
	if cur, err = RewriteOne(cur, cur.Variable, ctx, rw.RewriteName, func(name string) *language.VariableDefinition {
		cp := *cur
		cp.Variable = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur.Type != nil {
		if cur, err = RewriteOne(cur, cur.Type, ctx, rw.RewriteType, func(t *language.Type) *language.VariableDefinition {
			cp := *cur
			cp.Type = t
			return &cp
		}); err != nil {
			return node, err
		}
	}
	if cur.DefaultValue != nil {
		if cur, err = RewriteOne(cur, cur.DefaultValue, ctx, rw.RewriteValue, func(v *language.Value) *language.VariableDefinition {
			cp := *cur
			cp.DefaultValue = v
			return &cp
		}); err != nil {
			return node, err
		}
	}
	if cur, err = RewriteSlice(cur, cur.Directives, ctx, rw.rewriteDirectives, func(dirs language.DirectiveList) *language.VariableDefinition {
		cp := *cur
		cp.Directives = dirs
		return &cp
	}); err != nil {
		return node, err
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteSelectionSet(node language.SelectionSet, ctx C) (language.SelectionSet, error) {
	if rw.SelectionSet != nil {
		return rw.SelectionSet(rw, node, ctx)
	}
	return rw.DefaultSelectionSet(node, ctx)
}

// DefaultSelectionSet rewrites every selection.
func (rw *Rewriter[C]) DefaultSelectionSet(node language.SelectionSet, ctx C) (language.SelectionSet, error) {
	return RewriteMany(node, ctx, rw.RewriteSelection)
}

func (rw *Rewriter[C]) RewriteSelection(node language.Selection, ctx C) (language.Selection, error) {
	if rw.Selection != nil {
		return rw.Selection(rw, node, ctx)
	}
	return rw.DefaultSelection(node, ctx)
}

// DefaultSelection dispatches to the rewrite for the selection's kind.
func (rw *Rewriter[C]) DefaultSelection(node language.Selection, ctx C) (language.Selection, error) {
	switch n := node.(type) {
	case *language.Field:
		out, err := rw.RewriteField(n, ctx)
		return settle(node, out, out == n, out == nil, err)
	case *language.FragmentSpread:
		out, err := rw.RewriteFragmentSpread(n, ctx)
		return settle(node, out, out == n, out == nil, err)
	case *language.InlineFragment:
		out, err := rw.RewriteInlineFragment(n, ctx)
		return settle(node, out, out == n, out == nil, err)
	default:
		return node, fmt.Errorf("%w: selection %T", ErrUnsupportedNode, node)
	}
}

// settle picks the selection to return for node. out is only used when it
// is a new, non-nil node, so a typed nil never reaches a selection set.
func settle(node, out language.Selection, same, missing bool, err error) (language.Selection, error) {
	switch {
	case missing && err == nil:
		return node, fmt.Errorf("%w: hook for %T returned nil", ErrInvalidArgument, node)
	case same, missing:
		return node, err
	}
	return out, err
}

func (rw *Rewriter[C]) RewriteField(node *language.Field, ctx C) (*language.Field, error) {
	if rw.Field != nil {
		return rw.Field(rw, node, ctx)
	}
	return rw.DefaultField(node, ctx)
}

// DefaultField rewrites alias, name, arguments, directives and selection set,
// in that order.
func (rw *Rewriter[C]) DefaultField(node *language.Field, ctx C) (*language.Field, error) {
	cur := node
	var err error
	if cur.Alias != "" {
		if cur, err = RewriteOne(cur, cur.Alias, ctx, rw.RewriteName, func(alias string) *language.Field {
			cp := *cur
			cp.Alias = alias
			return &cp
		}); err != nil {
			return node, err
		}
	}
	if cur, err = RewriteOne(cur, cur.Name, ctx, rw.RewriteName, func(name string) *language.Field {
		cp := *cur
		cp.Name = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.Arguments, ctx, rw.rewriteArguments, func(args language.ArgumentList) *language.Field {
		cp := *cur
		cp.Arguments = args
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.Directives, ctx, rw.rewriteDirectives, func(dirs language.DirectiveList) *language.Field {
		cp := *cur
		cp.Directives = dirs
		return &cp
	}); err != nil {
		return node, err
	}
	if len(cur.SelectionSet) > 0 {
		if cur, err = RewriteSlice(cur, cur.SelectionSet, ctx, rw.RewriteSelectionSet, func(set language.SelectionSet) *language.Field {
			cp := *cur
			cp.SelectionSet = set
			return &cp
		}); err != nil {
			return node, err
		}
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteFragmentSpread(node *language.FragmentSpread, ctx C) (*language.FragmentSpread, error) {
	if rw.FragmentSpread != nil {
		return rw.FragmentSpread(rw, node, ctx)
	}
	return rw.DefaultFragmentSpread(node, ctx)
}

// DefaultFragmentSpread rewrites name and directives.
func (rw *Rewriter[C]) DefaultFragmentSpread(node *language.FragmentSpread, ctx C) (*language.FragmentSpread, error) {
	cur := node
	var err error
	if cur, err = RewriteOne(cur, cur.Name, ctx, rw.RewriteName, func(name string) *language.FragmentSpread {
		cp := *cur
		cp.Name = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.Directives, ctx, rw.rewriteDirectives, func(dirs language.DirectiveList) *language.FragmentSpread {
		cp := *cur
		cp.Directives = dirs
		return &cp
	}); err != nil {
		return node, err
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteInlineFragment(node *language.InlineFragment, ctx C) (*language.InlineFragment, error) {
	if rw.InlineFragment != nil {
		return rw.InlineFragment(rw, node, ctx)
	}
	return rw.DefaultInlineFragment(node, ctx)
}

// DefaultInlineFragment rewrites type condition, directives and selection
// set.
func (rw *Rewriter[C]) DefaultInlineFragment(node *language.InlineFragment, ctx C) (*language.InlineFragment, error) {
	cur := node
	var err error
	if cur.TypeCondition != "" {
		if cur, err = RewriteOne(cur, cur.TypeCondition, ctx, rw.RewriteTypeName, func(name string) *language.InlineFragment {
			cp := *cur
			cp.TypeCondition = name
			return &cp
		}); err != nil {
			return node, err
		}
	}
	if cur, err = RewriteSlice(cur, cur.Directives, ctx, rw.rewriteDirectives, func(dirs language.DirectiveList) *language.InlineFragment {
		cp := *cur
		cp.Directives = dirs
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.SelectionSet, ctx, rw.RewriteSelectionSet, func(set language.SelectionSet) *language.InlineFragment {
		cp := *cur
		cp.SelectionSet = set
		return &cp
	}); err != nil {
		return node, err
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteDirective(node *language.Directive, ctx C) (*language.Directive, error) {
	if rw.Directive != nil {
		return rw.Directive(rw, node, ctx)
	}
	return rw.DefaultDirective(node, ctx)
}

// DefaultDirective rewrites name and arguments.
func (rw *Rewriter[C]) DefaultDirective(node *language.Directive, ctx C) (*language.Directive, error) {
	cur := node
	var err error
	if cur, err = RewriteOne(cur, cur.Name, ctx, rw.RewriteName, func(name string) *language.Directive {
		cp := *cur
		cp.Name = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur, err = RewriteSlice(cur, cur.Arguments, ctx, rw.rewriteArguments, func(args language.ArgumentList) *language.Directive {
		cp := *cur
		cp.Arguments = args
		return &cp
	}); err != nil {
		return node, err
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteArgument(node *language.Argument, ctx C) (*language.Argument, error) {
	if rw.Argument != nil {
		return rw.Argument(rw, node, ctx)
	}
	return rw.DefaultArgument(node, ctx)
}

// DefaultArgument rewrites name and value.
func (rw *Rewriter[C]) DefaultArgument(node *language.Argument, ctx C) (*language.Argument, error) {
	cur := node
	var err error
	if cur, err = RewriteOne(cur, cur.Name, ctx, rw.RewriteName, func(name string) *language.Argument {
		cp := *cur
		cp.Name = name
		return &cp
	}); err != nil {
		return node, err
	}
	if cur.Value != nil {
		if cur, err = RewriteOne(cur, cur.Value, ctx, rw.RewriteValue, func(v *language.Value) *language.Argument {
			cp := *cur
			cp.Value = v
			return &cp
		}); err != nil {
			return node, err
		}
	}
	return cur, nil
}

func (rw *Rewriter[C]) RewriteValue(node *language.Value, ctx C) (*language.Value, error) {
	if rw.Value != nil {
		return rw.Value(rw, node, ctx)
	}
	return rw.DefaultValue(node, ctx)
}

// DefaultValue rewrites the members of list and object values. Scalars and
// variables are returned as is.
func (rw *Rewriter[C]) DefaultValue(node *language.Value, ctx C) (*language.Value, error) {
	if node.Kind != language.ListValue && node.Kind != language.ObjectValue {
		return node, nil
	}
	return RewriteSlice(node, node.Children, ctx,
		func(children language.ChildValueList, ctx C) (language.ChildValueList, error) {
			return RewriteMany(children, ctx, rw.rewriteChildValue)
		},
		func(children language.ChildValueList) *language.Value {
			cp := *node
			cp.Children = children
			return &cp
		})
}

func (rw *Rewriter[C]) RewriteType(node *language.Type, ctx C) (*language.Type, error) {
	if rw.Type != nil {
		return rw.Type(rw, node, ctx)
	}
	return node, nil
}

func (rw *Rewriter[C]) RewriteName(name string, ctx C) (string, error) {
	if rw.Name != nil {
		return rw.Name(rw, name, ctx)
	}
	return name, nil
}

func (rw *Rewriter[C]) RewriteTypeName(name string, ctx C) (string, error) {
	if rw.TypeName != nil {
		return rw.TypeName(rw, name, ctx)
	}
	return name, nil
}

func (rw *Rewriter[C]) rewriteChildValue(node *language.ChildValue, ctx C) (*language.ChildValue, error) {
	if node.Value == nil {
		return node, nil
	}
	return RewriteOne(node, node.Value, ctx, rw.RewriteValue, func(v *language.Value) *language.ChildValue {
		cp := *node
		cp.Value = v
		return &cp
	})
}

func (rw *Rewriter[C]) rewriteDirectives(dirs language.DirectiveList, ctx C) (language.DirectiveList, error) {
	return RewriteMany(dirs, ctx, rw.RewriteDirective)
}

func (rw *Rewriter[C]) rewriteArguments(args language.ArgumentList, ctx C) (language.ArgumentList, error) {
	return RewriteMany(args, ctx, rw.RewriteArgument)
}

func (rw *Rewriter[C]) rewriteVariableDefinitions(vars language.VariableDefinitionList, ctx C) (language.VariableDefinitionList, error) {
	return RewriteMany(vars, ctx, rw.RewriteVariableDefinition)
}
