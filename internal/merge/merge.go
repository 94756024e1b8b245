// Package merge composes several schema documents into one.
//
// Definitions sharing a name across schemas form a group. Each group is
// offered to a chain of handlers in registration order; the first handler
// that can handle the whole group writes one merged definition into the
// Context. A group no handler accepts is passed, unconsumed, to the leftover
// callback.
package merge

import (
	"fmt"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/ordered"
)

// SchemaInfo names one source schema.
type SchemaInfo struct {
	Name     string
	Document *language.SchemaDocument
}

// TypeInfo is one type definition together with the schema declaring it.
type TypeInfo struct {
	Definition *language.Definition
	Schema     *SchemaInfo
}

func (t TypeInfo) Name() string                  { return t.Definition.Name }
func (t TypeInfo) Kind() language.DefinitionKind { return t.Definition.Kind }

// Context accumulates merged definitions in the order they are added.
type Context struct {
	types      ordered.Groups[string, *language.Definition]
	directives ordered.Groups[string, *language.DirectiveDefinition]
}

func NewContext() *Context { return &Context{} }

// AddType places def. A definition added under an existing name replaces it.
func (c *Context) AddType(def *language.Definition) {
	if c.types.Has(def.Name) {
		c.types.Remove(def.Name)
	}
	c.types.Add(def.Name, def)
}

// AddDirective places d unless a directive with that name is already there.
func (c *Context) AddDirective(d *language.DirectiveDefinition) {
	if !c.directives.Has(d.Name) {
		c.directives.Add(d.Name, d)
	}
}

func (c *Context) ContainsType(name string) bool { return c.types.Has(name) }

// Type returns the merged definition for name, or nil.
func (c *Context) Type(name string) *language.Definition {
	if defs := c.types.Get(name); len(defs) > 0 {
		return defs[0]
	}
	return nil
}

// CreateSchema returns a schema document holding everything merged so far.
func (c *Context) CreateSchema() *language.SchemaDocument {
	doc := &language.SchemaDocument{}
	c.types.Each(func(_ string, defs []*language.Definition) {
		doc.Definitions = append(doc.Definitions, defs[0])
	})
	c.directives.Each(func(_ string, defs []*language.DirectiveDefinition) {
		doc.Directives = append(doc.Directives, defs[0])
	})
	return doc
}

// Print renders CreateSchema as SDL.
func (c *Context) Print() string {
	return language.PrintSchema(c.CreateSchema())
}

// MergeTypeDelegate merges one group of same-named definitions.
type MergeTypeDelegate func(ctx *Context, types []TypeInfo)

// MergeTypeRule wraps the rest of the chain.
type MergeTypeRule func(next MergeTypeDelegate) MergeTypeDelegate

// Handler merges groups of one shape. CanHandle must accept or reject the
// whole group: a handler never merges part of it.
type Handler interface {
	CanHandle(types []TypeInfo) bool
	Merge(ctx *Context, types []TypeInfo)
}

// Rule turns h into a chain link that forwards groups h cannot handle.
func Rule(h Handler) MergeTypeRule {
	return func(next MergeTypeDelegate) MergeTypeDelegate {
		return func(ctx *Context, types []TypeInfo) {
			if h.CanHandle(types) {
				h.Merge(ctx, types)
				return
			}
			next(ctx, types)
		}
	}
}

// Chain links rules in order, ending in leftover.
func Chain(leftover MergeTypeDelegate, rules ...MergeTypeRule) MergeTypeDelegate {
	if leftover == nil {
		leftover = func(*Context, []TypeInfo) {}
	}
	d := leftover
	for i := len(rules) - 1; i >= 0; i-- {
		d = rules[i](d)
	}
	return d
}

// DefaultRules handles every group whose definitions all have one kind.
func DefaultRules() []MergeTypeRule {
	return []MergeTypeRule{
		Rule(EnumHandler()),
		Rule(InputObjectHandler()),
		Rule(ObjectHandler()),
		Rule(InterfaceHandler()),
		Rule(UnionHandler()),
		Rule(ScalarHandler()),
	}
}

// Result is the outcome of Merger.Merge.
type Result struct {
	Document  *language.SchemaDocument
	Leftovers [][]TypeInfo
}

type Option func(*Merger)

// WithRules replaces DefaultRules.
func WithRules(rules ...MergeTypeRule) Option { return func(m *Merger) { m.rules = rules } }

// WithLeftoverHandler is called for every group no rule accepted, in
// addition to collecting it in Result.Leftovers.
func WithLeftoverHandler(fn func(types []TypeInfo)) Option {
	return func(m *Merger) { m.onLeftover = fn }
}

// Merger composes schemas with a rule chain.
type Merger struct {
	rules      []MergeTypeRule
	onLeftover func([]TypeInfo)
}

func NewMerger(opts ...Option) *Merger {
	m := &Merger{rules: DefaultRules()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge groups type definitions of all schemas by name, in order of first
// appearance, and runs every group through the chain. Type extensions join
// the group of the type they extend. Directive definitions are kept from the
// first schema declaring them.
func (m *Merger) Merge(schemas ...*SchemaInfo) (*Result, error) {
	var groups ordered.Groups[string, TypeInfo]
	ctx := NewContext()
	for _, s := range schemas {
		if s == nil || s.Document == nil {
			return nil, fmt.Errorf("merge: schema without document")
		}
		for _, def := range s.Document.Definitions {
			groups.Add(def.Name, TypeInfo{Definition: def, Schema: s})
		}
		for _, def := range s.Document.Extensions {
			groups.Add(def.Name, TypeInfo{Definition: def, Schema: s})
		}
		for _, d := range s.Document.Directives {
			ctx.AddDirective(d)
		}
	}

	res := &Result{}
	chain := Chain(func(_ *Context, types []TypeInfo) {
		res.Leftovers = append(res.Leftovers, types)
		if m.onLeftover != nil {
			m.onLeftover(types)
		}
	}, m.rules...)
	groups.Each(func(_ string, types []TypeInfo) {
		chain(ctx, types)
	})
	res.Document = ctx.CreateSchema()
	return res, nil
}

// MergeSDL parses every source and merges them, naming each schema after its
// source.
func (m *Merger) MergeSDL(sources ...*language.Source) (*Result, error) {
	schemas := make([]*SchemaInfo, 0, len(sources))
	for _, src := range sources {
		doc, err := language.ParseSchema(src.Name, src.Input)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", src.Name, err)
		}
		schemas = append(schemas, &SchemaInfo{Name: src.Name, Document: doc})
	}
	return m.Merge(schemas...)
}
