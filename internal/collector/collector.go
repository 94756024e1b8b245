// Package collector turns selection sets into the field groups an executor
// walks.
//
// Collect groups the fields of a selection set by response key, resolves
// fragment spreads and inline fragments against the target type and, for
// interfaces and unions, splits type-specific fields into one Variant per
// possible concrete type. Nested selection sets are not collected eagerly:
// the executor asks for them with CollectFields once it knows the field's
// type. Results are cached by selection set identity and target type.
package collector

import (
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/ordered"
	"github.com/hanpama/querycore/internal/report"
	"github.com/hanpama/querycore/internal/schema"
)

// DefaultCacheSize is the number of variant sets kept by New.
const DefaultCacheSize = 1024

// FragmentResolver looks up fragment definitions by name. Resolvers should
// be pointer-like values: the resolver's identity is part of the cache key.
type FragmentResolver interface {
	Fragment(name string) *language.FragmentDefinition
}

// FragmentResolverFunc adapts a function to FragmentResolver.
type FragmentResolverFunc func(name string) *language.FragmentDefinition

func (f FragmentResolverFunc) Fragment(name string) *language.FragmentDefinition { return f(name) }

type documentFragments language.QueryDocument

func (d *documentFragments) Fragment(name string) *language.FragmentDefinition {
	return d.Fragments.ForName(name)
}

// FragmentsOf resolves fragments from the definitions of doc.
func FragmentsOf(doc *language.QueryDocument) FragmentResolver {
	return (*documentFragments)(doc)
}

type options struct {
	cacheSize int
	fragments FragmentResolver
	sink      report.Sink
}

type Option func(*options)

// WithCacheSize bounds the variant-set cache. Zero disables caching.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithFragments sets the default fragment resolver.
func WithFragments(r FragmentResolver) Option { return func(o *options) { o.fragments = r } }

// WithSink sets the default diagnostic sink.
func WithSink(s report.Sink) Option { return func(o *options) { o.sink = s } }

type cacheEntry struct {
	vs *VariantSet
	// retain keeps the keyed nodes alive so their addresses cannot be reused
	// by another document while the entry exists.
	retain    any
	fragments FragmentResolver
}

// Collector collects selection sets against one schema. It is safe for
// concurrent use.
type Collector struct {
	schema    *schema.Schema
	fragments FragmentResolver
	sink      report.Sink
	cache     *lru.Cache[string, cacheEntry]
}

func New(s *schema.Schema, opts ...Option) (*Collector, error) {
	o := options{cacheSize: DefaultCacheSize, sink: report.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Collector{schema: s, fragments: o.fragments, sink: o.sink}
	if c.sink == nil {
		c.sink = report.Discard
	}
	if o.cacheSize > 0 {
		cache, err := lru.New[string, cacheEntry](o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("collector cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Bind returns a collector sharing c's schema and cache that resolves
// fragments with fragments and reports to sink.
func (c *Collector) Bind(fragments FragmentResolver, sink report.Sink) *Collector {
	if sink == nil {
		sink = report.Discard
	}
	return &Collector{schema: c.schema, fragments: fragments, sink: sink, cache: c.cache}
}

func (c *Collector) Schema() *schema.Schema { return c.schema }

// Collect collects set under the named type.
func (c *Collector) Collect(set language.SelectionSet, typeName string) *VariantSet {
	if len(set) == 0 {
		return &VariantSet{TypeName: typeName}
	}
	key := fmt.Sprintf("%p|%p|%d|%s", c.fragments, &set[0], len(set), typeName)
	return c.cached(key, set, func() *VariantSet {
		return c.collect([]language.SelectionSet{set}, typeName)
	})
}

// CollectFields collects the merged sub-selections of a field group under
// the named type.
func (c *Collector) CollectFields(fields []*language.Field, typeName string) *VariantSet {
	switch len(fields) {
	case 0:
		return &VariantSet{TypeName: typeName}
	case 1:
		return c.Collect(fields[0].SelectionSet, typeName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%p", c.fragments)
	sets := make([]language.SelectionSet, 0, len(fields))
	for _, f := range fields {
		fmt.Fprintf(&b, "|%p", f)
		if len(f.SelectionSet) > 0 {
			sets = append(sets, f.SelectionSet)
		}
	}
	fmt.Fprintf(&b, "|%s", typeName)
	held := append([]*language.Field(nil), fields...)
	return c.cached(b.String(), held, func() *VariantSet {
		return c.collect(sets, typeName)
	})
}

func (c *Collector) cached(key string, retain any, build func() *VariantSet) *VariantSet {
	if c.cache != nil {
		if e, ok := c.cache.Get(key); ok {
			c.replay(e.vs)
			return e.vs
		}
	}
	vs := build()
	if c.cache != nil {
		c.cache.Add(key, cacheEntry{vs: vs, retain: retain, fragments: c.fragments})
	}
	c.replay(vs)
	return vs
}

func (c *Collector) replay(vs *VariantSet) {
	for _, d := range vs.Diagnostics {
		c.sink.Report(d)
	}
}

// Purge empties the cache.
func (c *Collector) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

type variantState struct {
	groups    ordered.Groups[string, *language.Field]
	fragments []FragmentNode
}

type collectState struct {
	c        *Collector
	vs       *VariantSet
	possible []string
	ret      ordered.Groups[string, *language.Field]
	variants map[string]*variantState
	visited  map[string]bool
	seq      int
}

func (c *Collector) collect(sets []language.SelectionSet, typeName string) *VariantSet {
	vs := &VariantSet{TypeName: typeName, order: make(map[*language.Field]int)}
	t := c.schema.Types[typeName]
	if t == nil {
		vs.Diagnostics = append(vs.Diagnostics, report.Diagnostic{
			Code:    report.CodeUnknownType,
			Message: fmt.Sprintf("Unknown type %q.", typeName),
		})
		return vs
	}
	st := &collectState{
		c:        c,
		vs:       vs,
		possible: c.schema.PossibleTypes(typeName),
		variants: make(map[string]*variantState),
		visited:  make(map[string]bool),
	}
	if st.possible == nil && !t.IsAbstract() {
		st.possible = []string{typeName}
	}
	for _, name := range st.possible {
		st.variants[name] = &variantState{}
	}
	for _, set := range sets {
		st.walk(set, st.possible)
	}

	vs.Fields = toFieldGroups(&st.ret)
	if !t.IsAbstract() {
		return vs
	}
	for _, name := range st.possible {
		vst := st.variants[name]
		v := &Variant{TypeName: name, Fragments: vst.fragments}
		var own, ext ordered.Groups[string, *language.Field]
		vst.groups.Each(func(key string, fields []*language.Field) {
			if st.ret.Has(key) {
				ext.Add(key, fields...)
			} else {
				own.Add(key, fields...)
			}
		})
		v.Fields = toFieldGroups(&own)
		v.Extensions = toFieldGroups(&ext)
		vs.merge(v)
		vs.Variants = append(vs.Variants, v)
	}
	return vs
}

// walk collects set while the runtime type is known to be one of cond.
// cond is always a subsequence of st.possible.
func (st *collectState) walk(set language.SelectionSet, cond []string) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if _, seen := st.vs.order[s]; !seen {
				st.seq++
				st.vs.order[s] = st.seq
			}
			key := language.ResponseKey(s)
			if len(cond) == len(st.possible) {
				st.ret.Add(key, s)
				continue
			}
			for _, name := range cond {
				st.variants[name].groups.Add(key, s)
			}

		case *language.InlineFragment:
			next, ok := st.narrow(s.TypeCondition, cond, s.Position, "Fragment")
			if !ok {
				continue
			}
			st.record(next, FragmentNode{Inline: s})
			st.walk(s.SelectionSet, next)

		case *language.FragmentSpread:
			def := st.fragment(s.Name)
			if def == nil {
				st.report(report.CodeFragmentNotFound, s.Position, fmt.Sprintf("Unknown fragment %q.", s.Name))
				continue
			}
			next, ok := st.narrow(def.TypeCondition, cond, s.Position, fmt.Sprintf("Fragment %q", s.Name))
			if !ok {
				continue
			}
			visit := s.Name + "|" + strings.Join(next, ",")
			if st.visited[visit] {
				continue
			}
			st.visited[visit] = true
			st.record(next, FragmentNode{Spread: s})
			st.walk(def.SelectionSet, next)
		}
	}
}

// narrow intersects cond with the possible types of typeCondition.
func (st *collectState) narrow(typeCondition string, cond []string, pos *language.Position, what string) ([]string, bool) {
	if typeCondition == "" {
		return cond, true
	}
	if st.c.schema.Types[typeCondition] == nil {
		st.report(report.CodeUnknownType, pos, fmt.Sprintf("Unknown type %q.", typeCondition))
		return nil, false
	}
	allowed := st.c.schema.PossibleTypes(typeCondition)
	var next []string
	for _, name := range cond {
		if slices.Contains(allowed, name) {
			next = append(next, name)
		}
	}
	if len(next) == 0 {
		st.report(report.CodeIncompatibleTypeCondition, pos,
			fmt.Sprintf("%s cannot be spread here as objects of type %q can never be of type %q.", what, st.vs.TypeName, typeCondition))
		return nil, false
	}
	if len(next) == len(cond) {
		return cond, true
	}
	return next, true
}

// record notes frag as the origin of the variants in cond. Fragments
// covering every possible type feed the return type and are not recorded.
func (st *collectState) record(cond []string, frag FragmentNode) {
	if len(cond) == len(st.possible) {
		return
	}
	for _, name := range cond {
		v := st.variants[name]
		if !slices.Contains(v.fragments, frag) {
			v.fragments = append(v.fragments, frag)
		}
	}
}

func (st *collectState) fragment(name string) *language.FragmentDefinition {
	if st.c.fragments == nil {
		return nil
	}
	return st.c.fragments.Fragment(name)
}

func (st *collectState) report(code report.Code, pos *language.Position, msg string) {
	st.vs.Diagnostics = append(st.vs.Diagnostics, report.Diagnostic{Code: code, Message: msg, Position: pos})
}
