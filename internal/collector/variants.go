package collector

import (
	"slices"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/ordered"
	"github.com/hanpama/querycore/internal/report"
)

// FieldGroup is one response position: every field node sharing a response
// key, in document order.
type FieldGroup struct {
	ResponseName string
	Fields       []*language.Field
}

// FragmentNode is the fragment through which fields reached a variant.
// Exactly one of Inline and Spread is set.
type FragmentNode struct {
	Inline *language.InlineFragment
	Spread *language.FragmentSpread
}

// Variant holds what applies only when the runtime object is TypeName.
type Variant struct {
	TypeName string
	// Fields are groups whose response key is absent from the return type.
	Fields []FieldGroup
	// Extensions are type-specific field nodes for keys the return type
	// already has. They are merged into those groups by FieldsFor.
	Extensions []FieldGroup
	// Fragments are the fragments that contributed to this variant.
	Fragments []FragmentNode

	all []FieldGroup
}

// VariantSet is the collected shape of one selection set under one type. It
// is immutable once returned and safe to share between goroutines.
type VariantSet struct {
	TypeName string
	// Fields are the groups that apply to every possible runtime type.
	Fields []FieldGroup
	// Variants has one entry per possible concrete type when TypeName is
	// abstract, in schema order. It is empty for object types.
	Variants []*Variant
	// Diagnostics found while collecting.
	Diagnostics []report.Diagnostic

	order map[*language.Field]int
}

// Variant returns the variant for a concrete type, or nil.
func (vs *VariantSet) Variant(typeName string) *Variant {
	for _, v := range vs.Variants {
		if v.TypeName == typeName {
			return v
		}
	}
	return nil
}

// FieldsFor returns every group that applies when the runtime type is
// typeName: the return-type groups together with that type's variant, in
// order of first occurrence in the document.
func (vs *VariantSet) FieldsFor(typeName string) []FieldGroup {
	if v := vs.Variant(typeName); v != nil && v.all != nil {
		return v.all
	}
	return vs.Fields
}

// ResponseNames lists the return-type response keys, mostly for debugging.
func (vs *VariantSet) ResponseNames() []string {
	out := make([]string, len(vs.Fields))
	for i, g := range vs.Fields {
		out[i] = g.ResponseName
	}
	return out
}

// merge computes the per-type field list of v. Nothing is allocated when the
// variant adds nothing.
func (vs *VariantSet) merge(v *Variant) {
	if len(v.Fields) == 0 && len(v.Extensions) == 0 {
		return
	}
	var fields []*language.Field
	for _, list := range [][]FieldGroup{vs.Fields, v.Extensions, v.Fields} {
		for _, g := range list {
			fields = append(fields, g.Fields...)
		}
	}
	slices.SortStableFunc(fields, func(a, b *language.Field) int {
		return vs.order[a] - vs.order[b]
	})
	fields = slices.Compact(fields)
	v.all = toFieldGroups(ordered.GroupBy(fields, language.ResponseKey))
}

func toFieldGroups(g *ordered.Groups[string, *language.Field]) []FieldGroup {
	if g.Len() == 0 {
		return nil
	}
	out := make([]FieldGroup, 0, g.Len())
	g.Each(func(key string, fields []*language.Field) {
		out = append(out, FieldGroup{ResponseName: key, Fields: fields})
	})
	return out
}

// MergedSelectionSet returns the selections nested under a field group, the
// input for collecting the next level. A single field's own selection set is
// returned without copying.
func MergedSelectionSet(fields []*language.Field) language.SelectionSet {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0].SelectionSet
	}
	n := 0
	for _, f := range fields {
		n += len(f.SelectionSet)
	}
	out := make(language.SelectionSet, 0, n)
	for _, f := range fields {
		out = append(out, f.SelectionSet...)
	}
	return out
}
