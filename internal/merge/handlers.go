package merge

import (
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/ordered"
)

// KindHandler merges groups whose definitions all have the given kind.
// Members are united by name: fields, arguments, enum values, interfaces and
// union members keep their first declaration, descriptions come from the
// last source that has one.
type KindHandler struct {
	Kind language.DefinitionKind
}

func EnumHandler() Handler        { return KindHandler{Kind: language.Enum} }
func InputObjectHandler() Handler { return KindHandler{Kind: language.InputObject} }
func ObjectHandler() Handler      { return KindHandler{Kind: language.Object} }
func InterfaceHandler() Handler   { return KindHandler{Kind: language.Interface} }
func UnionHandler() Handler       { return KindHandler{Kind: language.Union} }
func ScalarHandler() Handler      { return KindHandler{Kind: language.Scalar} }

func (h KindHandler) CanHandle(types []TypeInfo) bool {
	if len(types) == 0 {
		return false
	}
	for _, t := range types {
		if t.Definition == nil || t.Kind() != h.Kind {
			return false
		}
	}
	return true
}

func (h KindHandler) Merge(ctx *Context, types []TypeInfo) {
	ctx.AddType(mergeDefinitions(types))
}

func mergeDefinitions(types []TypeInfo) *language.Definition {
	first := types[0].Definition
	out := &language.Definition{
		Kind:     first.Kind,
		Name:     first.Name,
		Position: first.Position,
		BuiltIn:  first.BuiltIn,
	}
	var (
		fields     ordered.Groups[string, *language.FieldDefinition]
		values     ordered.Groups[string, *language.EnumValueDefinition]
		interfaces ordered.Groups[string, string]
		members    ordered.Groups[string, string]
		directives ordered.Groups[string, *language.Directive]
	)
	for _, t := range types {
		d := t.Definition
		out.Description = laterDescription(out.Description, d.Description)
		for _, f := range d.Fields {
			fields.Add(f.Name, f)
		}
		for _, v := range d.EnumValues {
			values.Add(v.Name, v)
		}
		for _, name := range d.Interfaces {
			interfaces.Add(name, name)
		}
		for _, name := range d.Types {
			members.Add(name, name)
		}
		for _, dir := range d.Directives {
			directives.Add(dir.Name, dir)
		}
	}

	fields.Each(func(_ string, defs []*language.FieldDefinition) {
		out.Fields = append(out.Fields, mergeField(defs))
	})
	values.Each(func(_ string, defs []*language.EnumValueDefinition) {
		v := *defs[0]
		for _, d := range defs[1:] {
			v.Description = laterDescription(v.Description, d.Description)
		}
		out.EnumValues = append(out.EnumValues, &v)
	})
	out.Interfaces = append(out.Interfaces, interfaces.Keys()...)
	out.Types = append(out.Types, members.Keys()...)
	directives.Each(func(_ string, dirs []*language.Directive) {
		out.Directives = append(out.Directives, dirs[0])
	})
	return out
}

func mergeField(defs []*language.FieldDefinition) *language.FieldDefinition {
	f := *defs[0]
	var args ordered.Groups[string, *language.ArgumentDefinition]
	for _, d := range defs {
		f.Description = laterDescription(f.Description, d.Description)
		for _, a := range d.Arguments {
			args.Add(a.Name, a)
		}
	}
	if args.Len() > len(f.Arguments) {
		f.Arguments = nil
		args.Each(func(_ string, as []*language.ArgumentDefinition) {
			f.Arguments = append(f.Arguments, as[0])
		})
	}
	return &f
}

func laterDescription(current, next string) string {
	if next != "" {
		return next
	}
	return current
}
