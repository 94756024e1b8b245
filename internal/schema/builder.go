package schema

import (
	"fmt"
	"sort"
	"strings"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/vektah/gqlparser/v2/ast"
)

// asyncDirectiveSDL declares the marker that routes a field through the
// batched resolution path instead of the synchronous one.
const asyncDirectiveSDL = `directive @async on FIELD_DEFINITION`

// BuildFromSDL parses SDL string and returns the corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	return BuildFromSources(&language.Source{Name: "schema.graphql", Input: sdl})
}

// BuildFromSources loads and validates every source as one schema and
// converts the result into an executable Schema. Fields carrying @async are
// marked Async.
func BuildFromSources(sources ...*language.Source) (*Schema, error) {
	all := make([]*language.Source, 0, len(sources)+1)
	all = append(all, &language.Source{Name: "directives.graphql", Input: asyncDirectiveSDL, BuiltIn: true})
	all = append(all, sources...)
	def, err := language.LoadSchema(all...)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return BuildFromAST(def)
}

// BuildFromAST converts a validated gqlparser schema.
func BuildFromAST(def *language.Schema) (*Schema, error) {
	if def == nil || def.Query == nil {
		return nil, fmt.Errorf("schema has no query type")
	}
	s := NewSchema(def.Description)
	s.AST = def
	s.SetQueryType(def.Query.Name)
	if def.Mutation != nil {
		s.SetMutationType(def.Mutation.Name)
	}
	if def.Subscription != nil {
		s.SetSubscriptionType(def.Subscription.Name)
	}

	for name, d := range def.Types {
		if strings.HasPrefix(name, "__") {
			continue
		}
		t, err := BuildType(def, d)
		if err != nil {
			return nil, err
		}
		s.AddType(t)
	}
	for _, d := range def.Directives {
		s.AddDirective(buildDirective(d))
	}
	return s, nil
}

// BuildType converts one named definition of def. Fields whose names start
// with "__" are left out.
func BuildType(def *language.Schema, d *ast.Definition) (*Type, error) {
	switch d.Kind {
	case ast.Object, ast.Interface:
		kind := TypeKindObject
		if d.Kind == ast.Interface {
			kind = TypeKindInterface
		}
		t := NewType(d.Name, kind, d.Description)
		for _, name := range d.Interfaces {
			t.AddInterface(name)
		}
		for _, fd := range d.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			t.AddField(buildField(fd))
		}
		if d.Kind == ast.Interface {
			for _, pt := range declarationOrder(def.GetPossibleTypes(d)) {
				t.AddPossibleType(pt.Name)
			}
		}
		return t, nil
	case ast.Union:
		t := NewType(d.Name, TypeKindUnion, d.Description)
		for _, name := range d.Types {
			t.AddPossibleType(name)
		}
		return t, nil
	case ast.Enum:
		t := NewType(d.Name, TypeKindEnum, d.Description)
		for _, ev := range d.EnumValues {
			v := NewEnumValue(ev.Name, ev.Description)
			if reason, ok := deprecation(ev.Directives); ok {
				v.Deprecate(reason)
			}
			t.AddEnumValue(v)
		}
		return t, nil
	case ast.InputObject:
		t := NewType(d.Name, TypeKindInputObject, d.Description).
			SetOneOf(d.Directives.ForName("oneOf") != nil)
		for _, fd := range d.Fields {
			in := NewInputValue(fd.Name, fd.Description, buildTypeRef(fd.Type)).
				SetDefault(constValue(fd.DefaultValue))
			if reason, ok := deprecation(fd.Directives); ok {
				in.Deprecate(reason)
			}
			t.AddInputField(in)
		}
		return t, nil
	case ast.Scalar:
		t := NewType(d.Name, TypeKindScalar, d.Description)
		if dir := d.Directives.ForName("specifiedBy"); dir != nil {
			if arg := dir.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				t.SetSpecifiedByURL(arg.Value.Raw)
			}
		}
		return t, nil
	}
	return nil, fmt.Errorf("type %s: unsupported kind %s", d.Name, d.Kind)
}

// declarationOrder sorts definitions by where they appear in the SDL.
// gqlparser fills interface implementations from a map.
func declarationOrder(defs []*ast.Definition) []*ast.Definition {
	out := append([]*ast.Definition(nil), defs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Position, out[j].Position
		if a == nil || b == nil {
			return a != nil
		}
		if an, bn := sourceName(a), sourceName(b); an != bn {
			return an < bn
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return out
}

func sourceName(p *ast.Position) string {
	if p.Src == nil {
		return ""
	}
	return p.Src.Name
}

func buildField(fd *ast.FieldDefinition) *Field {
	f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type)).
		SetAsync(fd.Directives.ForName("async") != nil)
	if reason, ok := deprecation(fd.Directives); ok {
		f.Deprecate(reason)
	}
	for _, ad := range fd.Arguments {
		f.AddArgument(buildArgument(ad))
	}
	return f
}

func buildArgument(ad *ast.ArgumentDefinition) *InputValue {
	in := NewInputValue(ad.Name, ad.Description, buildTypeRef(ad.Type)).
		SetDefault(constValue(ad.DefaultValue))
	if reason, ok := deprecation(ad.Directives); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildDirective(d *ast.DirectiveDefinition) *Directive {
	out := NewDirective(d.Name, d.Description).SetRepeatable(d.IsRepeatable)
	for _, loc := range d.Locations {
		out.Locations = append(out.Locations, string(loc))
	}
	for _, ad := range d.Arguments {
		out.AddArgument(buildArgument(ad))
	}
	return out
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var inner *TypeRef
	if t.Elem != nil {
		inner = ListType(buildTypeRef(t.Elem))
	} else {
		inner = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(inner)
	}
	return inner
}

func deprecation(dirs ast.DirectiveList) (string, bool) {
	dir := dirs.ForName("deprecated")
	if dir == nil {
		return "", false
	}
	reason := "No longer supported"
	if arg := dir.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		reason = arg.Value.Raw
	}
	return reason, true
}

func constValue(v *ast.Value) any {
	if v == nil {
		return nil
	}
	out, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return out
}
