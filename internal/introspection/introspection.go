// Package introspection answers __schema and __type queries from the
// definition an executable schema was built from.
package introspection

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	executor "github.com/hanpama/querycore/internal/executor"
	schema "github.com/hanpama/querycore/internal/schema"
)

// Wrap returns a runtime resolving the introspection fields and delegating
// every other field to base, together with a copy of sch that declares the
// __schema and __type root fields and the introspection types. sch itself is
// not modified. It must have been built from SDL so that sch.AST is set.
func Wrap(base executor.Runtime, sch *schema.Schema) (executor.Runtime, *schema.Schema, error) {
	if sch.AST == nil {
		return nil, nil, errors.New("introspection: schema has no definition")
	}
	query := sch.GetQueryType()
	if query == nil {
		return nil, nil, errors.New("introspection: schema has no query type")
	}

	ext := *sch
	ext.Types = maps.Clone(sch.Types)
	for name, d := range sch.AST.Types {
		if !strings.HasPrefix(name, "__") {
			continue
		}
		t, err := schema.BuildType(sch.AST, d)
		if err != nil {
			return nil, nil, fmt.Errorf("introspection: %w", err)
		}
		ext.Types[name] = t
	}
	root := *query
	root.Fields = append(slices.Clone(query.Fields),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	ext.Types[root.Name] = &root

	return &runtime{base: base, def: sch.AST, query: root.Name}, &ext, nil
}

type runtime struct {
	base  executor.Runtime
	def   *ast.Schema
	query string
}

// inputValue is an argument or an input object field.
type inputValue struct {
	name         string
	description  string
	typ          *ast.Type
	defaultValue *ast.Value
	directives   ast.DirectiveList
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if objectType == r.query {
		switch field {
		case "__schema":
			return r.def, nil
		case "__type":
			name, _ := args["name"].(string)
			return nilIfMissing(r.def.Types[name]), nil
		}
	}
	if !strings.HasPrefix(objectType, "__") {
		return r.base.ResolveSync(ctx, objectType, field, source, args)
	}

	includeDeprecated, _ := args["includeDeprecated"].(bool)
	switch src := source.(type) {
	case *ast.Schema:
		return r.schemaField(src, field), nil
	case *ast.Definition:
		return r.typeField(src, field, includeDeprecated), nil
	case *ast.Type:
		return r.wrapperField(src, field), nil
	case *ast.FieldDefinition:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return nilIfEmpty(src.Description), nil
		case "args":
			return arguments(src.Arguments, includeDeprecated), nil
		case "type":
			return r.typeOf(src.Type), nil
		}
		return deprecation(src.Directives, field), nil
	case inputValue:
		switch field {
		case "name":
			return src.name, nil
		case "description":
			return nilIfEmpty(src.description), nil
		case "type":
			return r.typeOf(src.typ), nil
		case "defaultValue":
			if src.defaultValue == nil {
				return nil, nil
			}
			return src.defaultValue.String(), nil
		}
		return deprecation(src.directives, field), nil
	case *ast.EnumValueDefinition:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return nilIfEmpty(src.Description), nil
		}
		return deprecation(src.Directives, field), nil
	case *ast.DirectiveDefinition:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return nilIfEmpty(src.Description), nil
		case "isRepeatable":
			return src.IsRepeatable, nil
		case "locations":
			out := make([]any, len(src.Locations))
			for i, l := range src.Locations {
				out[i] = string(l)
			}
			return out, nil
		case "args":
			return arguments(src.Arguments, includeDeprecated), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("introspection: unexpected %T for %s.%s", source, objectType, field)
}

func (r *runtime) schemaField(s *ast.Schema, field string) any {
	switch field {
	case "description":
		return nilIfEmpty(s.Description)
	case "types":
		names := slices.Sorted(maps.Keys(s.Types))
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = s.Types[name]
		}
		return out
	case "queryType":
		return nilIfMissing(s.Query)
	case "mutationType":
		return nilIfMissing(s.Mutation)
	case "subscriptionType":
		return nilIfMissing(s.Subscription)
	case "directives":
		names := slices.Sorted(maps.Keys(s.Directives))
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = s.Directives[name]
		}
		return out
	}
	return nil
}

func (r *runtime) typeField(d *ast.Definition, field string, includeDeprecated bool) any {
	switch field {
	case "kind":
		return string(d.Kind)
	case "name":
		return d.Name
	case "description":
		return nilIfEmpty(d.Description)
	case "specifiedByURL":
		if dir := d.Directives.ForName("specifiedBy"); dir != nil {
			if arg := dir.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				return arg.Value.Raw
			}
		}
		return nil
	case "fields":
		if d.Kind != ast.Object && d.Kind != ast.Interface {
			return nil
		}
		out := make([]any, 0, len(d.Fields))
		for _, f := range d.Fields {
			if strings.HasPrefix(f.Name, "__") || (!includeDeprecated && isDeprecated(f.Directives)) {
				continue
			}
			out = append(out, f)
		}
		return out
	case "interfaces":
		if d.Kind != ast.Object && d.Kind != ast.Interface {
			return nil
		}
		out := make([]any, 0, len(d.Interfaces))
		for _, name := range d.Interfaces {
			if def := r.def.Types[name]; def != nil {
				out = append(out, def)
			}
		}
		return out
	case "possibleTypes":
		if d.Kind != ast.Interface && d.Kind != ast.Union {
			return nil
		}
		defs := r.def.GetPossibleTypes(d)
		slices.SortFunc(defs, func(a, b *ast.Definition) int { return strings.Compare(a.Name, b.Name) })
		out := make([]any, len(defs))
		for i, def := range defs {
			out[i] = def
		}
		return out
	case "enumValues":
		if d.Kind != ast.Enum {
			return nil
		}
		out := make([]any, 0, len(d.EnumValues))
		for _, v := range d.EnumValues {
			if includeDeprecated || !isDeprecated(v.Directives) {
				out = append(out, v)
			}
		}
		return out
	case "inputFields":
		if d.Kind != ast.InputObject {
			return nil
		}
		out := make([]any, 0, len(d.Fields))
		for _, f := range d.Fields {
			if includeDeprecated || !isDeprecated(f.Directives) {
				out = append(out, inputValue{f.Name, f.Description, f.Type, f.DefaultValue, f.Directives})
			}
		}
		return out
	case "isOneOf":
		if d.Kind != ast.InputObject {
			return nil
		}
		return d.Directives.ForName("oneOf") != nil
	}
	return nil
}

// wrapperField resolves __Type fields of a NON_NULL or LIST type.
func (r *runtime) wrapperField(t *ast.Type, field string) any {
	switch field {
	case "kind":
		if t.NonNull {
			return "NON_NULL"
		}
		return "LIST"
	case "ofType":
		if t.NonNull {
			inner := *t
			inner.NonNull = false
			return r.typeOf(&inner)
		}
		return r.typeOf(t.Elem)
	}
	return nil
}

// typeOf returns the __Type source for t: t itself for wrapping types, the
// named definition otherwise.
func (r *runtime) typeOf(t *ast.Type) any {
	if t == nil {
		return nil
	}
	if t.NonNull || t.Elem != nil {
		return t
	}
	return nilIfMissing(r.def.Types[t.NamedType])
}

func arguments(args ast.ArgumentDefinitionList, includeDeprecated bool) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		if includeDeprecated || !isDeprecated(a.Directives) {
			out = append(out, inputValue{a.Name, a.Description, a.Type, a.DefaultValue, a.Directives})
		}
	}
	return out
}

func isDeprecated(dirs ast.DirectiveList) bool {
	return dirs.ForName("deprecated") != nil
}

// deprecation resolves isDeprecated and deprecationReason.
func deprecation(dirs ast.DirectiveList, field string) any {
	dir := dirs.ForName("deprecated")
	switch field {
	case "isDeprecated":
		return dir != nil
	case "deprecationReason":
		if dir == nil {
			return nil
		}
		if arg := dir.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
			return arg.Value.Raw
		}
		return "No longer supported"
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfMissing(d *ast.Definition) any {
	if d == nil {
		return nil
	}
	return d
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return r.base.ResolveUnionConcreteValue(ctx, unionTypeName, value)
}

func (r *runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return r.base.ResolveInterfaceConcreteValue(ctx, interfaceTypeName, value)
}

// SerializeLeafValue passes the introspection enums through and delegates
// every other leaf.
func (r *runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	if strings.HasPrefix(typeName, "__") {
		return value, nil
	}
	return r.base.SerializeLeafValue(ctx, typeName, value)
}
