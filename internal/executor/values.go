package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/path"
	schema "github.com/hanpama/querycore/internal/schema"
)

// coerceVariableValues checks the request variables against the variable
// definitions of operation. Variables may be keyed with or without "$".
func coerceVariableValues(sch *schema.Schema, operation *language.OperationDefinition, provided map[string]any) (map[string]any, error) {
	c := coercer{sch}
	out := make(map[string]any, len(operation.VariableDefinitions))
	for _, def := range operation.VariableDefinitions {
		name, typ := def.Variable, def.Type
		raw, found := lookupVariable(provided, name)
		switch {
		case found:
		case def.DefaultValue != nil:
			raw = literal(def.DefaultValue, nil)
		case typ.NonNull:
			return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, typ)
		default:
			continue
		}
		if raw == nil && typ.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, typ)
		}
		v, err := c.coerce(raw, typeRefFromAST(typ))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, typ, err)
		}
		out[name] = v
	}
	return out, nil
}

// coerceArgumentValues builds the argument map of one field. Problems become
// located errors and leave the argument out.
func coerceArgumentValues(r *request, def *schema.Field, arguments language.ArgumentList, seg *path.Segment) map[string]any {
	c := coercer{r.schema}
	out := make(map[string]any, len(def.Arguments))
	for _, arg := range arguments {
		argDef := findInputValue(def.Arguments, arg.Name)
		if argDef == nil {
			continue
		}
		v, err := c.coerce(literal(arg.Value, r.variables), argDef.Type)
		if err != nil {
			r.fail(seg, fmt.Sprintf("argument '%s' cannot be coerced: %v", arg.Name, err))
			continue
		}
		out[arg.Name] = v
	}
	for _, argDef := range def.Arguments {
		if _, ok := out[argDef.Name]; ok {
			continue
		}
		if argDef.DefaultValue != nil {
			out[argDef.Name] = argDef.DefaultValue
		} else if schema.IsNonNull(argDef.Type) {
			r.fail(seg, fmt.Sprintf("argument '%s' of required type was not provided", argDef.Name))
		}
	}
	return out
}

func lookupVariable(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	v, ok := vars[strings.TrimPrefix(name, "$")]
	return v, ok
}

func findInputValue(values []*schema.InputValue, name string) *schema.InputValue {
	for _, v := range values {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// literal converts a query literal to a Go value. Variables are read from
// vars; with vars nil they evaluate to null.
func literal(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		val, _ := lookupVariable(vars, v.Raw)
		return val
	case language.IntValue:
		if n, err := strconv.Atoi(v.Raw); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.BooleanValue:
		return v.Raw == "true"
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.ListValue:
		items := make([]any, 0, len(v.Children))
		for _, c := range v.Children {
			items = append(items, literal(c.Value, vars))
		}
		return items
	case language.ObjectValue:
		fields := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			fields[c.Name] = literal(c.Value, vars)
		}
		return fields
	}
	return nil
}

type coercer struct {
	sch *schema.Schema
}

var builtinScalars = map[string]func(any) (any, error){
	"Int":     toInt,
	"Float":   toFloat,
	"String":  toString,
	"Boolean": toBoolean,
	"ID":      toID,
}

func (c coercer) coerce(value any, t *schema.TypeRef) (any, error) {
	if schema.IsNonNull(t) {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return c.coerce(value, t.Unwrap())
	}
	if value == nil {
		return nil, nil
	}
	if schema.IsList(t) {
		item := t.Unwrap()
		items, ok := value.([]any)
		if !ok {
			// A single value stands for a list of one.
			v, err := c.coerce(value, item)
			if err != nil {
				return nil, err
			}
			return []any{v}, nil
		}
		out := make([]any, len(items))
		for i := range items {
			v, err := c.coerce(items[i], item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	name := t.GetNamedType()
	if scalar, ok := builtinScalars[name]; ok {
		return scalar(value)
	}
	named := c.sch.Types[name]
	if named == nil {
		return value, nil
	}
	switch named.Kind {
	case schema.TypeKindInputObject:
		return c.inputObject(named, value)
	case schema.TypeKindEnum:
		if s, ok := value.(string); ok {
			for _, ev := range named.EnumValues {
				if ev.Name == s {
					return s, nil
				}
			}
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to enum %s", value, value, named.Name)
	}
	// Custom scalars are the runtime's business.
	return value, nil
}

func (c coercer) inputObject(t *schema.Type, value any) (any, error) {
	in, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot coerce %v (%T) to input object %s", value, value, t.Name)
	}
	for name := range in {
		if findInputValue(t.InputFields, name) == nil {
			return nil, fmt.Errorf("field '%s' is not defined by type %s", name, t.Name)
		}
	}
	if t.OneOf {
		if len(in) != 1 {
			return nil, fmt.Errorf("oneOf input object %s requires exactly one field, got %d", t.Name, len(in))
		}
		for name, v := range in {
			if v == nil {
				return nil, fmt.Errorf("field '%s' of oneOf input object %s cannot be null", name, t.Name)
			}
		}
	}

	out := make(map[string]any, len(t.InputFields))
	for _, f := range t.InputFields {
		raw, present := in[f.Name]
		if !present {
			switch {
			case f.DefaultValue != nil:
				out[f.Name] = f.DefaultValue
			case schema.IsNonNull(f.Type):
				return nil, fmt.Errorf("required field '%s' of type %s was not provided", f.Name, f.Type)
			}
			continue
		}
		v, err := c.coerce(raw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func toInt(value any) (any, error) {
	var f float64
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
		}
		f = float64(n)
	default:
		return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
	}
	return int(f), nil
}

func toFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func toString(value any) (any, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprint(value), nil
}

func toBoolean(value any) (any, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func toID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return fmt.Sprint(value), nil
}
