package executor

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/hanpama/querycore/internal/collector"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/path"
	schema "github.com/hanpama/querycore/internal/schema"
)

// request is the state of one ExecuteRequest call.
type request struct {
	ctx       context.Context
	runtime   Runtime
	schema    *schema.Schema
	collector *collector.Collector
	paths     *path.Pool
	variables map[string]any

	data    map[string]any
	errors  []GraphQLError
	pending []pendingField
	// dead holds segments whose value was replaced by null. Nothing is
	// resolved or written below them afterwards.
	dead map[*path.Segment]struct{}
}

// pendingField is an async field waiting for the batch of its depth.
type pendingField struct {
	task   AsyncResolveTask
	at     *path.Segment
	typ    *schema.TypeRef
	fields []*language.Field
	// boundary is where a null of this Non-Null field lands: the nearest
	// nullable position at or above at, or the top-level field.
	boundary *path.Segment
}

// run executes the root selection set and then one batch per depth until no
// async field is left. Mutation fields run serially: each top-level field is
// finished, async work included, before the next starts.
func (r *request) run(root *schema.Type, set language.SelectionSet, initialValue any, serial bool) {
	groups := r.collector.Collect(set, root.Name).Fields
	if !serial {
		r.data = r.executeFields(root, groups, initialValue, nil, nil)
		r.drain()
		return
	}
	r.data = make(map[string]any, len(groups))
	for _, g := range groups {
		maps.Copy(r.data, r.executeFields(root, []collector.FieldGroup{g}, initialValue, nil, nil))
		r.drain()
	}
}

func (r *request) drain() {
	for len(r.pending) > 0 {
		r.flush()
	}
}

// executeFields executes the field groups of one object. A Non-Null field
// that ends up null makes the whole object null, except at the top level
// where only that field is.
func (r *request) executeFields(obj *schema.Type, groups []collector.FieldGroup, source any, parent, boundary *path.Segment) map[string]any {
	out := make(map[string]any, len(groups))
	for _, g := range groups {
		at := r.paths.Field(parent, g.ResponseName)
		name := g.Fields[0].Name
		if name == "__typename" {
			out[g.ResponseName] = obj.Name
			continue
		}
		def := obj.Field(name)
		if def == nil {
			r.fail(at, fmt.Sprintf("Cannot query field '%s' on type '%s'", name, obj.Name))
			continue
		}

		fieldBoundary := boundary
		if parent == nil || !schema.IsNonNull(def.Type) {
			fieldBoundary = at
		}
		args := coerceArgumentValues(r, def, g.Fields[0].Arguments, at)
		task := AsyncResolveTask{ObjectType: obj.Name, Field: name, Source: source, Args: args}
		if def.Async {
			r.pending = append(r.pending, pendingField{task: task, at: at, typ: def.Type, fields: g.Fields, boundary: fieldBoundary})
			out[g.ResponseName] = nil
			continue
		}

		value, err := r.runtime.ResolveSync(r.ctx, obj.Name, name, source, args)
		if err != nil {
			r.fail(at, err.Error())
			value = nil
		}
		completed := r.completeValue(def.Type, g.Fields, value, at, fieldBoundary)
		if isNullish(completed) {
			if schema.IsNonNull(def.Type) && parent != nil {
				r.kill(parent)
				return nil
			}
			completed = nil
		}
		out[g.ResponseName] = completed
	}
	return out
}

// flush sends the live pending fields to the runtime as one batch and
// completes the results.
func (r *request) flush() {
	batch := slices.DeleteFunc(r.pending, func(p pendingField) bool { return r.isDead(p.at) })
	r.pending = nil
	if len(batch) == 0 {
		return
	}
	tasks := make([]AsyncResolveTask, len(batch))
	for i := range batch {
		tasks[i] = batch[i].task
	}
	results := r.runtime.BatchResolveAsync(r.ctx, tasks)
	for i, p := range batch {
		var res AsyncResolveResult
		if i < len(results) {
			res = results[i]
		} else {
			res.Error = fmt.Errorf("runtime returned %d results for %d tasks", len(results), len(tasks))
		}
		r.completePending(p, res)
	}
}

func (r *request) completePending(p pendingField, res AsyncResolveResult) {
	if r.isDead(p.at) {
		return
	}
	var completed any
	if res.Error != nil {
		r.fail(p.at, res.Error.Error())
	} else {
		completed = r.completeValue(p.typ, p.fields, res.Value, p.at, p.boundary)
	}
	if !isNullish(completed) {
		r.write(p.at, completed)
		return
	}
	if schema.IsNonNull(p.typ) {
		r.write(p.boundary, nil)
		r.kill(p.boundary)
		return
	}
	r.write(p.at, nil)
}

func (r *request) completeValue(t *schema.TypeRef, fields []*language.Field, value any, at, boundary *path.Segment) any {
	if schema.IsNonNull(t) {
		if isNullish(value) {
			if !r.hasError(at) {
				r.fail(at, fmt.Sprintf("Cannot return null for non-nullable field %s", at))
			}
			return nil
		}
		return r.completeValue(t.Unwrap(), fields, value, at, boundary)
	}
	if isNullish(value) {
		return nil
	}
	if schema.IsList(t) {
		return r.completeList(t.Unwrap(), fields, value, at, boundary)
	}

	name := t.GetNamedType()
	named := r.schema.Types[name]
	if named == nil {
		r.fail(at, fmt.Sprintf("Unknown type: %s", name))
		return nil
	}
	switch named.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		out, err := r.runtime.SerializeLeafValue(r.ctx, name, value)
		if err != nil {
			r.fail(at, err.Error())
			return nil
		}
		return out
	case schema.TypeKindObject:
		return r.completeObject(name, named, fields, value, at, boundary)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return r.completeAbstract(named, fields, value, at, boundary)
	}
	r.fail(at, fmt.Sprintf("Cannot complete value of unexpected type: %s", named.Kind))
	return nil
}

func (r *request) completeList(item *schema.TypeRef, fields []*language.Field, value any, at, boundary *path.Segment) any {
	items, ok := value.([]any)
	if !ok {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			r.fail(at, fmt.Sprintf("Expected list value, got %T", value))
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	nonNull := schema.IsNonNull(item)
	out := make([]any, len(items))
	for i := range items {
		itemAt := r.paths.Index(at, i)
		itemBoundary := boundary
		if !nonNull {
			itemBoundary = itemAt
		}
		v := r.completeValue(item, fields, items[i], itemAt, itemBoundary)
		if isNullish(v) {
			if nonNull {
				r.kill(at)
				return nil
			}
			v = nil
		}
		out[i] = v
	}
	return out
}

// completeObject executes the sub-selections of fields for a value of obj.
// declared is the type the selections were written against, which may be an
// interface or union obj belongs to.
func (r *request) completeObject(declared string, obj *schema.Type, fields []*language.Field, value any, at, boundary *path.Segment) any {
	groups := r.collector.CollectFields(fields, declared).FieldsFor(obj.Name)
	completed := r.executeFields(obj, groups, value, at, boundary)
	if completed == nil {
		return nil
	}
	return completed
}

func (r *request) completeAbstract(abstract *schema.Type, fields []*language.Field, value any, at, boundary *path.Segment) any {
	typeName, err := r.runtime.ResolveType(r.ctx, abstract.Name, value)
	if err != nil {
		r.fail(at, err.Error())
		return nil
	}
	obj := r.schema.Types[typeName]
	if obj == nil || obj.Kind != schema.TypeKindObject {
		r.fail(at, fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstract.Name, typeName))
		return nil
	}
	if !slices.Contains(r.schema.PossibleTypes(abstract.Name), typeName) {
		r.fail(at, fmt.Sprintf("Runtime Object type %s is not a possible type for %s", typeName, abstract.Name))
		return nil
	}

	unwrap := r.runtime.ResolveInterfaceConcreteValue
	if abstract.Kind == schema.TypeKindUnion {
		unwrap = r.runtime.ResolveUnionConcreteValue
	}
	concrete, err := unwrap(r.ctx, abstract.Name, value)
	if err != nil {
		r.fail(at, err.Error())
		return nil
	}
	if isNullish(concrete) {
		return nil
	}
	return r.completeObject(abstract.Name, obj, fields, concrete, at, boundary)
}

func (r *request) fail(at *path.Segment, message string) {
	r.errors = append(r.errors, GraphQLError{Message: message, Path: toPath(at)})
}

func (r *request) hasError(at *path.Segment) bool {
	p := toPath(at)
	return slices.ContainsFunc(r.errors, func(e GraphQLError) bool { return slices.Equal(e.Path, p) })
}

// kill marks the value at seg as replaced by null.
func (r *request) kill(seg *path.Segment) {
	if seg != nil {
		r.dead[seg] = struct{}{}
	}
}

func (r *request) isDead(seg *path.Segment) bool {
	if len(r.dead) == 0 {
		return false
	}
	for cur := seg; cur != nil; cur = cur.Parent() {
		if _, ok := r.dead[cur]; ok {
			return true
		}
	}
	return false
}

// write stores value at seg in the response. Containers along the way were
// built during completion; if one is missing or null the write is dropped.
func (r *request) write(seg *path.Segment, value any) {
	if seg == nil {
		return
	}
	p := seg.Slice()
	var cur any = r.data
	for _, elem := range p[:len(p)-1] {
		cur = child(cur, elem)
	}
	switch key := p[len(p)-1].(type) {
	case string:
		if m, ok := cur.(map[string]any); ok {
			m[key] = value
		}
	case int:
		if s, ok := cur.([]any); ok && key < len(s) {
			s[key] = value
		}
	}
}

func child(container any, elem any) any {
	switch key := elem.(type) {
	case string:
		if m, ok := container.(map[string]any); ok {
			return m[key]
		}
	case int:
		if s, ok := container.([]any); ok && key < len(s) {
			return s[key]
		}
	}
	return nil
}

func toPath(seg *path.Segment) Path {
	return Path(seg.Slice())
}

// isNullish reports nil and typed nil values.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
