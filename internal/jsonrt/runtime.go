// Package jsonrt implements executor.Runtime over an in-memory JSON document.
//
// The document maps root operation type names to root objects:
//
//	{"Query": {"hero": {"__typename": "Droid", "name": "R2-D2"}}}
//
// Every field is a projection of the parent object. Abstract values carry
// their concrete type in "__typename". A list field called with arguments
// keeps only the items whose same-named fields equal every argument.
package jsonrt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/querycore/internal/executor"
)

const typenameKey = "__typename"

// Runtime resolves fields against a decoded JSON document. It is safe for
// concurrent use; the document is never modified.
//   - Source shape: object values must decode to map[string]any. Any other
//     source for an object field is reported as a field error.
//   - Concurrency: BatchResolveAsync groups tasks by (objectType, field) and
//     runs the groups in parallel.
//   - Determinism: results keep task order.
type Runtime struct {
	roots map[string]any
}

var _ executor.Runtime = (*Runtime)(nil)

// New returns a Runtime over roots, keyed by root type name.
func New(roots map[string]any) *Runtime {
	return &Runtime{roots: roots}
}

// Load decodes a JSON document. Numbers stay json.Number until a leaf is
// serialized, so integer values survive without float rounding.
func Load(r io.Reader) (*Runtime, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var roots map[string]any
	if err := dec.Decode(&roots); err != nil {
		return nil, fmt.Errorf("jsonrt: decode: %w", err)
	}
	return New(roots), nil
}

// LoadBytes is Load over an in-memory document.
func LoadBytes(data []byte) (*Runtime, error) {
	return Load(bytes.NewReader(data))
}

// ResolveSync projects field from source. A nil source means the root object
// of objectType.
func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	return r.project(objectType, field, source, args)
}

// BatchResolveAsync resolves tasks the same way as ResolveSync, one goroutine
// per (objectType, field) group. A cancelled context fails the tasks that
// have not run yet.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	type groupKey struct{ objectType, field string }
	var groups [][]int
	idxByKey := map[groupKey]int{}
	for i, t := range tasks {
		k := groupKey{t.ObjectType, t.Field}
		gi, ok := idxByKey[k]
		if !ok {
			gi = len(groups)
			idxByKey[k] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}

	var g errgroup.Group
	for _, idxs := range groups {
		g.Go(func() error {
			for _, i := range idxs {
				if err := ctx.Err(); err != nil {
					results[i] = executor.AsyncResolveResult{Error: err}
					continue
				}
				t := tasks[i]
				v, err := r.project(t.ObjectType, t.Field, t.Source, t.Args)
				results[i] = executor.AsyncResolveResult{Value: v, Error: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ResolveType reads the "__typename" entry of an object value.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("jsonrt: %s value must be an object, got %T", abstractType, value)
	}
	name, ok := obj[typenameKey].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("jsonrt: %s value has no %s", abstractType, typenameKey)
	}
	return name, nil
}

func (r *Runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (r *Runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}

// SerializeLeafValue converts decoded JSON values to the built-in scalar
// representations. Custom scalars and enums pass through unchanged.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch scalarOrEnumTypeName {
	case "Int":
		return toInt(value)
	case "Float":
		return toFloat(value)
	case "String", "ID":
		if n, ok := value.(json.Number); ok {
			return n.String(), nil
		}
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("jsonrt: %s cannot represent %T", scalarOrEnumTypeName, value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("jsonrt: Boolean cannot represent %T", value)
	}
	if n, ok := value.(json.Number); ok {
		return n.String(), nil
	}
	return value, nil
}

func (r *Runtime) project(objectType, field string, source any, args map[string]any) (any, error) {
	if source == nil {
		source = r.roots[objectType]
		if source == nil {
			return nil, nil
		}
	}
	obj, ok := source.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("jsonrt: %s.%s: source must be an object, got %T", objectType, field, source)
	}
	v := obj[field]
	if items, ok := v.([]any); ok && len(args) > 0 {
		return filter(items, args), nil
	}
	return v, nil
}

func filter(items []any, args map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if matches(obj, args) {
			out = append(out, item)
		}
	}
	return out
}

func matches(obj map[string]any, args map[string]any) bool {
	for k, want := range args {
		if want == nil {
			continue
		}
		if fmt.Sprint(obj[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func toInt(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
			return int(i), nil
		}
		return nil, fmt.Errorf("jsonrt: Int cannot represent %s", v)
	case int:
		return v, nil
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v), nil
		}
		return nil, fmt.Errorf("jsonrt: Int cannot represent %v", v)
	}
	return nil, fmt.Errorf("jsonrt: Int cannot represent %T", value)
}

func toFloat(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("jsonrt: Float cannot represent %s", v)
		}
		return f, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return nil, fmt.Errorf("jsonrt: Float cannot represent %T", value)
}
