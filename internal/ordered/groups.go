// Package ordered holds the multi-way merge primitive shared by field
// collection and schema merging: values grouped by key, with keys kept in the
// order they were first seen.
package ordered

// Groups is an insertion-ordered multimap. The zero value is ready to use.
type Groups[K comparable, V any] struct {
	keys   []K
	index  map[K]int
	values [][]V
}

// Add appends vs to the group for key, creating the group at the end of the
// key order when key is new.
func (g *Groups[K, V]) Add(key K, vs ...V) {
	if g.index == nil {
		g.index = make(map[K]int)
	}
	i, ok := g.index[key]
	if !ok {
		i = len(g.keys)
		g.index[key] = i
		g.keys = append(g.keys, key)
		g.values = append(g.values, nil)
	}
	g.values[i] = append(g.values[i], vs...)
}

func (g *Groups[K, V]) Get(key K) []V {
	if i, ok := g.index[key]; ok {
		return g.values[i]
	}
	return nil
}

func (g *Groups[K, V]) Has(key K) bool {
	_, ok := g.index[key]
	return ok
}

func (g *Groups[K, V]) Len() int { return len(g.keys) }

// Keys returns the keys in first-insertion order. The slice must not be
// modified.
func (g *Groups[K, V]) Keys() []K { return g.keys }

// Each calls fn for every group in key order.
func (g *Groups[K, V]) Each(fn func(key K, values []V)) {
	for i, k := range g.keys {
		fn(k, g.values[i])
	}
}

// Remove drops the group for key, keeping the order of the others.
func (g *Groups[K, V]) Remove(key K) []V {
	i, ok := g.index[key]
	if !ok {
		return nil
	}
	removed := g.values[i]
	g.keys = append(g.keys[:i], g.keys[i+1:]...)
	g.values = append(g.values[:i], g.values[i+1:]...)
	delete(g.index, key)
	for j := i; j < len(g.keys); j++ {
		g.index[g.keys[j]] = j
	}
	return removed
}

// GroupBy groups items by key(item), preserving first-occurrence order.
func GroupBy[K comparable, V any](items []V, key func(V) K) *Groups[K, V] {
	g := &Groups[K, V]{}
	for _, item := range items {
		g.Add(key(item), item)
	}
	return g
}
