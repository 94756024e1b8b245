package rewrite

// RewriteOne rewrites child and, when the rewrite returns a different value,
// rebuilds parent through with. Otherwise parent is returned as is.
func RewriteOne[C any, P any, T comparable](parent P, child T, ctx C, rewrite func(T, C) (T, error), with func(T) P) (P, error) {
	next, err := rewrite(child, ctx)
	if err != nil {
		return parent, err
	}
	if next == child {
		return parent, nil
	}
	return with(next), nil
}

// RewriteSlice is RewriteOne for a child list rewritten as a whole. The
// list counts as unchanged when Same reports true.
func RewriteSlice[C any, P any, S ~[]T, T any](parent P, child S, ctx C, rewrite func(S, C) (S, error), with func(S) P) (P, error) {
	next, err := rewrite(child, ctx)
	if err != nil {
		return parent, err
	}
	if Same(next, child) {
		return parent, nil
	}
	return with(next), nil
}

// RewriteMany rewrites every element of nodes. The input slice is returned
// when no element changed; otherwise a copy carrying the replacements.
func RewriteMany[C any, S ~[]T, T comparable](nodes S, ctx C, rewrite func(T, C) (T, error)) (S, error) {
	var out S
	for i, n := range nodes {
		next, err := rewrite(n, ctx)
		if err != nil {
			return nodes, err
		}
		if out == nil && next != n {
			out = make(S, len(nodes))
			copy(out, nodes)
		}
		if out != nil {
			out[i] = next
		}
	}
	if out == nil {
		return nodes, nil
	}
	return out, nil
}

// Same reports whether a and b are the same slice: equal length over the
// same backing array.
func Same[S ~[]T, T any](a, b S) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}
