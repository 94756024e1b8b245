// Package reqid carries a request ID through a context.
package reqid

import (
	"context"

	"github.com/rs/xid"
)

type key struct{}

// NewContext returns a copy of parent carrying a fresh, globally unique
// request ID, and the ID itself.
func NewContext(parent context.Context) (context.Context, string) {
	id := xid.New().String()
	return WithID(parent, id), id
}

// WithID stores a caller supplied ID, such as one forwarded in a header.
func WithID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the request ID from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}

// Valid reports whether id has the shape of IDs made by NewContext.
func Valid(id string) bool {
	_, err := xid.FromString(id)
	return err == nil
}
