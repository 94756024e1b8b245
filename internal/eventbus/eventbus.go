// Package eventbus dispatches typed events to in-process subscribers.
package eventbus

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

type handler struct {
	call func(context.Context, any)
}

type registry map[reflect.Type][]*handler

// Bus delivers each event synchronously to the handlers registered for its
// dynamic type, in registration order. Subscribing copies the registry, so
// emitting never takes a lock.
type Bus struct {
	mu       sync.Mutex // serializes writers
	handlers atomic.Pointer[registry]
}

func New() *Bus {
	b := &Bus{}
	b.handlers.Store(&registry{})
	return b
}

func (b *Bus) update(f func(registry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := registry{}
	if cur := b.handlers.Load(); cur != nil {
		next = maps.Clone(*cur)
	}
	f(next)
	b.handlers.Store(&next)
}

func (b *Bus) add(t reflect.Type, call func(context.Context, any)) (unsubscribe func()) {
	h := &handler{call: call}
	b.update(func(r registry) {
		r[t] = append(slices.Clip(r[t]), h)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			b.update(func(r registry) {
				rest := slices.DeleteFunc(slices.Clone(r[t]), func(x *handler) bool { return x == h })
				if len(rest) == 0 {
					delete(r, t)
					return
				}
				r[t] = rest
			})
		})
	}
}

func (b *Bus) dispatch(ctx context.Context, e any) {
	if b == nil {
		return
	}
	r := b.handlers.Load()
	if r == nil {
		return
	}
	for _, h := range (*r)[reflect.TypeOf(e)] {
		h.call(ctx, e)
	}
}

// On registers h with b.
func On[T any](b *Bus, h Handler[T]) (unsubscribe func()) {
	return b.add(reflect.TypeFor[T](), func(ctx context.Context, v any) { h(ctx, v.(T)) })
}

// Emit sends e through b.
func Emit[T any](ctx context.Context, b *Bus, e T) { b.dispatch(ctx, e) }

var global atomic.Pointer[Bus]

// Use installs b as the process-wide bus. Use(nil) turns publishing off.
func Use(b *Bus) { global.Store(b) }

// Subscribe registers h with the global bus. Without one it is a no-op.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	if b := global.Load(); b != nil {
		return On(b, h)
	}
	return func() {}
}

// Publish sends e through the global bus.
func Publish[T any](ctx context.Context, e T) {
	global.Load().dispatch(ctx, e)
}
