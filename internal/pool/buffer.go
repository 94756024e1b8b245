// Package pool provides a fixed-capacity buffer of reusable objects that many
// goroutines can draw from without locking.
//
// A Buffer hands out at most Capacity elements between two calls to Reset.
// Acquisition claims a slot by advancing an atomic cursor, so every slot index
// is owned by exactly one caller and needs no further synchronization. Reset
// recycles the elements in place and must only run once every goroutine that
// acquired from the buffer has finished with its elements.
package pool

import (
	"errors"

	"go.uber.org/atomic"
)

// ErrExhausted is returned by Acquire when every slot of the buffer has been
// handed out since the last Reset.
var ErrExhausted = errors.New("pool: buffer exhausted")

// Policy creates elements for a Buffer and prepares them for reuse.
type Policy[T any] interface {
	// Create returns a fresh element.
	Create() T
	// TryReset clears e for reuse. Returning false drops e; the next
	// acquisition of its slot creates a fresh element instead.
	TryReset(e T) bool
}

// PolicyFuncs adapts a pair of functions to Policy. A nil Reset keeps every
// element.
type PolicyFuncs[T any] struct {
	New   func() T
	Reset func(T) bool
}

func (p PolicyFuncs[T]) Create() T { return p.New() }

func (p PolicyFuncs[T]) TryReset(e T) bool {
	if p.Reset == nil {
		return true
	}
	return p.Reset(e)
}

type slot[T any] struct {
	value  T
	filled bool
}

// Buffer is a bounded pool of reusable elements.
type Buffer[T any] struct {
	policy Policy[T]
	slots  []slot[T]
	cursor atomic.Int64
}

// New returns a buffer holding up to capacity elements. A negative capacity
// is treated as zero.
func New[T any](capacity int, policy Policy[T]) *Buffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer[T]{policy: policy, slots: make([]slot[T], capacity)}
}

// Capacity returns the number of slots.
func (b *Buffer[T]) Capacity() int { return len(b.slots) }

// HasSpace reports whether an acquisition made now could still succeed.
func (b *Buffer[T]) HasSpace() bool { return b.cursor.Load() < int64(len(b.slots)) }

// TryAcquire claims the next slot and returns its element, creating one if the
// slot is empty. It returns false once the buffer is exhausted; the caller is
// expected to fall back to an unpooled element. Safe for concurrent use.
func (b *Buffer[T]) TryAcquire() (T, bool) {
	i := b.cursor.Inc() - 1
	if i >= int64(len(b.slots)) {
		var zero T
		return zero, false
	}
	s := &b.slots[i]
	if !s.filled {
		s.value = b.policy.Create()
		s.filled = true
	}
	return s.value, true
}

// Acquire is TryAcquire for callers whose demand is known to fit the
// capacity. It returns ErrExhausted when it does not.
func (b *Buffer[T]) Acquire() (T, error) {
	v, ok := b.TryAcquire()
	if !ok {
		return v, ErrExhausted
	}
	return v, nil
}

// MustAcquire is Acquire that panics on exhaustion.
func (b *Buffer[T]) MustAcquire() T {
	v, err := b.Acquire()
	if err != nil {
		panic(err)
	}
	return v
}

// Reset recycles every element handed out since the previous Reset, dropping
// the ones the policy refuses, and rewinds the cursor. It is not safe to call
// concurrently with any other method.
func (b *Buffer[T]) Reset() {
	n := b.cursor.Load()
	if n == 0 {
		return
	}
	if n > int64(len(b.slots)) {
		n = int64(len(b.slots))
	}
	for i := range b.slots[:n] {
		s := &b.slots[i]
		if s.filled && !b.policy.TryReset(s.value) {
			var zero T
			s.value = zero
			s.filled = false
		}
	}
	b.cursor.Store(0)
}
