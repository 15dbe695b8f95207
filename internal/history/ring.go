// Package history keeps the most recent values written to it.
package history

import "sync"

// Ring is a thread-safe ring buffer holding the last N values added to it.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	size  int
	pos   int
	full  bool
}

// New creates a ring that holds the last n values. n must be positive.
func New[T any](n int) *Ring[T] {
	if n <= 0 {
		panic("history: ring size must be positive")
	}
	return &Ring[T]{
		items: make([]T, n),
		size:  n,
	}
}

// Add stores v, evicting the oldest value when the ring is full.
func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.pos] = v
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// All returns the stored values in order, oldest first.
func (r *Ring[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]T, r.pos)
		copy(result, r.items[:r.pos])
		return result
	}

	result := make([]T, r.size)
	copy(result, r.items[r.pos:])
	copy(result[r.size-r.pos:], r.items[:r.pos])
	return result
}

// Last returns the last n values. If fewer exist, returns all of them.
func (r *Ring[T]) Last(n int) []T {
	all := r.All()
	if n < 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.size
	}
	return r.pos
}
