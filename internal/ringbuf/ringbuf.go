// Package ringbuf provides a bounded, overwrite-on-full ring buffer.
// Pushing into a full ring evicts the oldest element (FIFO), so the ring
// always holds the most recent Cap() values in insertion order.
//
// A Ring is owned by a single goroutine and is not safe for concurrent use.
package ringbuf

// Ring is a fixed-capacity FIFO that overwrites its oldest value when full.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int
}

// New creates a ring holding at most capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest value is overwritten and
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return old, false
	}

	old = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return old, true
}

// Last returns the most recently pushed value.
func (r *Ring[T]) Last() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.lastIdx()], true
}

// ReplaceLast overwrites the most recently pushed value in place.
// Returns false if the ring is empty.
func (r *Ring[T]) ReplaceLast(v T) bool {
	if r.n == 0 {
		return false
	}
	r.buf[r.lastIdx()] = v
	return true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Full reports whether the next Push will evict.
func (r *Ring[T]) Full() bool { return r.n == len(r.buf) }

func (r *Ring[T]) lastIdx() int {
	return (r.head + r.n - 1) % len(r.buf)
}
