package serial

// ring is a fixed-capacity FIFO that overwrites its oldest element when
// full. It is not safe for concurrent use.
type ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v, evicting and returning the oldest element when full.
func (r *ring[T]) push(v T) (evicted T, overwrote bool) {
	if r.count == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	return evicted, false
}

func (r *ring[T]) pop() (v T, ok bool) {
	if r.count == 0 {
		return v, false
	}
	var zero T
	v = r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) cap() int { return len(r.buf) }

func (r *ring[T]) reset() {
	clear(r.buf)
	r.head, r.count = 0, 0
}
