package analyzer

// Queue is a bounded FIFO of fixed depth, the software counterpart of a
// synchronous block-RAM FIFO.
type Queue[T any] struct {
	buf  []T
	head int
	size int
}

// NewQueue returns an empty queue holding at most depth items.
func NewQueue[T any](depth int) *Queue[T] {
	return &Queue[T]{buf: make([]T, depth)}
}

// Push appends v, reporting false if the queue is full.
func (q *Queue[T]) Push(v T) bool {
	if q.size == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	return true
}

// Pop removes the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// Len is the current occupancy.
func (q *Queue[T]) Len() int { return q.size }

// Depth is the capacity.
func (q *Queue[T]) Depth() int { return len(q.buf) }

// Full reports whether Push would fail.
func (q *Queue[T]) Full() bool { return q.size == len(q.buf) }

// Reset discards all items.
func (q *Queue[T]) Reset() {
	clear(q.buf)
	q.head, q.size = 0, 0
}
