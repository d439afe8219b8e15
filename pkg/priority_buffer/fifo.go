package priority_buffer

// fifo is a slice-backed queue. Popped slots are zeroed and the backing array
// is compacted once the dead prefix outgrows the live part, which keeps every
// operation O(1) amortized.
type fifo[T any] struct {
	items []T
	head  int
}

func (q *fifo[T]) len() int {
	return len(q.items) - q.head
}

func (q *fifo[T]) push(item T) {
	q.items = append(q.items, item)
}

func (q *fifo[T]) pop() (T, bool) {
	var zero T
	if q.len() == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.compact()
	return item, true
}

// popN appends at most n items to dst in FIFO order.
func (q *fifo[T]) popN(dst []T, n int) []T {
	if n > q.len() {
		n = q.len()
	}
	if n <= 0 {
		return dst
	}
	end := q.head + n
	dst = append(dst, q.items[q.head:end]...)
	clear(q.items[q.head:end])
	q.head = end
	q.compact()
	return dst
}

func (q *fifo[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}
