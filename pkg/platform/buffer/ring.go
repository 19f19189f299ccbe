package buffer

import "sync"

// Ring is a bounded, thread-safe FIFO. When full, the oldest item is dropped
// to make room for the new one, so producers never block.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// NewRing creates a ring with the given capacity (default 10000).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an item, dropping the oldest if necessary. It reports whether
// an item was dropped.
func (b *Ring[T]) Enqueue(item T) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		var zero T
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// DequeueBatch removes up to n items in FIFO order.
func (b *Ring[T]) DequeueBatch(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	var zero T
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.items[b.tail]
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

func (b *Ring[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of items evicted because the ring was full.
func (b *Ring[T]) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
