package priority_buffer

import (
	"go.uber.org/zap"
	"sync"
)

// Prioritized is satisfied by model.LogRecord and model.Span.
type Prioritized interface {
	IsHighPriority() bool
}

type PriorityBuffer[T Prioritized] interface {
	Push(item T) bool
	Drain(max int) []T
	Occupancy() float64
	Len() int
	Capacity() int
	Stats() BufferStats
}

type BufferStats struct {
	Capacity  int     `json:"capacity"`
	High      int     `json:"high"`
	Normal    int     `json:"normal"`
	Occupancy float64 `json:"occupancy"`
	Admitted  uint64  `json:"admitted"`
	Evicted   uint64  `json:"evicted"`
	Rejected  uint64  `json:"rejected"`
	Drained   uint64  `json:"drained"`
}

// PriorityBufferImpl holds items in two FIFO tiers that share one capacity.
// When full, a high-priority arrival evicts the oldest normal item; with no
// normal item left the arrival itself is rejected. Push never blocks on
// anything but the mutex, and no I/O happens while it is held.
type PriorityBufferImpl[T Prioritized] struct {
	capacity int
	high     fifo[T]
	normal   fifo[T]

	admitted uint64
	evicted  uint64
	rejected uint64
	drained  uint64

	logger *zap.Logger
	mu     sync.Mutex
}

func NewPriorityBufferImpl[T Prioritized](capacity int, logger *zap.Logger) *PriorityBufferImpl[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &PriorityBufferImpl[T]{
		capacity: capacity,
		logger:   logger,
	}
}

// Push reports whether the item was admitted.
func (pb *PriorityBufferImpl[T]) Push(item T) bool {
	pb.mu.Lock()
	admitted, evicted := pb.push(item)
	size := pb.len()
	pb.mu.Unlock()

	if evicted {
		pb.logger.Debug(
			"Buffer full, evicted oldest normal priority item",
			zap.Int("size", size),
		)
	}
	if !admitted {
		pb.logger.Debug(
			"Buffer full, dropped incoming item",
			zap.Bool("high_priority", item.IsHighPriority()),
			zap.Int("size", size),
		)
	}
	return admitted
}

func (pb *PriorityBufferImpl[T]) push(item T) (admitted bool, evicted bool) {
	high := item.IsHighPriority()
	if pb.len() >= pb.capacity {
		if !high || pb.normal.len() == 0 {
			pb.rejected++
			return false, false
		}
		pb.normal.pop()
		pb.evicted++
		evicted = true
	}
	if high {
		pb.high.push(item)
	} else {
		pb.normal.push(item)
	}
	pb.admitted++
	return true, evicted
}

// Drain removes at most max items, all high-priority ones first, each tier
// in arrival order.
func (pb *PriorityBufferImpl[T]) Drain(max int) []T {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if max <= 0 || pb.len() == 0 {
		return nil
	}
	if max > pb.len() {
		max = pb.len()
	}
	items := make([]T, 0, max)
	items = pb.high.popN(items, max)
	items = pb.normal.popN(items, max-len(items))
	pb.drained += uint64(len(items))
	return items
}

func (pb *PriorityBufferImpl[T]) Occupancy() float64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return float64(pb.len()) / float64(pb.capacity)
}

func (pb *PriorityBufferImpl[T]) Len() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.len()
}

func (pb *PriorityBufferImpl[T]) Capacity() int {
	return pb.capacity
}

func (pb *PriorityBufferImpl[T]) Stats() BufferStats {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return BufferStats{
		Capacity:  pb.capacity,
		High:      pb.high.len(),
		Normal:    pb.normal.len(),
		Occupancy: float64(pb.len()) / float64(pb.capacity),
		Admitted:  pb.admitted,
		Evicted:   pb.evicted,
		Rejected:  pb.rejected,
		Drained:   pb.drained,
	}
}

func (pb *PriorityBufferImpl[T]) len() int {
	return pb.high.len() + pb.normal.len()
}
