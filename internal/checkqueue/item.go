package checkqueue

import (
	"context"
	"time"
)

// DefaultPriority is used by Enqueue. Lower values run first.
const DefaultPriority = 10

// CheckFunc performs one health check. The context is not cancelled when the
// queue stops; checks are expected to apply their own timeout.
type CheckFunc func(ctx context.Context) error

type item struct {
	id         string
	monitorID  int64
	check      CheckFunc
	priority   int
	enqueuedAt time.Time
	seq        uint64

	// rejections counts how many times the limiter turned this item away.
	rejections int
}

// itemHeap orders by priority, then enqueue time, then insertion sequence.
// It implements container/heap.Interface.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.enqueuedAt.Equal(b.enqueuedAt) {
		return a.enqueuedAt.Before(b.enqueuedAt)
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
