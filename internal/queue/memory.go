package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used by tests and single-process
// runs. It honors the same FIFO and blocking-pop contract as the Redis
// backend.
type MemoryQueue struct {
	name string

	mu    sync.Mutex
	items [][]byte
	// wake is signalled on every push so blocked poppers re-check.
	wake chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name: name,
		wake: make(chan struct{}, 1),
	}
}

// Name returns the queue's identifier.
func (q *MemoryQueue) Name() string {
	return q.name
}

// Push appends a payload to the queue.
func (q *MemoryQueue) Push(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	q.items = append(q.items, append([]byte(nil), payload...))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks up to timeout for the oldest payload.
func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
			// Another popper may have won the race; loop and re-check.
		case <-deadline.C:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the current queue depth.
func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

var _ Queue = (*MemoryQueue)(nil)
