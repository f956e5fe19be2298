// Package queue provides named FIFO byte-string queues shared between
// producers and workers. Two backends exist: a Redis list (the normal
// multi-process deployment) and an in-memory queue for tests and
// single-process runs. Both honor the same contract: Push never blocks
// on capacity, Pop blocks up to a caller-specified timeout and returns
// ErrEmpty when nothing arrived.
package queue

import (
	"context"
	"errors"
	"time"
)

// Default queue names. Any number of independent named queues may exist;
// these two are the ones the orchestrator wires together.
const (
	// WorkQueueName is the queue workers pull work items from.
	WorkQueueName = "worker_queue"
	// ResultsQueueName is the queue workers push result items onto.
	ResultsQueueName = "results_queue"
)

// ErrEmpty signals that a Pop timed out with no item available.
// It is a normal "no work" signal, not a failure.
var ErrEmpty = errors.New("queue empty")

// Queue is a named FIFO byte-string queue.
type Queue interface {
	// Name returns the queue's identifier.
	Name() string

	// Push appends a payload to the queue. It never fails due to
	// capacity; the queue is unbounded up to process limits.
	Push(ctx context.Context, payload []byte) error

	// Pop removes and returns the oldest payload. It blocks up to
	// timeout and returns ErrEmpty if no item arrived in time. It
	// never blocks indefinitely past the timeout.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Len returns the current queue depth.
	Len(ctx context.Context) (int64, error)
}
