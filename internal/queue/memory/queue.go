// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sitescope/siteaudit/internal/audit"
)

// Queue is a bounded in-memory audit job queue with context-aware operations.
// Nacked deliveries are re-enqueued with the attempt count bumped, so a
// fatally failed audit pass is redelivered the way a durable queue would.
type Queue struct {
	ch      chan audit.Job
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan audit.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job audit.Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next delivery, respecting context cancellation. Ack is a
// no-op; Nack puts the job back for another attempt. Redelivery is best
// effort: a nack against a full queue drops the job, which is acceptable for
// a development queue with no durable backing.
func (q *Queue) Dequeue(ctx context.Context) (audit.Delivery, error) {
	select {
	case <-ctx.Done():
		return audit.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return audit.Delivery{}, errors.New("queue closed")
		}
		return audit.Delivery{
			Job:  job,
			Ack:  func() {},
			Nack: func() { q.redeliver(job) },
		}, nil
	}
}

func (q *Queue) redeliver(job audit.Job) {
	job.Attempt++
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- job:
	default:
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
