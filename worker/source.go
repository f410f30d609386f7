package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/flowstate-io/flowstate/flow"
)

// ErrDrained is returned by a Source that will never produce another job.
// The worker treats it as a clean end of input and shuts down.
var ErrDrained = errors.New("worker: source drained")

// Job is one unit of work handed to the executor: a run to start or resume.
type Job struct {
	// RunID identifies the run. Empty lets the executor generate one.
	RunID string

	// Initial is the starting state for a fresh run. Ignored when the run
	// already has checkpoints.
	Initial flow.State
}

// Source supplies jobs to the worker. How work is queued upstream (HTTP
// enqueue, message broker, database polling) is intentionally outside the
// engine; any of those reduces to this interface.
//
// Next blocks until a job is available, the context is cancelled, or the
// source is permanently empty (ErrDrained).
type Source interface {
	Next(ctx context.Context) (Job, error)
}

// QueueSource is a channel-backed Source for in-process job hand-off.
//
// Producers call Enqueue; Close marks the end of input, after which Next
// drains the remaining buffered jobs and then returns ErrDrained.
type QueueSource struct {
	jobs      chan Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueSource creates a QueueSource with the given buffer capacity.
func NewQueueSource(capacity int) *QueueSource {
	if capacity < 0 {
		capacity = 0
	}
	return &QueueSource{
		jobs: make(chan Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job, blocking while the buffer is full. Returns false if
// the source has been closed.
func (q *QueueSource) Enqueue(job Job) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.jobs <- job:
		return true
	case <-q.done:
		return false
	}
}

// Close marks the end of input. Jobs already enqueued are still delivered.
// Safe to call multiple times.
func (q *QueueSource) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Next returns the next job, ErrDrained once Close has been called and the
// buffer is empty, or the context error on cancellation.
func (q *QueueSource) Next(ctx context.Context) (Job, error) {
	// Buffered jobs are delivered even after Close.
	select {
	case job := <-q.jobs:
		return job, nil
	default:
	}

	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.jobs:
			return job, nil
		default:
			return Job{}, ErrDrained
		}
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
