// Package memq is a channel-backed queue with a pending set that Ack clears,
// like the Redis implementation; here a message is pending from publish
// onwards. Tests and single-process runs use it in place of a broker.
package memq

import (
	"context"
	"fmt"
	"sync"

	"doraemon/internal/queue"
	"doraemon/internal/types"
)

// Queue delivers jobs through an in-process channel buffering up to 1024
// jobs; PublishAnalysis blocks while the buffer is full.
type Queue struct {
	mu       sync.Mutex
	closed   bool
	nextID   int
	pending  map[string]types.AnalysisJob
	jobs     chan queue.Job
	dispatch []types.DispatchResult
}

func New() *Queue {
	return &Queue{
		pending: make(map[string]types.AnalysisJob),
		jobs:    make(chan queue.Job, 1024),
	}
}

func (q *Queue) EnsureGroup(context.Context) error { return nil }

func (q *Queue) PublishAnalysis(_ context.Context, job types.AnalysisJob) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", queue.ErrClosed
	}
	q.nextID++
	id := fmt.Sprintf("%d-0", q.nextID)
	q.pending[id] = job
	q.jobs <- queue.Job{ID: id, Payload: job}
	q.mu.Unlock()
	return id, nil
}

func (q *Queue) NextJob(ctx context.Context) (queue.Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return queue.Job{}, queue.ErrClosed
		}
		return job, nil
	case <-ctx.Done():
		return queue.Job{}, ctx.Err()
	}
}

func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
	return nil
}

func (q *Queue) PublishDispatch(_ context.Context, res types.DispatchResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	q.dispatch = append(q.dispatch, res)
	return nil
}

// Dispatched returns a copy of everything published to the dispatch stream.
func (q *Queue) Dispatched() []types.DispatchResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.DispatchResult, len(q.dispatch))
	copy(out, q.dispatch)
	return out
}

// PendingCount reports published messages not yet acknowledged, whether or
// not they have been delivered.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.jobs)
	return nil
}
