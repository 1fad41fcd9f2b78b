// Package queue defines the job-distribution contract: an inbound analysis
// stream consumed through a consumer group with explicit acknowledgement, and
// an outbound dispatch stream. Delivery is at least once; everything
// downstream of a job must be idempotent.
package queue

import (
	"context"
	"errors"
	"time"

	"doraemon/internal/types"
)

// ErrClosed is returned once the queue connection has been torn down.
var ErrClosed = errors.New("queue: closed")

// Job is one delivered analysis message. ID is the broker-assigned message
// id used for acknowledgement.
type Job struct {
	ID      string
	Payload types.AnalysisJob
}

// Queue distributes analysis jobs across a worker fleet and publishes
// dispatch results downstream.
type Queue interface {
	// EnsureGroup creates the analysis stream and its consumer group if
	// absent. Safe to call repeatedly.
	EnsureGroup(ctx context.Context) error

	// PublishAnalysis appends a job to the analysis stream and returns the
	// assigned message id.
	PublishAnalysis(ctx context.Context, job types.AnalysisJob) (string, error)

	// NextJob blocks until a message is delivered to this consumer. The
	// message stays pending until Ack. Unparseable payloads are acked and
	// dropped without being returned.
	NextJob(ctx context.Context) (Job, error)

	// Ack removes the message from this consumer's pending set.
	Ack(ctx context.Context, id string) error

	// PublishDispatch appends a result to the dispatch stream.
	PublishDispatch(ctx context.Context, res types.DispatchResult) error

	Close() error
}

// Backoff yields the wait before reconnect attempt n (0-based): exponential
// from 50ms, capped at 5s.
func Backoff(attempt int) time.Duration {
	const (
		initial = 50 * time.Millisecond
		ceiling = 5 * time.Second
	)
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
