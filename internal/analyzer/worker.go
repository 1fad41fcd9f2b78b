package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"doraemon/internal/queue"
	"doraemon/internal/types"
)

// DefaultGrace is how long an in-flight job may keep running after shutdown
// is requested. A job not acknowledged in time stays in this consumer's
// pending set; the queue implementations here do not reclaim or redeliver
// pending messages.
const DefaultGrace = 10 * time.Second

// Worker is the long-lived job loop: block on NextJob, process to
// completion, publish the result, acknowledge, repeat.
type Worker struct {
	queue    queue.Queue
	analyzer *Analyzer
	log      *slog.Logger
	grace    time.Duration
}

func NewWorker(q queue.Queue, a *Analyzer, log *slog.Logger, grace time.Duration) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Worker{queue: q, analyzer: a, log: log, grace: grace}
}

// Run pulls jobs until ctx is cancelled. Cancellation stops the pull; the
// job in flight gets the grace period to finish and acknowledge.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		job, err := w.queue.NextJob(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				w.analyzer.Wait()
				return nil
			}
			w.log.Warn("worker: next job failed", "err", err)
			continue
		}
		w.handle(ctx, job)
		if ctx.Err() != nil {
			w.analyzer.Wait()
			return nil
		}
	}
}

// handle runs one job under a context that survives shutdown for the grace
// period, then publishes exactly one dispatch message and acks after the
// publish has been persisted.
func (w *Worker) handle(ctx context.Context, job queue.Job) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		timer := time.AfterFunc(w.grace, cancel)
		context.AfterFunc(jobCtx, func() { timer.Stop() })
	})
	defer stop()

	res := w.analyzer.Process(jobCtx, job.Payload)

	if err := w.queue.PublishDispatch(jobCtx, res); err != nil {
		// Without a persisted dispatch the job must not be acked; it
		// stays in the pending set unacknowledged.
		w.log.Error("worker: dispatch publish failed, leaving job pending",
			"id", job.ID, "repo", res.RepoName, "err", err)
		return
	}
	if err := w.queue.Ack(jobCtx, job.ID); err != nil {
		// A later redelivery is acceptable; downstream is idempotent.
		w.log.Warn("worker: ack failed", "id", job.ID, "err", err)
	}
	logResult(w.log, job.ID, res)
}

func logResult(log *slog.Logger, id string, res types.DispatchResult) {
	attrs := []any{"id", id, "repo", res.RepoName, "sha", res.Sha, "status", res.Status}
	if res.Status == types.StatusFailure {
		log.Warn("worker: job failed", append(attrs, "reason", res.Error)...)
		return
	}
	log.Info("worker: job done", append(attrs, "affected", len(res.AffectedFiles))...)
}
