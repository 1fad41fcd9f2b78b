// Package redisq implements the job queue on Redis streams. Workers share one
// consumer group on the analysis stream; each worker reads under a unique
// consumer name, so a message stays in that consumer's pending set until
// XACK. Results go out on a second stream.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"doraemon/internal/queue"
	"doraemon/internal/types"
)

// payloadField is the single hash field carrying the JSON record.
const payloadField = "payload"

// blockInterval bounds each XREADGROUP block so shutdown is noticed promptly.
const blockInterval = 5 * time.Second

// Config names the streams and the group shared by the fleet.
type Config struct {
	URL            string
	AnalysisStream string
	DispatchStream string
	Group          string
	Consumer       string
}

// Queue is a Redis-streams job queue.
type Queue struct {
	client   *redis.Client
	cfg      Config
	log      *slog.Logger
	attempts int
}

// New parses the Redis URL and connects.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	opt, err := redis.ParseURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("redisq: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisq: ping: %w", err)
	}
	return &Queue{client: client, cfg: cfg, log: log}, nil
}

func (q *Queue) Close() error { return q.client.Close() }

func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.AnalysisStream, q.cfg.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisq: create group %q on %q: %w", q.cfg.Group, q.cfg.AnalysisStream, err)
	}
	return nil
}

func (q *Queue) PublishAnalysis(ctx context.Context, job types.AnalysisJob) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("redisq: marshal job: %w", err)
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.AnalysisStream,
		Values: map[string]any{payloadField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redisq: publish analysis: %w", err)
	}
	return id, nil
}

// NextJob blocks until a parseable job is delivered. Read errors back off
// exponentially (50ms doubling to a 5s cap) and retry; unparseable payloads
// are acked and skipped so they cannot be redelivered forever.
func (q *Queue) NextJob(ctx context.Context) (queue.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Job{}, err
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.AnalysisStream, ">"},
			Count:    1,
			Block:    blockInterval,
		}).Result()
		if err == redis.Nil {
			q.attempts = 0
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return queue.Job{}, ctx.Err()
			}
			wait := queue.Backoff(q.attempts)
			q.attempts++
			q.log.Warn("redisq: read failed, backing off",
				"err", err, "wait", wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return queue.Job{}, ctx.Err()
			}
			continue
		}
		q.attempts = 0

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				job, ok := q.decode(msg)
				if !ok {
					// Poison pill: drop it or every worker replays it.
					if err := q.Ack(ctx, msg.ID); err != nil {
						q.log.Warn("redisq: ack of poison message failed", "id", msg.ID, "err", err)
					}
					continue
				}
				return queue.Job{ID: msg.ID, Payload: job}, nil
			}
		}
	}
}

func (q *Queue) decode(msg redis.XMessage) (types.AnalysisJob, bool) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		q.log.Warn("redisq: message without payload field", "id", msg.ID)
		return types.AnalysisJob{}, false
	}
	var job types.AnalysisJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.Warn("redisq: unparseable payload", "id", msg.ID, "err", err)
		return types.AnalysisJob{}, false
	}
	if err := job.Validate(); err != nil {
		q.log.Warn("redisq: invalid payload", "id", msg.ID, "err", err)
		return types.AnalysisJob{}, false
	}
	return job, true
}

func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.cfg.AnalysisStream, q.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("redisq: ack %s: %w", id, err)
	}
	return nil
}

func (q *Queue) PublishDispatch(ctx context.Context, res types.DispatchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redisq: marshal result: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DispatchStream,
		Values: map[string]any{payloadField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisq: publish dispatch: %w", err)
	}
	return nil
}
