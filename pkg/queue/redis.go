package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultConcurrency       = 10
	defaultVisibilityTimeout = 10 * time.Minute
	pollInterval             = 250 * time.Millisecond
	promoteBatch             = 100
)

// claimScript pops the highest-priority ready job and records it on the
// processing set in one round trip, so a worker crash between the two
// writes cannot lose the job.
var claimScript = redis.NewScript(`
local popped = redis.call("ZPOPMIN", KEYS[1])
if #popped == 0 then
	return false
end
redis.call("ZADD", KEYS[2], ARGV[1], popped[1])
return popped[1]
`)

// RedisQueue is a Redis-backed priority queue. Ready jobs live in a
// sorted set scored by negated priority so ZPOPMIN yields the highest
// priority first; delayed and retrying jobs live in a second sorted set
// scored by their ready-at time and are promoted by a background loop.
// A claimed job sits on a processing set until its handler acks it;
// claims that outlive the visibility timeout are re-delivered, making
// delivery at-least-once. Exhausted jobs are pushed to a dead-letter
// list for inspection.
type RedisQueue struct {
	client      redis.UniversalClient
	name        string
	concurrency int
	visibility  time.Duration
	logger      *slog.Logger
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// RedisQueueConfig configures a RedisQueue.
type RedisQueueConfig struct {
	// URL is a redis:// connection URL.
	URL string
	// Name namespaces the queue keys. Defaults to "executions".
	Name string
	// Concurrency is the worker pool size. Defaults to 10.
	Concurrency int
	// VisibilityTimeout is how long a claimed job may run before it is
	// considered lost and re-delivered. Defaults to 10 minutes.
	VisibilityTimeout time.Duration
}

// NewRedisQueue connects to Redis and builds the queue.
func NewRedisQueue(ctx context.Context, logger *slog.Logger, cfg RedisQueueConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "executions"
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}

	return &RedisQueue{
		client:      client,
		name:        name,
		concurrency: concurrency,
		visibility:  visibility,
		stopCh:      make(chan struct{}),
		logger: logger.With(
			"module", "redis_queue",
			"queue", name,
		),
	}, nil
}

func (q *RedisQueue) readyKey() string      { return "mailflow:queue:" + q.name + ":ready" }
func (q *RedisQueue) delayedKey() string    { return "mailflow:queue:" + q.name + ":delayed" }
func (q *RedisQueue) processingKey() string { return "mailflow:queue:" + q.name + ":processing" }
func (q *RedisQueue) deadKey() string       { return "mailflow:queue:" + q.name + ":dead" }

// Enqueue places a job on the ready set, or on the delayed set when the
// job carries a delivery delay.
func (q *RedisQueue) Enqueue(ctx context.Context, job *ExecuteWorkflowJob, opts EnqueueOptions) error {
	job.Priority = opts.Priority
	job.EnqueuedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())

		err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: payload}).Err()
		if err != nil {
			return fmt.Errorf("failed to enqueue delayed job: %w", err)
		}

		return nil
	}

	// Higher workflow priority is processed first, so the ready set is
	// scored by the negated priority.
	err = q.client.ZAdd(ctx, q.readyKey(), redis.Z{Score: float64(-job.Priority), Member: payload}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// Consume starts the promoter loop and the worker pool.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	q.logger.InfoContext(ctx, "Starting queue consumers", "concurrency", q.concurrency)

	q.wg.Add(1)

	go q.promote(ctx)

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)

		go q.work(ctx, handler)
	}

	return nil
}

// promote moves due delayed jobs onto the ready set and re-delivers
// jobs whose claims expired. The ZRem claim makes each move safe across
// concurrent promoters.
func (q *RedisQueue) promote(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.promoteDue(ctx)
			if err != nil {
				q.logger.ErrorContext(ctx, "Error promoting delayed jobs", "error", err)
			}
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())

	if err := q.moveDueToReady(ctx, q.delayedKey(), now); err != nil {
		return err
	}

	// Entries still on the processing set past their deadline belong to
	// workers that died mid-job; put them back in line.
	return q.moveDueToReady(ctx, q.processingKey(), now)
}

func (q *RedisQueue) moveDueToReady(ctx context.Context, srcKey string, now float64) error {
	members, err := q.client.ZRangeByScore(ctx, srcKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", srcKey, err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, srcKey, member).Result()
		if err != nil {
			return fmt.Errorf("failed to claim job from %s: %w", srcKey, err)
		}

		if removed == 0 {
			continue // another promoter won the claim
		}

		var job ExecuteWorkflowJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.ErrorContext(ctx, "Dropping malformed job", "key", srcKey, "error", err)

			continue
		}

		err = q.client.ZAdd(ctx, q.readyKey(), redis.Z{Score: float64(-job.Priority), Member: member}).Err()
		if err != nil {
			return fmt.Errorf("failed to promote job: %w", err)
		}
	}

	return nil
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			err := q.processOne(ctx, handler)
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}

				q.logger.ErrorContext(ctx, "Error processing job", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (q *RedisQueue) processOne(ctx context.Context, handler Handler) error {
	deadline := float64(time.Now().Add(q.visibility).UnixMilli())

	claimed, err := claimScript.Run(ctx, q.client, []string{q.readyKey(), q.processingKey()}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		select {
		case <-ctx.Done():
		case <-q.stopCh:
		case <-time.After(pollInterval):
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}

	payload, ok := claimed.(string)
	if !ok {
		return nil
	}

	var job ExecuteWorkflowJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		q.logger.ErrorContext(ctx, "Dropping malformed job", "error", err)

		return q.ack(ctx, payload)
	}

	err = handler(ctx, &job)
	if err != nil {
		if retryErr := q.retryOrBury(ctx, &job, err); retryErr != nil {
			return retryErr
		}
	}

	// Ack only once the outcome is recorded. A crash before this point
	// leaves the claim to expire and the job to be re-delivered.
	return q.ack(ctx, payload)
}

func (q *RedisQueue) ack(ctx context.Context, payload string) error {
	err := q.client.ZRem(ctx, q.processingKey(), payload).Err()
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}

	return nil
}

// retryOrBury requeues a failed job with backoff, or dead-letters it
// once its attempts are exhausted.
func (q *RedisQueue) retryOrBury(ctx context.Context, job *ExecuteWorkflowJob, cause error) error {
	job.Attempt++

	logger := q.logger.With(
		"job_id", job.ID,
		"execution_id", job.ExecutionID,
		"attempt", job.Attempt,
	)

	if job.Attempt >= job.MaxAttempts {
		logger.ErrorContext(ctx, "Job attempts exhausted, moving to dead-letter queue", "error", cause)

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal dead job: %w", err)
		}

		err = q.client.LPush(ctx, q.deadKey(), payload).Err()
		if err != nil {
			return fmt.Errorf("failed to dead-letter job: %w", err)
		}

		return nil
	}

	delay := Backoff(job.RetryDelay, job.Attempt-1)

	logger.WarnContext(ctx, "Job failed, scheduling retry", "error", cause, "delay", delay)

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}

	readyAt := float64(time.Now().Add(delay).UnixMilli())

	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: payload}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	return nil
}

// HealthCheck pings Redis.
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	err := q.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	return nil
}

// Stop drains the worker pool and closes the client.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})

	q.wg.Wait()

	err := q.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	q.logger.InfoContext(ctx, "Queue stopped")

	return nil
}
