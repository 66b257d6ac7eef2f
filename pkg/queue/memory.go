package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is an in-process JobQueue for tests and local development.
// It honors delays and retry/backoff semantics but keeps everything in
// one channel, so priority ordering is approximate.
type MemoryQueue struct {
	jobs     chan *ExecuteWorkflowJob
	dead     []*ExecuteWorkflowJob
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	concurrency int
}

// NewMemoryQueue creates an in-memory queue with the given worker count.
func NewMemoryQueue(concurrency int) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &MemoryQueue{
		jobs:        make(chan *ExecuteWorkflowJob, 1024),
		stopCh:      make(chan struct{}),
		concurrency: concurrency,
	}
}

// Enqueue places a job, honoring the delivery delay via timer.
func (q *MemoryQueue) Enqueue(_ context.Context, job *ExecuteWorkflowJob, opts EnqueueOptions) error {
	job.Priority = opts.Priority
	job.EnqueuedAt = time.Now().UTC()

	// Round-trip through JSON so callers never share the payload maps,
	// matching the durable queue's behavior.
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	queued := &ExecuteWorkflowJob{}
	if err := json.Unmarshal(payload, queued); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() {
			select {
			case q.jobs <- queued:
			case <-q.stopCh:
			}
		})

		return nil
	}

	select {
	case q.jobs <- queued:
	default:
		return fmt.Errorf("queue full")
	}

	return nil
}

// Consume starts the worker pool.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)

		go func() {
			defer q.wg.Done()

			for {
				select {
				case <-q.stopCh:
					return
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					err := handler(ctx, job)
					if err != nil {
						q.retryOrBury(job)
					}
				}
			}
		}()
	}

	return nil
}

func (q *MemoryQueue) retryOrBury(job *ExecuteWorkflowJob) {
	job.Attempt++

	if job.Attempt >= job.MaxAttempts {
		q.mu.Lock()
		q.dead = append(q.dead, job)
		q.mu.Unlock()

		return
	}

	time.AfterFunc(Backoff(job.RetryDelay, job.Attempt-1), func() {
		select {
		case q.jobs <- job:
		case <-q.stopCh:
		}
	})
}

// DeadLetters returns jobs that exhausted their attempts.
func (q *MemoryQueue) DeadLetters() []*ExecuteWorkflowJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*ExecuteWorkflowJob, len(q.dead))
	copy(out, q.dead)

	return out
}

func (q *MemoryQueue) HealthCheck(_ context.Context) error { return nil }

// Stop drains the worker pool.
func (q *MemoryQueue) Stop(_ context.Context) error {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})

	q.wg.Wait()

	return nil
}
