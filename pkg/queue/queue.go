// Package queue provides the durable job queue between workflow
// triggering and the worker pool walking the graph. Delivery is
// at-least-once: a failed job is retried whole, with exponential
// backoff, until its attempt cap moves it to the dead-letter queue.
package queue

import (
	"context"
	"time"
)

// ExecuteWorkflowJob is the payload of one "execute this workflow" job.
type ExecuteWorkflowJob struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	UserID      string         `json:"user_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Priority    int            `json:"priority"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	RetryDelay  time.Duration  `json:"retry_delay"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// EnqueueOptions control placement of a job.
type EnqueueOptions struct {
	// Priority orders ready jobs; higher priority is processed first.
	Priority int
	// Delay postpones the job's first delivery.
	Delay time.Duration
}

// Handler processes one job. A returned error requeues the job with
// backoff until MaxAttempts is exhausted.
type Handler func(ctx context.Context, job *ExecuteWorkflowJob) error

// JobQueue is the delivery mechanism between executeWorkflow and the
// worker that performs graph traversal.
type JobQueue interface {
	Enqueue(ctx context.Context, job *ExecuteWorkflowJob, opts EnqueueOptions) error
	// Consume starts the fixed-size worker pool and blocks new jobs on
	// slot availability. It returns immediately; workers stop when the
	// context is cancelled or Stop is called.
	Consume(ctx context.Context, handler Handler) error
	HealthCheck(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Backoff returns the delay before the given retry attempt: the base
// delay doubled per attempt already made.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}

	return delay
}
