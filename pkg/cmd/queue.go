package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailflow/mailflow/pkg/queue"
)

// NewJobQueue builds the execution job queue from a queue URL.
// redis:// URLs get the Redis-backed priority queue; the literal
// "memory" gets the in-process one for local development and tests.
func NewJobQueue(ctx context.Context, logger *slog.Logger, queueURL string, concurrency int) queue.JobQueue {
	switch {
	case queueURL == "memory":
		logger.WarnContext(ctx, "Using in-memory job queue, jobs are lost on restart")

		return queue.NewMemoryQueue(concurrency)
	case strings.HasPrefix(queueURL, "redis://"), strings.HasPrefix(queueURL, "rediss://"):
		q, err := queue.NewRedisQueue(ctx, logger, queue.RedisQueueConfig{
			URL:         queueURL,
			Concurrency: concurrency,
		})
		if err != nil {
			panic(fmt.Errorf("failed to create Redis job queue: %w", err))
		}

		return q
	default:
		panic("Unsupported queue URL: " + queueURL)
	}
}
