//go:build integration
// +build integration

package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var redisContainer *tcredis.RedisContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if redisContainer != nil {
		_ = redisContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupRedisQueue(t *testing.T, name string) *RedisQueue {
	t.Helper()

	ctx := context.Background()

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error
		redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)
	}

	url, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	q, err := NewRedisQueue(ctx, logger, RedisQueueConfig{URL: url, Name: name})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = q.Stop(context.Background())
	})

	return q
}

func sampleJob(id string) *ExecuteWorkflowJob {
	return &ExecuteWorkflowJob{
		ID:          id,
		ExecutionID: "exec-" + id,
		WorkflowID:  "wf-1",
		UserID:      "user-1",
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

func zcard(t *testing.T, q *RedisQueue, key string) int64 {
	t.Helper()

	n, err := q.client.ZCard(context.Background(), key).Result()
	require.NoError(t, err)

	return n
}

func TestRedisQueue_ProcessOneAcksAfterHandler(t *testing.T) {
	q := setupRedisQueue(t, "ack")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, sampleJob("job-1"), EnqueueOptions{}))

	var handled []string
	err := q.processOne(ctx, func(_ context.Context, job *ExecuteWorkflowJob) error {
		handled = append(handled, job.ID)

		// While the handler runs the job is claimed, not gone.
		assert.EqualValues(t, 1, zcard(t, q, q.processingKey()))
		assert.EqualValues(t, 0, zcard(t, q, q.readyKey()))

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"job-1"}, handled)
	assert.EqualValues(t, 0, zcard(t, q, q.processingKey()))
	assert.EqualValues(t, 0, zcard(t, q, q.readyKey()))
}

func TestRedisQueue_ExpiredClaimIsRedelivered(t *testing.T) {
	q := setupRedisQueue(t, "redeliver")
	q.visibility = -time.Second // every claim is born expired
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, sampleJob("job-crash"), EnqueueOptions{}))

	// The handler dies before acking, as a crashed worker would.
	func() {
		defer func() {
			require.NotNil(t, recover())
		}()

		_ = q.processOne(ctx, func(_ context.Context, _ *ExecuteWorkflowJob) error {
			panic("worker crashed")
		})
	}()

	require.EqualValues(t, 1, zcard(t, q, q.processingKey()), "unacked job stays claimed")

	require.NoError(t, q.promoteDue(ctx))

	assert.EqualValues(t, 0, zcard(t, q, q.processingKey()))
	require.EqualValues(t, 1, zcard(t, q, q.readyKey()), "expired claim goes back in line")

	var handled []string
	require.NoError(t, q.processOne(ctx, func(_ context.Context, job *ExecuteWorkflowJob) error {
		handled = append(handled, job.ID)

		return nil
	}))
	assert.Equal(t, []string{"job-crash"}, handled)
}

func TestRedisQueue_FailedJobRetriesAndAcks(t *testing.T) {
	q := setupRedisQueue(t, "retry")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, sampleJob("job-flaky"), EnqueueOptions{}))

	require.NoError(t, q.processOne(ctx, func(_ context.Context, _ *ExecuteWorkflowJob) error {
		return errors.New("transient failure")
	}))

	assert.EqualValues(t, 0, zcard(t, q, q.processingKey()), "retried job does not keep its claim")
	assert.EqualValues(t, 1, zcard(t, q, q.delayedKey()), "retry waits out its backoff")

	members, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members[0], `"attempt":1`)
}

func TestRedisQueue_PriorityOrdersDelivery(t *testing.T) {
	q := setupRedisQueue(t, "priority")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, sampleJob("job-low"), EnqueueOptions{Priority: 1}))
	require.NoError(t, q.Enqueue(ctx, sampleJob("job-high"), EnqueueOptions{Priority: 9}))

	var handled []string
	handler := func(_ context.Context, job *ExecuteWorkflowJob) error {
		handled = append(handled, job.ID)

		return nil
	}

	require.NoError(t, q.processOne(ctx, handler))
	require.NoError(t, q.processOne(ctx, handler))

	assert.Equal(t, []string{"job-high", "job-low"}, handled)
}
