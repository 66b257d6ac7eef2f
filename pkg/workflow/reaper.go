package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mailflow/mailflow/pkg/eventbus"
	"github.com/mailflow/mailflow/pkg/events"
	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
)

const (
	DefaultReapInterval = 30 * time.Second
	DefaultReapBatch    = 100
)

// Reaper periodically sweeps running executions whose deadline has
// passed and marks them timed out. It covers worker crashes and graphs
// that never finish: without it an execution could hold an admission
// slot forever.
type Reaper struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReaper(persistence persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger) *Reaper {
	return &Reaper{
		persistence: persistence,
		eventBus:    eventBus,
		logger:      logger.With("module", "execution_reaper"),
		interval:    DefaultReapInterval,
		batchSize:   DefaultReapBatch,
		stopCh:      make(chan struct{}),
	}
}

// WithInterval overrides the sweep interval, mainly for tests.
func (r *Reaper) WithInterval(interval time.Duration) *Reaper {
	r.interval = interval
	return r
}

// Start launches the sweep loop. It returns immediately.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil {
					r.logger.ErrorContext(ctx, "Reaper sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Sweep marks every overdue running execution as timed out and returns
// how many were reaped. Each timeout counts as a failed run in the
// workflow's counters.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	overdue, err := r.persistence.Executions().ListOverdue(ctx, now, r.batchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0

	for _, execution := range overdue {
		execution.Status = models.ExecutionStatusTimeout
		execution.CompletedAt = &now

		if execution.StartedAt != nil {
			execution.DurationMs = now.Sub(*execution.StartedAt).Milliseconds()
		}

		execution.ErrorDetails = append(execution.ErrorDetails, models.ExecutionError{
			Error:     "execution exceeded its timeout",
			Timestamp: now,
		})

		finished, err := r.persistence.Executions().Finish(ctx, execution)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to time out execution",
				"execution_id", execution.ExecutionID, "error", err)
			continue
		}

		if !finished {
			// Terminated between the scan and the write.
			continue
		}

		reaped++

		if err := r.persistence.Workflows().IncrementStats(ctx, execution.WorkflowID, false, now); err != nil {
			r.logger.ErrorContext(ctx, "Failed to increment workflow stats",
				"workflow_id", execution.WorkflowID, "error", err)
		}

		r.logger.WarnContext(ctx, "Execution timed out",
			"workflow_id", execution.WorkflowID,
			"execution_id", execution.ExecutionID,
			"timeout_at", execution.TimeoutAt)

		r.publish(ctx, execution.WorkflowID, events.ExecutionTimeout{
			BaseEvent:   events.NewBaseEvent(events.ExecutionTimeoutEvent, execution.WorkflowID),
			ExecutionID: execution.ExecutionID,
			TimeoutAt:   execution.TimeoutAt,
		})
	}

	return reaped, nil
}

func (r *Reaper) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.eventBus == nil {
		return
	}

	if err := r.eventBus.Publish(ctx, key, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
