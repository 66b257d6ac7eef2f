// Package workflow contains the execution engine: admission and
// enqueueing of runs, graph traversal on the worker side, and the
// reaper that times out stuck executions.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mailflow/mailflow/pkg/eventbus"
	"github.com/mailflow/mailflow/pkg/events"
	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/queue"
)

// TriggerRequest carries everything needed to start one run.
type TriggerRequest struct {
	WorkflowID  string
	UserID      string
	TriggerType models.TriggerType
	TriggerData map[string]any
	// Priority orders the run against other queued runs; higher runs first.
	Priority int
	// Delay postpones the run's first delivery to a worker.
	Delay time.Duration
}

// Manager is the trigger-side half of the engine: it admits a run,
// creates the pending execution record and hands the job to the queue.
// It returns without waiting for the worker.
type Manager struct {
	persistence persistence.Persistence
	queue       queue.JobQueue
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

func NewManager(
	persistence persistence.Persistence,
	jobQueue queue.JobQueue,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		persistence: persistence,
		queue:       jobQueue,
		eventBus:    eventBus,
		logger:      logger.With("module", "workflow_manager"),
	}
}

// Trigger starts one run of the workflow. It validates that the
// workflow is runnable, enforces the per-workflow concurrency cap,
// writes the pending execution record and enqueues the job. The
// returned execution is still pending; traversal happens on a worker.
func (m *Manager) Trigger(ctx context.Context, req TriggerRequest) (*models.WorkflowExecution, error) {
	workflow, err := m.persistence.Workflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	if workflow == nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	if !workflow.IsActive {
		return nil, ErrWorkflowInactive
	}

	if workflow.IsTemplate {
		return nil, ErrWorkflowIsTemplate
	}

	if workflow.Definition == nil || len(workflow.Definition.Nodes) == 0 {
		return nil, ErrEmptyDefinition
	}

	config := workflow.Execution.WithDefaults()

	active, err := m.persistence.Executions().CountActive(ctx, workflow.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active executions: %w", err)
	}

	if active >= config.MaxConcurrentExecutions {
		return nil, fmt.Errorf("%w: %d of %d slots in use", ErrTooManyExecutions, active, config.MaxConcurrentExecutions)
	}

	userID := req.UserID
	if userID == "" {
		userID = workflow.UserID
	}

	now := time.Now().UTC()
	execution := &models.WorkflowExecution{
		ExecutionID: models.NewExecutionID(now),
		WorkflowID:  workflow.ID,
		UserID:      userID,
		Status:      models.ExecutionStatusPending,
		TriggerType: req.TriggerType,
		TriggerData: req.TriggerData,
		TimeoutAt:   now.Add(time.Duration(config.TimeoutSeconds) * time.Second),
		CreatedAt:   now,
		TotalNodes:  len(workflow.Definition.Nodes),
	}

	if err := m.persistence.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	job := &queue.ExecuteWorkflowJob{
		ID:          uuid.New().String(),
		ExecutionID: execution.ExecutionID,
		WorkflowID:  workflow.ID,
		UserID:      userID,
		TriggerData: req.TriggerData,
		Priority:    req.Priority,
		MaxAttempts: config.RetryCount + 1,
		RetryDelay:  time.Duration(config.RetryDelaySeconds) * time.Second,
		EnqueuedAt:  now,
	}

	opts := queue.EnqueueOptions{Priority: req.Priority, Delay: req.Delay}
	if err := m.queue.Enqueue(ctx, job, opts); err != nil {
		// The pending record would otherwise sit until the reaper; cancel
		// it so the slot frees immediately.
		if _, cancelErr := m.persistence.Executions().Cancel(ctx, execution.ExecutionID); cancelErr != nil {
			m.logger.ErrorContext(ctx, "Failed to cancel unqueued execution",
				"execution_id", execution.ExecutionID, "error", cancelErr)
		}

		return nil, fmt.Errorf("failed to enqueue execution %s: %w", execution.ExecutionID, err)
	}

	m.logger.InfoContext(ctx, "Workflow triggered",
		"workflow_id", workflow.ID,
		"execution_id", execution.ExecutionID,
		"trigger_type", req.TriggerType,
		"priority", req.Priority)

	m.publish(ctx, workflow.ID, events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, workflow.ID),
		ExecutionID: execution.ExecutionID,
		TriggerType: req.TriggerType,
		TriggerData: req.TriggerData,
	})

	return execution, nil
}

// Cancel moves a pending or running execution to cancelled. Returns
// false when the execution was already terminal.
func (m *Manager) Cancel(ctx context.Context, executionID string) (bool, error) {
	execution, err := m.persistence.Executions().GetByExecutionID(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution == nil {
		return false, persistence.ErrExecutionNotFound
	}

	cancelled, err := m.persistence.Executions().Cancel(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel execution %s: %w", executionID, err)
	}

	if cancelled {
		m.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)
		m.publish(ctx, execution.WorkflowID, events.ExecutionCancelled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
			ExecutionID: executionID,
		})
	}

	return cancelled, nil
}

// CancelWorkflow cancels every non-terminal execution of the workflow,
// used when a workflow is deleted or deactivated.
func (m *Manager) CancelWorkflow(ctx context.Context, workflowID string) (int, error) {
	cancelled, err := m.persistence.Executions().CancelByWorkflow(ctx, workflowID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel executions of workflow %s: %w", workflowID, err)
	}

	if cancelled > 0 {
		m.logger.InfoContext(ctx, "Cancelled workflow executions",
			"workflow_id", workflowID, "count", cancelled)
	}

	return cancelled, nil
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.eventBus == nil {
		return
	}

	if err := m.eventBus.Publish(ctx, key, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
