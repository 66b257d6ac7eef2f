// Package persistence provides the data storage abstraction for
// workflows, executions and node-level audit rows.
package persistence

import (
	"context"
	"time"

	"github.com/mailflow/mailflow/pkg/models"
)

// Persistence aggregates the engine's repositories behind one
// construction seam.
type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	NodeExecutions() NodeExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and pages workflow listings.
type ListWorkflowsOptions struct {
	UserID    string
	IsActive  *bool
	Trigger   *models.TriggerType
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// ListWorkflowsResult is a page of workflows plus the unpaged total.
type ListWorkflowsResult struct {
	Workflows  []*models.Workflow
	TotalCount int64
}

// UserWorkflowStats aggregates counters across one user's workflows.
type UserWorkflowStats struct {
	WorkflowCount        int64 `json:"workflow_count"`
	ActiveCount          int64 `json:"active_count"`
	TotalExecutions      int64 `json:"total_executions"`
	SuccessfulExecutions int64 `json:"successful_executions"`
	FailedExecutions     int64 `json:"failed_executions"`
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	// GetByID returns (nil, nil) when the workflow does not exist.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*ListWorkflowsResult, error)
	// Delete soft deletes the workflow.
	Delete(ctx context.Context, id string) error
	// ListActiveScheduled returns every active workflow with a scheduled
	// trigger, for cron registrar rehydration.
	ListActiveScheduled(ctx context.Context) ([]*models.Workflow, error)
	// IncrementStats applies the post-execution counter update as an
	// atomic in-store increment, never read-modify-write.
	IncrementStats(ctx context.Context, id string, succeeded bool, at time.Time) error
	UserStats(ctx context.Context, userID string) (*UserWorkflowStats, error)
}

// ListExecutionsOptions filters and pages execution listings.
type ListExecutionsOptions struct {
	WorkflowID string
	UserID     string
	Status     *models.ExecutionStatus
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// ListExecutionsResult is a page of executions plus the unpaged total.
type ListExecutionsResult struct {
	Executions []*models.WorkflowExecution
	TotalCount int64
}

// ExecutionRepository stores workflow execution records. Status
// transitions are compare-and-set in the store so a record never moves
// backward and terminal states are written exactly once.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	// GetByExecutionID returns (nil, nil) when the execution does not exist.
	GetByExecutionID(ctx context.Context, executionID string) (*models.WorkflowExecution, error)
	List(ctx context.Context, opts ListExecutionsOptions) (*ListExecutionsResult, error)
	// CountActive returns the number of executions for the workflow in
	// pending or running status, for admission control.
	CountActive(ctx context.Context, workflowID string) (int, error)
	// MarkRunning transitions pending -> running. Returns false when the
	// execution was not pending (already cancelled or picked up).
	MarkRunning(ctx context.Context, executionID string, startedAt time.Time) (bool, error)
	// Finish writes the terminal state carried by execution, guarded on
	// the record still being running. Returns false when the guard fails.
	Finish(ctx context.Context, execution *models.WorkflowExecution) (bool, error)
	// Cancel transitions pending or running -> cancelled. Returns false
	// when the execution was already terminal.
	Cancel(ctx context.Context, executionID string) (bool, error)
	// CancelByWorkflow cancels every non-terminal execution of the
	// workflow and returns how many were cancelled.
	CancelByWorkflow(ctx context.Context, workflowID string) (int, error)
	// IncrementNodeCounters bumps the progress counters as nodes finish.
	IncrementNodeCounters(ctx context.Context, executionID string, failed bool) error
	// ResetNodeCounters zeroes the progress counters at the start of a
	// retry attempt, so a whole-graph re-run counts from scratch.
	ResetNodeCounters(ctx context.Context, executionID string) error
	// ListOverdue returns running executions whose timeout_at has passed.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error)
}

// NodeExecutionRepository stores the per-node audit trail.
type NodeExecutionRepository interface {
	Create(ctx context.Context, nodeExecution *models.WorkflowNodeExecution) error
	Update(ctx context.Context, nodeExecution *models.WorkflowNodeExecution) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowNodeExecution, error)
}
