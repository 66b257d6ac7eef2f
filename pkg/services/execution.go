package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/workflow"
)

// ErrExecutionNotFound is returned when an execution is not found.
var ErrExecutionNotFound = persistence.ErrExecutionNotFound

// Execution is the application service for triggering, cancelling and
// inspecting workflow runs.
type Execution struct {
	persistence persistence.Persistence
	manager     *workflow.Manager
	logger      *slog.Logger
}

// NewExecution creates a new execution service.
func NewExecution(persistence persistence.Persistence, manager *workflow.Manager, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persistence,
		manager:     manager,
		logger:      logger.With("module", "execution_service"),
	}
}

// ExecuteWorkflowRequest contains the payload for a manual execution.
type ExecuteWorkflowRequest struct {
	WorkflowID  string `validate:"required"`
	UserID      string `validate:"required"`
	TriggerData map[string]any
	Priority    int
	Delay       time.Duration
}

// ExecuteWorkflow admits and enqueues one run of the caller's workflow.
// The returned execution is pending; the caller polls it for progress.
func (s *Execution) ExecuteWorkflow(ctx context.Context, req ExecuteWorkflowRequest) (*models.WorkflowExecution, error) {
	if err := validate.Struct(req); err != nil {
		return nil, NewValidationError("ExecuteWorkflow", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	owned, err := s.persistence.Workflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if owned == nil || owned.UserID != req.UserID {
		return nil, ErrWorkflowNotFound
	}

	execution, err := s.manager.Trigger(ctx, workflow.TriggerRequest{
		WorkflowID:  req.WorkflowID,
		UserID:      req.UserID,
		TriggerType: models.TriggerTypeManual,
		TriggerData: req.TriggerData,
		Priority:    req.Priority,
		Delay:       req.Delay,
	})
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// GetExecution loads one execution scoped to its owner.
func (s *Execution) GetExecution(ctx context.Context, executionID, userID string) (*models.WorkflowExecution, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	execution, err := s.persistence.Executions().GetByExecutionID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	if execution == nil || execution.UserID != userID {
		return nil, ErrExecutionNotFound
	}

	return execution, nil
}

// CancelExecution moves a pending or running execution to cancelled.
// Already-terminal executions report false without error.
func (s *Execution) CancelExecution(ctx context.Context, executionID, userID string) (bool, error) {
	if _, err := s.GetExecution(ctx, executionID, userID); err != nil {
		return false, err
	}

	return s.manager.Cancel(ctx, executionID)
}

// ListExecutionsRequest contains options for listing executions.
type ListExecutionsRequest struct {
	UserID     string `validate:"required"`
	WorkflowID string
	Status     *models.ExecutionStatus
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// ListExecutionsResponse contains the result of listing executions.
type ListExecutionsResponse struct {
	Executions  []*models.WorkflowExecution `json:"executions"`
	TotalCount  int64                       `json:"total_count"`
	HasNextPage bool                        `json:"has_next_page"`
}

// ListExecutions retrieves the caller's executions, newest first.
func (s *Execution) ListExecutions(ctx context.Context, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	if req.UserID == "" {
		return nil, ErrEmptyUserID
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	result, err := s.persistence.Executions().List(ctx, persistence.ListExecutionsOptions{
		WorkflowID: req.WorkflowID,
		UserID:     req.UserID,
		Status:     req.Status,
		Since:      req.Since,
		Until:      req.Until,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return &ListExecutionsResponse{
		Executions:  result.Executions,
		TotalCount:  result.TotalCount,
		HasNextPage: int64(req.Offset+req.Limit) < result.TotalCount,
	}, nil
}

// ListNodeExecutions returns the per-node audit trail of one execution,
// ordered by start time.
func (s *Execution) ListNodeExecutions(ctx context.Context, executionID, userID string) ([]*models.WorkflowNodeExecution, error) {
	if _, err := s.GetExecution(ctx, executionID, userID); err != nil {
		return nil, err
	}

	nodeExecutions, err := s.persistence.NodeExecutions().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}

	return nodeExecutions, nil
}
