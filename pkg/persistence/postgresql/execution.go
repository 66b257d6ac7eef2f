package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
)

// ExecutionRepository handles execution-record database operations. All
// status transitions are conditional updates guarded on the current
// status so records never move backward under concurrency.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , execution_id
  , workflow_id
  , user_id
  , status
  , trigger_type
  , trigger_data
  , started_at
  , completed_at
  , timeout_at
  , created_at
  , total_nodes
  , completed_nodes
  , failed_nodes
  , execution_results
  , output_data
  , error_details
  , execution_duration_ms
`

// Create inserts a new execution record.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution row ID: %w", err)
		}

		execution.ID = id.String()
	}

	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	resultsJSON, err := json.Marshal(execution.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal execution results: %w", err)
	}

	outputJSON, err := json.Marshal(execution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	errorsJSON, err := json.Marshal(execution.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, execution_id, workflow_id, user_id, status, trigger_type, trigger_data,
			started_at, completed_at, timeout_at, created_at,
			total_nodes, completed_nodes, failed_nodes,
			execution_results, output_data, error_details, execution_duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.ExecutionID,
		execution.WorkflowID,
		execution.UserID,
		string(execution.Status),
		string(execution.TriggerType),
		triggerDataJSON,
		execution.StartedAt,
		execution.CompletedAt,
		execution.TimeoutAt,
		execution.CreatedAt,
		execution.TotalNodes,
		execution.CompletedNodes,
		execution.FailedNodes,
		resultsJSON,
		outputJSON,
		errorsJSON,
		execution.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// GetByExecutionID returns an execution by its execution id, or
// (nil, nil) when absent.
func (r *ExecutionRepository) GetByExecutionID(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE execution_id = $1`

	row := r.db.QueryRowContext(ctx, query, executionID)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// List returns a filtered page of executions with the unpaged total.
func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ListExecutionsResult, error) {
	where := "WHERE TRUE"
	args := make([]any, 0, 6)

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.UserID != "" {
		args = append(args, opts.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	if opts.Until != nil {
		args = append(args, *opts.Until)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_executions "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf("SELECT %s FROM workflow_executions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		executionColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return &persistence.ListExecutionsResult{Executions: executions, TotalCount: total}, nil
}

// CountActive counts pending and running executions for a workflow.
func (r *ExecutionRepository) CountActive(ctx context.Context, workflowID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = $1 AND status IN ('pending', 'running')",
		workflowID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}

	return count, nil
}

// MarkRunning transitions pending -> running.
func (r *ExecutionRepository) MarkRunning(ctx context.Context, executionID string, startedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_executions SET status = 'running', started_at = $2 WHERE execution_id = $1 AND status = 'pending'",
		executionID, startedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark execution running: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// Finish writes the terminal state carried by execution, guarded on the
// record still being running.
func (r *ExecutionRepository) Finish(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	if !models.ExecutionStatusRunning.CanTransitionTo(execution.Status) {
		return false, persistence.ErrInvalidTransition
	}

	resultsJSON, err := json.Marshal(execution.Results)
	if err != nil {
		return false, fmt.Errorf("failed to marshal execution results: %w", err)
	}

	outputJSON, err := json.Marshal(execution.OutputData)
	if err != nil {
		return false, fmt.Errorf("failed to marshal output data: %w", err)
	}

	errorsJSON, err := json.Marshal(execution.ErrorDetails)
	if err != nil {
		return false, fmt.Errorf("failed to marshal error details: %w", err)
	}

	query := `
		UPDATE workflow_executions SET
			status = $2,
			completed_at = $3,
			completed_nodes = $4,
			failed_nodes = $5,
			execution_results = $6,
			output_data = $7,
			error_details = $8,
			execution_duration_ms = $9
		WHERE execution_id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ExecutionID,
		string(execution.Status),
		execution.CompletedAt,
		execution.CompletedNodes,
		execution.FailedNodes,
		resultsJSON,
		outputJSON,
		errorsJSON,
		execution.DurationMs,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// Cancel transitions pending or running -> cancelled.
func (r *ExecutionRepository) Cancel(ctx context.Context, executionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_executions SET status = 'cancelled', completed_at = NOW() WHERE execution_id = $1 AND status IN ('pending', 'running')",
		executionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// CancelByWorkflow cancels every non-terminal execution of the workflow.
func (r *ExecutionRepository) CancelByWorkflow(ctx context.Context, workflowID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_executions SET status = 'cancelled', completed_at = NOW() WHERE workflow_id = $1 AND status IN ('pending', 'running')",
		workflowID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel workflow executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

// IncrementNodeCounters bumps the progress counters atomically.
func (r *ExecutionRepository) IncrementNodeCounters(ctx context.Context, executionID string, failed bool) error {
	column := "completed_nodes"
	if failed {
		column = "failed_nodes"
	}

	query := fmt.Sprintf("UPDATE workflow_executions SET %s = %s + 1 WHERE execution_id = $1", column, column)

	_, err := r.db.ExecContext(ctx, query, executionID)
	if err != nil {
		return fmt.Errorf("failed to increment node counters: %w", err)
	}

	return nil
}

// ResetNodeCounters zeroes the progress counters before a retry attempt.
func (r *ExecutionRepository) ResetNodeCounters(ctx context.Context, executionID string) error {
	query := `UPDATE workflow_executions
		SET completed_nodes = 0, failed_nodes = 0
		WHERE execution_id = $1`

	_, err := r.db.ExecContext(ctx, query, executionID)
	if err != nil {
		return fmt.Errorf("failed to reset node counters: %w", err)
	}

	return nil
}

// ListOverdue returns running executions whose timeout has passed.
func (r *ExecutionRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = 'running' AND timeout_at <= $1
		ORDER BY timeout_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		status          string
		triggerType     string
		triggerDataJSON []byte
		resultsJSON     []byte
		outputJSON      []byte
		errorsJSON      []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.ExecutionID,
		&execution.WorkflowID,
		&execution.UserID,
		&status,
		&triggerType,
		&triggerDataJSON,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.TimeoutAt,
		&execution.CreatedAt,
		&execution.TotalNodes,
		&execution.CompletedNodes,
		&execution.FailedNodes,
		&resultsJSON,
		&outputJSON,
		&errorsJSON,
		&execution.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.TriggerType = models.TriggerType(triggerType)

	if len(triggerDataJSON) > 0 {
		if err := json.Unmarshal(triggerDataJSON, &execution.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &execution.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution results: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &execution.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
		}
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &execution.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error details: %w", err)
		}
	}

	return &execution, nil
}
