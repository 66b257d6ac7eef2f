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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , user_id
  , name
  , description
  , version
  , trigger_config
  , workflow_definition
  , execution_config
  , total_executions
  , successful_executions
  , failed_executions
  , last_execution_at
  , is_active
  , is_template
  , created_at
  , updated_at
  , deleted_at
`

// Save inserts or updates a workflow, marshalling the trigger,
// definition and execution config as JSONB.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	triggerJSON, err := json.Marshal(workflow.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	definitionJSON, err := json.Marshal(workflow.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow definition: %w", err)
	}

	executionJSON, err := json.Marshal(workflow.Execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution config: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, user_id, name, description, version,
			trigger_config, workflow_definition, execution_config,
			total_executions, successful_executions, failed_executions, last_execution_at,
			is_active, is_template, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			trigger_config = EXCLUDED.trigger_config,
			workflow_definition = EXCLUDED.workflow_definition,
			execution_config = EXCLUDED.execution_config,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.UserID,
		workflow.Name,
		workflow.Description,
		workflow.Version,
		triggerJSON,
		definitionJSON,
		executionJSON,
		workflow.Stats.TotalExecutions,
		workflow.Stats.SuccessfulExecutions,
		workflow.Stats.FailedExecutions,
		workflow.Stats.LastExecutionAt,
		workflow.IsActive,
		workflow.IsTemplate,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// GetByID returns a workflow by its ID, or (nil, nil) when absent.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// List returns a filtered, sorted page of workflows with the unpaged total.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	where := "WHERE deleted_at IS NULL"
	args := make([]any, 0, 4)

	if opts.UserID != "" {
		args = append(args, opts.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	if opts.IsActive != nil {
		args = append(args, *opts.IsActive)
		where += fmt.Sprintf(" AND is_active = $%d", len(args))
	}

	if opts.Trigger != nil {
		args = append(args, string(*opts.Trigger))
		where += fmt.Sprintf(" AND trigger_config->>'type' = $%d", len(args))
	}

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	// Sort columns come from the service-layer allowlist, never raw from
	// the request.
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}

	sortOrder := "DESC"
	if opts.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf("SELECT %s FROM workflows %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		workflowColumns, where, sortBy, sortOrder, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return &persistence.ListWorkflowsResult{Workflows: workflows, TotalCount: total}, nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

// ListActiveScheduled returns every active workflow with a scheduled
// trigger, for cron registrar rehydration at process start.
func (r *WorkflowRepository) ListActiveScheduled(ctx context.Context) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		  AND is_active
		  AND trigger_config->>'type' = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, string(models.TriggerTypeScheduled))
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// IncrementStats applies the post-execution counter update atomically in
// the database so concurrent completions never lose updates.
func (r *WorkflowRepository) IncrementStats(ctx context.Context, id string, succeeded bool, at time.Time) error {
	successDelta := 0
	failureDelta := 1

	if succeeded {
		successDelta = 1
		failureDelta = 0
	}

	query := `
		UPDATE workflows SET
			total_executions = total_executions + 1,
			successful_executions = successful_executions + $2,
			failed_executions = failed_executions + $3,
			last_execution_at = $4
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, successDelta, failureDelta, at)
	if err != nil {
		return fmt.Errorf("failed to increment workflow stats: %w", err)
	}

	return nil
}

// UserStats aggregates counters across one user's workflows.
func (r *WorkflowRepository) UserStats(ctx context.Context, userID string) (*persistence.UserWorkflowStats, error) {
	query := `
		SELECT
			COUNT(*)
		  , COUNT(*) FILTER (WHERE is_active)
		  , COALESCE(SUM(total_executions), 0)
		  , COALESCE(SUM(successful_executions), 0)
		  , COALESCE(SUM(failed_executions), 0)
		FROM workflows
		WHERE user_id = $1 AND deleted_at IS NULL
	`

	stats := &persistence.UserWorkflowStats{}

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.WorkflowCount,
		&stats.ActiveCount,
		&stats.TotalExecutions,
		&stats.SuccessfulExecutions,
		&stats.FailedExecutions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		triggerJSON    []byte
		definitionJSON []byte
		executionJSON  []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.UserID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Version,
		&triggerJSON,
		&definitionJSON,
		&executionJSON,
		&workflow.Stats.TotalExecutions,
		&workflow.Stats.SuccessfulExecutions,
		&workflow.Stats.FailedExecutions,
		&workflow.Stats.LastExecutionAt,
		&workflow.IsActive,
		&workflow.IsTemplate,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &workflow.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	if err := json.Unmarshal(definitionJSON, &workflow.Definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}

	if err := json.Unmarshal(executionJSON, &workflow.Execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution config: %w", err)
	}

	return &workflow, nil
}
