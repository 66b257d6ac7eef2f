package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
)

// NodeExecutionRepository persists the per-node audit trail.
type NodeExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeExecutionRepository creates a new node execution repository.
func NewNodeExecutionRepository(db *sql.DB, logger *slog.Logger) *NodeExecutionRepository {
	return &NodeExecutionRepository{db: db, logger: logger}
}

// Create inserts the running row written before a node is invoked.
func (r *NodeExecutionRepository) Create(ctx context.Context, nodeExecution *models.WorkflowNodeExecution) error {
	if nodeExecution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate node execution ID: %w", err)
		}

		nodeExecution.ID = id.String()
	}

	inputJSON, err := json.Marshal(nodeExecution.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}

	outputJSON, err := json.Marshal(nodeExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := `
		INSERT INTO workflow_node_executions (
			id, execution_id, node_id, node_type, status,
			input_data, output_data, started_at, completed_at,
			execution_duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		nodeExecution.ID,
		nodeExecution.ExecutionID,
		nodeExecution.NodeID,
		string(nodeExecution.NodeType),
		string(nodeExecution.Status),
		inputJSON,
		outputJSON,
		nodeExecution.StartedAt,
		nodeExecution.CompletedAt,
		nodeExecution.DurationMs,
		nodeExecution.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create node execution: %w", err)
	}

	return nil
}

// Update writes the completion state of a node visit.
func (r *NodeExecutionRepository) Update(ctx context.Context, nodeExecution *models.WorkflowNodeExecution) error {
	outputJSON, err := json.Marshal(nodeExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := `
		UPDATE workflow_node_executions SET
			status = $2,
			output_data = $3,
			completed_at = $4,
			execution_duration_ms = $5,
			error_message = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		nodeExecution.ID,
		string(nodeExecution.Status),
		outputJSON,
		nodeExecution.CompletedAt,
		nodeExecution.DurationMs,
		nodeExecution.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update node execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrNodeExecutionNotFound
	}

	return nil
}

// ListByExecution returns the audit rows of one execution in visit order.
func (r *NodeExecutionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowNodeExecution, error) {
	query := `
		SELECT
			id
		  , execution_id
		  , node_id
		  , node_type
		  , status
		  , input_data
		  , output_data
		  , started_at
		  , completed_at
		  , execution_duration_ms
		  , error_message
		FROM workflow_node_executions
		WHERE execution_id = $1
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodeExecutions := make([]*models.WorkflowNodeExecution, 0)

	for rows.Next() {
		var (
			nodeExecution models.WorkflowNodeExecution
			nodeType      string
			status        string
			inputJSON     []byte
			outputJSON    []byte
		)

		err := rows.Scan(
			&nodeExecution.ID,
			&nodeExecution.ExecutionID,
			&nodeExecution.NodeID,
			&nodeType,
			&status,
			&inputJSON,
			&outputJSON,
			&nodeExecution.StartedAt,
			&nodeExecution.CompletedAt,
			&nodeExecution.DurationMs,
			&nodeExecution.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		nodeExecution.NodeType = models.NodeType(nodeType)
		nodeExecution.Status = models.NodeExecutionStatus(status)

		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &nodeExecution.InputData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
			}
		}

		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &nodeExecution.OutputData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
			}
		}

		nodeExecutions = append(nodeExecutions, &nodeExecution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return nodeExecutions, nil
}
