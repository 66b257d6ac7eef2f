// Package batchop implements the batch_operation node.
package batchop

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Node creates and runs a batch job over the configured target items.
// A delegate failure is reported as an unsuccessful result instead of an
// error, so the graph can route it through a "failure" connection.
type Node struct {
	batches protocol.BatchOperations
}

func (n *Node) Type() models.NodeType { return models.NodeTypeBatchOperation }

func (n *Node) Execute(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	operationType, _ := node.Config["operation_type"].(string)
	if operationType == "" {
		return nil, fmt.Errorf("batch_operation node %s missing required field 'operation_type'", node.ID)
	}

	label, _ := node.Config["label"].(string)
	if label == "" {
		label = node.Name
	}

	targetItems := targetItemsFrom(node.Config, executionCtx)

	operation, err := n.batches.CreateBatchOperation(
		ctx,
		executionCtx.UserID,
		label,
		operationType,
		targetItems,
		node.Config,
	)
	if err != nil {
		return &models.NodeResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	return &models.NodeResult{
		Success: true,
		Output: map[string]any{
			"batch_operation_id": operation.ID,
			"status":             operation.Status,
			"target_count":       len(targetItems),
		},
	}, nil
}

// targetItemsFrom reads the explicit target list, falling back to the
// "email_ids" context variable populated by an upstream email_filter.
func targetItemsFrom(config map[string]any, executionCtx *models.ExecutionContext) []string {
	items := stringSlice(config["target_items"])
	if len(items) > 0 {
		return items
	}

	return stringSlice(executionCtx.Variables["email_ids"])
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// Factory builds batch_operation nodes around the batch collaborator.
type Factory struct {
	batches protocol.BatchOperations
}

func NewFactory(batches protocol.BatchOperations) protocol.NodeFactory {
	return &Factory{batches: batches}
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeBatchOperation }
func (f *Factory) Name() string          { return "Batch Operation" }

func (f *Factory) Description() string {
	return "Creates and runs a batch job (archive, move, label, delete) over target emails."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation_type": map[string]any{
				"type": "string",
				"enum": []any{"archive", "move", "label", "mark_read", "delete"},
			},
			"label": map[string]any{"type": "string"},
			"target_items": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"operation_type"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{batches: f.batches}, nil
}
