// Package protocol defines the contracts between the workflow engine and
// its pluggable node executors and external collaborators.
package protocol

import (
	"context"

	"github.com/mailflow/mailflow/pkg/models"
)

// NodeExecutor is the per-node-type execution strategy. Execute receives
// the node (with its type-specific config already schema-validated) and
// the execution context, and returns the node result. Returning an error
// fails the node and, unless a failure connection consumes it, the
// execution.
type NodeExecutor interface {
	Type() models.NodeType
	Execute(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error)
}

// NodeFactory builds a NodeExecutor and describes its config schema for
// registry-level validation.
type NodeFactory interface {
	Type() models.NodeType
	Name() string
	Description() string
	// Schema returns the JSON Schema the node's config must satisfy.
	Schema() map[string]any
	Create(ctx context.Context) (NodeExecutor, error)
}
