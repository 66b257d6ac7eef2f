// Package start implements the entry node of a workflow graph.
package start

import (
	"context"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Node passes the execution context's variables through unchanged. Every
// graph begins here.
type Node struct{}

func (n *Node) Type() models.NodeType { return models.NodeTypeStart }

func (n *Node) Execute(_ context.Context, _ *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	return &models.NodeResult{
		Success: true,
		Output:  executionCtx.Variables,
	}, nil
}

// Factory builds start nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory { return &Factory{} }

func (f *Factory) Type() models.NodeType { return models.NodeTypeStart }
func (f *Factory) Name() string          { return "Start" }

func (f *Factory) Description() string {
	return "Entry point of the workflow. Emits the merged variables and trigger data."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{}, nil
}
