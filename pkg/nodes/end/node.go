// Package end implements the terminal node of a workflow graph.
package end

import (
	"context"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Node marks a successful leaf; traversal stops here.
type Node struct{}

func (n *Node) Type() models.NodeType { return models.NodeTypeEnd }

func (n *Node) Execute(_ context.Context, _ *models.WorkflowNode, _ *models.ExecutionContext) (*models.NodeResult, error) {
	return &models.NodeResult{
		Success: true,
		Output:  map[string]any{"completed": true},
	}, nil
}

// Factory builds end nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory { return &Factory{} }

func (f *Factory) Type() models.NodeType { return models.NodeTypeEnd }
func (f *Factory) Name() string          { return "End" }

func (f *Factory) Description() string {
	return "Terminates a traversal branch successfully."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{}, nil
}
