// Package action implements the generic side-effecting action node.
package action

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Node dispatches an action keyed by config.action_type through the
// action collaborator.
type Node struct {
	dispatcher protocol.ActionDispatcher
}

func (n *Node) Type() models.NodeType { return models.NodeTypeAction }

func (n *Node) Execute(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	actionType, _ := node.Config["action_type"].(string)
	if actionType == "" {
		return nil, fmt.Errorf("action node %s missing required field 'action_type'", node.ID)
	}

	params, _ := node.Config["params"].(map[string]any)

	output, err := n.dispatcher.Dispatch(ctx, executionCtx.UserID, actionType, params)
	if err != nil {
		return nil, fmt.Errorf("action %q failed: %w", actionType, err)
	}

	if output == nil {
		output = map[string]any{}
	}

	output["action_type"] = actionType

	return &models.NodeResult{
		Success: true,
		Output:  output,
	}, nil
}

// Factory builds action nodes around the dispatcher collaborator.
type Factory struct {
	dispatcher protocol.ActionDispatcher
}

func NewFactory(dispatcher protocol.ActionDispatcher) protocol.NodeFactory {
	return &Factory{dispatcher: dispatcher}
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeAction }
func (f *Factory) Name() string          { return "Action" }

func (f *Factory) Description() string {
	return "Dispatches a generic side-effecting action keyed by action type."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action_type": map[string]any{"type": "string"},
			"params":      map[string]any{"type": "object"},
		},
		"required": []any{"action_type"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{dispatcher: f.dispatcher}, nil
}
