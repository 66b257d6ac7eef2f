// Package condition implements conditional branching for workflow graphs.
package condition

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
	"github.com/mailflow/mailflow/pkg/template"
)

// Node evaluates the configured expression against the execution context
// and reports the branch taken. The node's success mirrors the condition
// result so downstream "success"/"failure" connections route the
// true/false paths.
type Node struct{}

func (n *Node) Type() models.NodeType { return models.NodeTypeCondition }

func (n *Node) Execute(_ context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	expression, _ := node.Config["condition"].(string)
	if expression == "" {
		return nil, fmt.Errorf("condition node %s missing required field 'condition'", node.ID)
	}

	value, err := template.RenderWithContext(expression, executionCtx)
	if err != nil {
		return nil, fmt.Errorf("condition evaluation failed: %w", err)
	}

	result := template.Truthy(value)

	path := "false"
	if result {
		path = "true"
	}

	return &models.NodeResult{
		Success: result,
		Output: map[string]any{
			"condition_result": result,
			"path":             path,
		},
	}, nil
}

// Factory builds condition nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory { return &Factory{} }

func (f *Factory) Type() models.NodeType { return models.NodeTypeCondition }
func (f *Factory) Name() string          { return "Condition" }

func (f *Factory) Description() string {
	return "Evaluates an expression against the execution context and routes the true or false branch."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Expression to evaluate, e.g. `{{gt .variables.unread_count 10}}`.",
			},
		},
		"required": []any{"condition"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{}, nil
}
