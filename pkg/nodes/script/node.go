// Package script implements the custom_script node.
//
// Scripts are template expressions evaluated against a snapshot of the
// execution context, not arbitrary in-process code: they cannot touch
// process state, the filesystem or the network.
package script

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
	"github.com/mailflow/mailflow/pkg/template"
)

// Node evaluates a user-supplied expression. The result is stored under
// the configured output variable (default "result") in the context
// variables, so later nodes can consume it.
type Node struct{}

func (n *Node) Type() models.NodeType { return models.NodeTypeCustomScript }

func (n *Node) Execute(_ context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	body, _ := node.Config["script"].(string)
	if body == "" {
		return nil, fmt.Errorf("custom_script node %s missing required field 'script'", node.ID)
	}

	value, err := template.RenderWithContext(body, executionCtx)
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}

	outputVar, _ := node.Config["output_variable"].(string)
	if outputVar == "" {
		outputVar = "result"
	}

	executionCtx.Variables[outputVar] = value

	return &models.NodeResult{
		Success: true,
		Output:  map[string]any{outputVar: value},
	}, nil
}

// Factory builds custom_script nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory { return &Factory{} }

func (f *Factory) Type() models.NodeType { return models.NodeTypeCustomScript }
func (f *Factory) Name() string          { return "Custom Script" }

func (f *Factory) Description() string {
	return "Evaluates a sandboxed expression against the execution context and stores the result."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"script": map[string]any{
				"type":        "string",
				"description": "Expression body evaluated against variables, node results and trigger data.",
			},
			"output_variable": map[string]any{
				"type":        "string",
				"description": "Variable name the result is stored under. Defaults to 'result'.",
			},
		},
		"required": []any{"script"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{}, nil
}
