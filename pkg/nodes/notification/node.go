// Package notification implements the notification node.
package notification

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
	"github.com/mailflow/mailflow/pkg/template"
)

// Node dispatches a notification through the delivery collaborator.
// Title and body support template expressions over the execution
// context.
type Node struct {
	notifier protocol.Notifier
}

func (n *Node) Type() models.NodeType { return models.NodeTypeNotification }

func (n *Node) Execute(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	title, err := renderString(node.Config["title"], executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render notification title: %w", err)
	}

	if title == "" {
		return nil, fmt.Errorf("notification node %s missing required field 'title'", node.ID)
	}

	body, err := renderString(node.Config["body"], executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render notification body: %w", err)
	}

	channel, _ := node.Config["channel"].(string)

	err = n.notifier.Notify(ctx, executionCtx.UserID, protocol.Notification{
		Title:   title,
		Body:    body,
		Channel: channel,
		Metadata: map[string]any{
			"workflow_id":  executionCtx.WorkflowID,
			"execution_id": executionCtx.ExecutionID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("notification dispatch failed: %w", err)
	}

	return &models.NodeResult{
		Success: true,
		Output: map[string]any{
			"title":   title,
			"channel": channel,
		},
	}, nil
}

func renderString(value any, executionCtx *models.ExecutionContext) (string, error) {
	raw, _ := value.(string)
	if raw == "" {
		return "", nil
	}

	rendered, err := template.RenderWithContext(raw, executionCtx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%v", rendered), nil
}

// Factory builds notification nodes around the notifier collaborator.
type Factory struct {
	notifier protocol.Notifier
}

func NewFactory(notifier protocol.Notifier) protocol.NodeFactory {
	return &Factory{notifier: notifier}
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeNotification }
func (f *Factory) Name() string          { return "Notification" }

func (f *Factory) Description() string {
	return "Dispatches a notification through the user's configured channels."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
			"channel": map[string]any{"type": "string"},
		},
		"required": []any{"title"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{notifier: f.notifier}, nil
}
