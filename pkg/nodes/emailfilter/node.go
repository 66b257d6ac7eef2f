// Package emailfilter implements the email_filter node, delegating to
// the provider-facing email filtering collaborator.
package emailfilter

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Node matches emails against the node config used as filter criteria.
// The matched ids are also written to the "email_ids" context variable
// so rule_apply and batch_operation nodes downstream can pick them up.
type Node struct {
	filter protocol.EmailFilter
}

func (n *Node) Type() models.NodeType { return models.NodeTypeEmailFilter }

func (n *Node) Execute(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	result, err := n.filter.FilterEmails(ctx, executionCtx.UserID, node.Config)
	if err != nil {
		return nil, fmt.Errorf("email filter failed: %w", err)
	}

	executionCtx.Variables["email_ids"] = result.EmailIDs

	return &models.NodeResult{
		Success: true,
		Output: map[string]any{
			"email_ids": result.EmailIDs,
			"count":     result.Count,
		},
	}, nil
}

// Factory builds email_filter nodes around the filtering collaborator.
type Factory struct {
	filter protocol.EmailFilter
}

func NewFactory(filter protocol.EmailFilter) protocol.NodeFactory {
	return &Factory{filter: filter}
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeEmailFilter }
func (f *Factory) Name() string          { return "Email Filter" }

func (f *Factory) Description() string {
	return "Matches emails against filter criteria via the provider adapters."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"folder":    map[string]any{"type": "string"},
			"from":      map[string]any{"type": "string"},
			"subject":   map[string]any{"type": "string"},
			"is_unread": map[string]any{"type": "boolean"},
			"newer_than_days": map[string]any{
				"type":    "integer",
				"minimum": 0,
			},
		},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{filter: f.filter}, nil
}
