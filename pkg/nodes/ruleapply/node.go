// Package ruleapply implements the rule_apply node.
package ruleapply

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Node applies the configured rules to the email set matched upstream
// (the "email_ids" context variable written by email_filter nodes).
type Node struct {
	rules protocol.RuleEngine
}

func (n *Node) Type() models.NodeType { return models.NodeTypeRuleApply }

func (n *Node) Execute(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (*models.NodeResult, error) {
	ruleIDs := stringSlice(node.Config["rule_ids"])
	if len(ruleIDs) == 0 {
		return nil, fmt.Errorf("rule_apply node %s missing required field 'rule_ids'", node.ID)
	}

	emailIDs := stringSlice(executionCtx.Variables["email_ids"])

	application, err := n.rules.ApplyRules(ctx, executionCtx.UserID, ruleIDs, emailIDs)
	if err != nil {
		return nil, fmt.Errorf("rule application failed: %w", err)
	}

	return &models.NodeResult{
		Success: true,
		Output: map[string]any{
			"applied_rules":  application.AppliedRules,
			"affected_count": application.AffectedCount,
		},
	}, nil
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

// Factory builds rule_apply nodes around the rule engine collaborator.
type Factory struct {
	rules protocol.RuleEngine
}

func NewFactory(rules protocol.RuleEngine) protocol.NodeFactory {
	return &Factory{rules: rules}
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeRuleApply }
func (f *Factory) Name() string          { return "Apply Rules" }

func (f *Factory) Description() string {
	return "Applies stored rules to the email set matched by upstream filter nodes."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rule_ids": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
		},
		"required": []any{"rule_ids"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{rules: f.rules}, nil
}
