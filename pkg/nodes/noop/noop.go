// Package noop provides logging stand-ins for the external
// collaborators, used when a deployment has not wired the real services
// and in tests.
package noop

import (
	"context"
	"log/slog"

	"github.com/mailflow/mailflow/pkg/protocol"
	"github.com/mailflow/mailflow/pkg/registry"
)

// Collaborators builds a full set of logging no-op collaborators.
func Collaborators(logger *slog.Logger) registry.Collaborators {
	return registry.Collaborators{
		EmailFilter: &EmailFilter{logger: logger},
		Batches:     &BatchOperations{logger: logger},
		Rules:       &RuleEngine{logger: logger},
		Notifier:    &Notifier{logger: logger},
		Actions:     &ActionDispatcher{logger: logger},
	}
}

type EmailFilter struct{ logger *slog.Logger }

func (f *EmailFilter) FilterEmails(ctx context.Context, userID string, criteria map[string]any) (*protocol.FilterResult, error) {
	f.logger.InfoContext(ctx, "noop email filter", "user_id", userID, "criteria", criteria)

	return &protocol.FilterResult{EmailIDs: []string{}, Count: 0}, nil
}

type BatchOperations struct{ logger *slog.Logger }

func (b *BatchOperations) CreateBatchOperation(ctx context.Context, ownerID, label, operationType string, targetItems []string, _ map[string]any) (*protocol.BatchOperation, error) {
	b.logger.InfoContext(ctx, "noop batch operation",
		"owner_id", ownerID,
		"label", label,
		"operation_type", operationType,
		"target_count", len(targetItems),
	)

	return &protocol.BatchOperation{ID: "noop", Status: "completed"}, nil
}

type RuleEngine struct{ logger *slog.Logger }

func (r *RuleEngine) ApplyRules(ctx context.Context, userID string, ruleIDs, emailIDs []string) (*protocol.RuleApplication, error) {
	r.logger.InfoContext(ctx, "noop rule application",
		"user_id", userID,
		"rule_count", len(ruleIDs),
		"email_count", len(emailIDs),
	)

	return &protocol.RuleApplication{AppliedRules: ruleIDs, AffectedCount: 0}, nil
}

type Notifier struct{ logger *slog.Logger }

func (n *Notifier) Notify(ctx context.Context, userID string, notification protocol.Notification) error {
	n.logger.InfoContext(ctx, "noop notification", "user_id", userID, "title", notification.Title)

	return nil
}

type ActionDispatcher struct{ logger *slog.Logger }

func (a *ActionDispatcher) Dispatch(ctx context.Context, userID, actionType string, params map[string]any) (map[string]any, error) {
	a.logger.InfoContext(ctx, "noop action dispatch", "user_id", userID, "action_type", actionType)

	return map[string]any{"dispatched": true, "params": params}, nil
}
