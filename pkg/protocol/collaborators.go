package protocol

import "context"

// The interfaces below are the narrow seams to services outside the
// engine: provider email adapters, the rule engine and notification
// delivery live behind them.

// EmailFilter matches emails against executor-supplied criteria.
type EmailFilter interface {
	FilterEmails(ctx context.Context, userID string, criteria map[string]any) (*FilterResult, error)
}

// FilterResult is the matched email set returned by an email_filter node.
type FilterResult struct {
	EmailIDs []string `json:"email_ids"`
	Count    int      `json:"count"`
}

// BatchOperations creates and runs batch jobs over target emails.
type BatchOperations interface {
	CreateBatchOperation(ctx context.Context, ownerID, label, operationType string, targetItems []string, config map[string]any) (*BatchOperation, error)
}

// BatchOperation is the handle returned by the batch operation service.
type BatchOperation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RuleEngine applies stored rules to a set of emails.
type RuleEngine interface {
	ApplyRules(ctx context.Context, userID string, ruleIDs, emailIDs []string) (*RuleApplication, error)
}

// RuleApplication summarizes a rule_apply node's effect.
type RuleApplication struct {
	AppliedRules  []string `json:"applied_rules"`
	AffectedCount int      `json:"affected_count"`
}

// Notifier dispatches a notification through the delivery channels
// configured for the user.
type Notifier interface {
	Notify(ctx context.Context, userID string, notification Notification) error
}

// Notification is the payload handed to the notification collaborator.
type Notification struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Channel  string         `json:"channel,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionDispatcher executes generic side-effecting actions keyed by
// action type, for action nodes.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, userID, actionType string, params map[string]any) (map[string]any, error)
}
