package models

// ExecutionContext is the mutable state threaded through one graph walk:
// the workflow variables merged with trigger data, plus the per-node
// results accumulated so far.
type ExecutionContext struct {
	ExecutionID string                `json:"execution_id"`
	WorkflowID  string                `json:"workflow_id"`
	UserID      string                `json:"user_id"`
	TriggerData map[string]any        `json:"trigger_data,omitempty"`
	Variables   map[string]any        `json:"variables,omitempty"`
	NodeResults map[string]NodeResult `json:"node_results,omitempty"`
}

// NewExecutionContext merges workflow variables with trigger data;
// trigger data wins on key collision.
func NewExecutionContext(execution *WorkflowExecution, definition *WorkflowDefinition) *ExecutionContext {
	variables := make(map[string]any, len(definition.Variables)+len(execution.TriggerData))

	for k, v := range definition.Variables {
		variables[k] = v
	}

	for k, v := range execution.TriggerData {
		variables[k] = v
	}

	return &ExecutionContext{
		ExecutionID: execution.ExecutionID,
		WorkflowID:  execution.WorkflowID,
		UserID:      execution.UserID,
		TriggerData: execution.TriggerData,
		Variables:   variables,
		NodeResults: make(map[string]NodeResult),
	}
}
