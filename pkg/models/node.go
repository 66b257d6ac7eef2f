package models

// NodeType is the closed enum of step kinds a workflow graph may contain.
type NodeType string

const (
	NodeTypeStart          NodeType = "start"
	NodeTypeEnd            NodeType = "end"
	NodeTypeEmailFilter    NodeType = "email_filter"
	NodeTypeBatchOperation NodeType = "batch_operation"
	NodeTypeCondition      NodeType = "condition"
	NodeTypeAction         NodeType = "action"
	NodeTypeDelay          NodeType = "delay"
	NodeTypeNotification   NodeType = "notification"
	NodeTypeRuleApply      NodeType = "rule_apply"
	NodeTypeCustomScript   NodeType = "custom_script"
)

// NodeTypes lists every valid node type.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeEmailFilter,
	NodeTypeBatchOperation,
	NodeTypeCondition,
	NodeTypeAction,
	NodeTypeDelay,
	NodeTypeNotification,
	NodeTypeRuleApply,
	NodeTypeCustomScript,
}

// IsValid reports whether t is a known node type.
func (t NodeType) IsValid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// WorkflowNode is one typed step in a workflow graph. Config is
// executor-specific and validated against the registered JSON schema for
// the node type, not at the graph level.
type WorkflowNode struct {
	ID        string         `json:"id"   validate:"required"`
	Type      NodeType       `json:"type" validate:"required"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
}

// NodeResult is what a node executor hands back to the traversal loop.
// Success drives "success"/"failure" connection conditions; Output is
// merged into the execution audit trail.
type NodeResult struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}
