package models

import "strings"

// ConnectionCondition gates whether a connection is followed after its
// source node executes.
type ConnectionCondition string

const (
	// ConditionAlways (the empty string) follows the connection
	// unconditionally.
	ConditionAlways ConnectionCondition = ""
	// ConditionSuccess follows the connection iff the source node
	// reported success.
	ConditionSuccess ConnectionCondition = "success"
	// ConditionFailure follows the connection iff the source node
	// reported failure.
	ConditionFailure ConnectionCondition = "failure"

	// ExpressionPrefix marks a templated condition expression evaluated
	// against the execution context.
	ExpressionPrefix = "expr:"
)

// IsExpression reports whether the condition carries a template
// expression rather than a built-in keyword.
func (c ConnectionCondition) IsExpression() bool {
	return strings.HasPrefix(string(c), ExpressionPrefix)
}

// Expression returns the template body of an expression condition.
func (c ConnectionCondition) Expression() string {
	return strings.TrimPrefix(string(c), ExpressionPrefix)
}

// IsValid reports whether the condition is a known keyword or a marked
// expression. Anything else is rejected at definition validation time
// rather than silently treated as always-true.
func (c ConnectionCondition) IsValid() bool {
	switch c {
	case ConditionAlways, ConditionSuccess, ConditionFailure:
		return true
	}

	return c.IsExpression()
}

// Connection is a directed, optionally conditional edge between two nodes.
type Connection struct {
	ID        string              `json:"id"`
	From      string              `json:"from" validate:"required"`
	To        string              `json:"to"   validate:"required"`
	Condition ConnectionCondition `json:"condition,omitempty"`
	Label     string              `json:"label,omitempty"`
}
