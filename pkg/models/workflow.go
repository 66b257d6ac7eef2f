// Package models defines the core domain models for the email automation workflow engine.
package models

import "time"

// Workflow is a user-owned automation definition: a node graph plus the
// trigger and execution policy governing its runs.
type Workflow struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"     validate:"required"`
	Name        string              `json:"name"        validate:"required,min=3"`
	Description string              `json:"description"`
	Version     int                 `json:"version"`
	Trigger     TriggerConfig       `json:"trigger_config"`
	Definition  *WorkflowDefinition `json:"workflow_definition"`
	Execution   ExecutionConfig     `json:"execution_config"`
	Stats       WorkflowStats       `json:"stats"`
	IsActive    bool                `json:"is_active"`
	IsTemplate  bool                `json:"is_template"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	DeletedAt   *time.Time          `json:"deleted_at,omitempty"`
}

// WorkflowDefinition is the executable graph.
type WorkflowDefinition struct {
	Nodes       []*WorkflowNode `json:"nodes"`
	Connections []*Connection   `json:"connections"`
	Variables   map[string]any  `json:"variables"`
}

// NodeByID returns the node with the given id, or nil.
func (d *WorkflowDefinition) NodeByID(id string) *WorkflowNode {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// StartNode returns the first node of type start, or nil.
func (d *WorkflowDefinition) StartNode() *WorkflowNode {
	for _, node := range d.Nodes {
		if node.Type == NodeTypeStart {
			return node
		}
	}

	return nil
}

// ConnectionsFrom returns all connections leaving the given node.
func (d *WorkflowDefinition) ConnectionsFrom(nodeID string) []*Connection {
	connections := make([]*Connection, 0)

	for _, connection := range d.Connections {
		if connection.From == nodeID {
			connections = append(connections, connection)
		}
	}

	return connections
}

// ExecutionConfig bounds how runs of a workflow behave.
type ExecutionConfig struct {
	TimeoutSeconds          int `json:"timeout_seconds"`
	MaxConcurrentExecutions int `json:"max_concurrent_executions"`
	RetryCount              int `json:"retry_count"`
	RetryDelaySeconds       int `json:"retry_delay_seconds"`
}

const (
	DefaultTimeoutSeconds          = 300
	DefaultMaxConcurrentExecutions = 3
	DefaultRetryCount              = 3
	DefaultRetryDelaySeconds       = 5
)

// WithDefaults fills unset fields with engine defaults.
func (c ExecutionConfig) WithDefaults() ExecutionConfig {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.MaxConcurrentExecutions <= 0 {
		c.MaxConcurrentExecutions = DefaultMaxConcurrentExecutions
	}

	if c.RetryCount < 0 {
		c.RetryCount = DefaultRetryCount
	}

	if c.RetryDelaySeconds <= 0 {
		c.RetryDelaySeconds = DefaultRetryDelaySeconds
	}

	return c
}

// WorkflowStats holds the aggregate counters updated by the orchestrator
// after an execution terminates. Increments happen at the storage layer,
// never read-modify-write in application code.
type WorkflowStats struct {
	TotalExecutions      int64      `json:"total_executions"`
	SuccessfulExecutions int64      `json:"successful_executions"`
	FailedExecutions     int64      `json:"failed_executions"`
	LastExecutionAt      *time.Time `json:"last_execution_at,omitempty"`
}
