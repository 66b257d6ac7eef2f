package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the state machine of one workflow run:
// pending -> running -> (completed | failed | timeout), with cancelled
// reachable from pending or running only.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimeout, ExecutionStatusCancelled:
		return true
	}

	return false
}

// CanTransitionTo reports whether the status may move to next. Terminal
// states never transition; an execution id never moves backward.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next == ExecutionStatusCancelled
	case ExecutionStatusRunning:
		switch next {
		case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimeout, ExecutionStatusCancelled:
			return true
		}
	}

	return false
}

// ExecutionError is one entry of an execution's error detail trail.
type ExecutionError struct {
	Error     string    `json:"error"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowExecution is one run instance of a workflow.
type WorkflowExecution struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	UserID      string `json:"user_id"`

	Status      ExecutionStatus `json:"status"`
	TriggerType TriggerType     `json:"trigger_type"`
	TriggerData map[string]any  `json:"trigger_data,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TimeoutAt   time.Time  `json:"timeout_at"`
	CreatedAt   time.Time  `json:"created_at"`

	TotalNodes     int `json:"total_nodes"`
	CompletedNodes int `json:"completed_nodes"`
	FailedNodes    int `json:"failed_nodes"`

	Results      map[string]any   `json:"execution_results,omitempty"`
	OutputData   map[string]any   `json:"output_data,omitempty"`
	ErrorDetails []ExecutionError `json:"error_details,omitempty"`

	DurationMs int64 `json:"execution_duration_ms,omitempty"`
}

// NewExecutionID builds a globally unique execution id. The timestamp
// plus random suffix keeps retried runs of the same workflow apart.
func NewExecutionID(now time.Time) string {
	return fmt.Sprintf("exec-%d-%s", now.UnixMilli(), uuid.New().String()[:8])
}

// NodeExecutionStatus tracks one node visit inside one execution.
type NodeExecutionStatus string

const (
	NodeExecutionStatusRunning   NodeExecutionStatus = "running"
	NodeExecutionStatusCompleted NodeExecutionStatus = "completed"
	NodeExecutionStatusFailed    NodeExecutionStatus = "failed"
)

// WorkflowNodeExecution is the audit row written per node visited in one
// execution: created at node start, updated at node completion.
type WorkflowNodeExecution struct {
	ID           string              `json:"id"`
	ExecutionID  string              `json:"execution_id"`
	NodeID       string              `json:"node_id"`
	NodeType     NodeType            `json:"node_type"`
	Status       NodeExecutionStatus `json:"status"`
	InputData    map[string]any      `json:"input_data,omitempty"`
	OutputData   map[string]any      `json:"output_data,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	DurationMs   int64               `json:"execution_duration_ms,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}
