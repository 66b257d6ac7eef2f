// Package events defines the execution lifecycle events published for
// downstream consumers (notification fan-out, search indexing, audit).
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mailflow/mailflow/pkg/models"
)

type EventType string

// Topic carries every engine event.
const Topic = "mailflow.workflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowTriggeredEvent EventType = "workflow.triggered"

	ExecutionStartedEvent   EventType = "workflow.execution.started"
	ExecutionCompletedEvent EventType = "workflow.execution.completed"
	ExecutionFailedEvent    EventType = "workflow.execution.failed"
	ExecutionCancelledEvent EventType = "workflow.execution.cancelled"
	ExecutionTimeoutEvent   EventType = "workflow.execution.timeout"

	NodeCompletedEvent EventType = "workflow.node.completed"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type WorkflowTriggered struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	TriggerData map[string]any     `json:"trigger_data,omitempty"`
}

func (e WorkflowTriggered) GetType() EventType { return WorkflowTriggeredEvent }

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type ExecutionTimeout struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	TimeoutAt   time.Time `json:"timeout_at"`
}

func (e ExecutionTimeout) GetType() EventType { return ExecutionTimeoutEvent }

type NodeCompleted struct {
	BaseEvent

	ExecutionID  string                     `json:"execution_id"`
	NodeID       string                     `json:"node_id"`
	NodeType     models.NodeType            `json:"node_type"`
	Status       models.NodeExecutionStatus `json:"status"`
	DurationMs   int64                      `json:"duration_ms"`
	ErrorMessage string                     `json:"error_message,omitempty"`
}

func (e NodeCompleted) GetType() EventType { return NodeCompletedEvent }
