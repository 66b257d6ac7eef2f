package persistence

import "errors"

var (
	// ErrWorkflowNotFound is returned when a workflow does not exist or
	// was soft deleted.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound is returned when an execution record does not
	// exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNodeExecutionNotFound is returned when a node audit row does
	// not exist.
	ErrNodeExecutionNotFound = errors.New("node execution not found")

	// ErrInvalidTransition is returned when a status write would move an
	// execution backward.
	ErrInvalidTransition = errors.New("invalid execution status transition")
)

// IsWorkflowNotFound checks if an error indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
