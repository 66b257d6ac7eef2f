// Package services provides the application service layer between the
// HTTP surface and the engine: request validation, definition checks
// and standardized error types.
package services

import (
	"errors"
	"fmt"

	"github.com/mailflow/mailflow/pkg/workflow"
)

// Business logic errors indicating client mistakes (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrEmptyUserID      = errors.New("user ID cannot be empty")

	// Definition validation errors (400 Bad Request).
	ErrWorkflowNameRequired  = errors.New("workflow name is required")
	ErrNodesRequired         = errors.New("workflow must have at least one node")
	ErrStartNodeRequired     = errors.New("workflow must have exactly one start node")
	ErrEndNodeRequired       = errors.New("workflow must have at least one end node")
	ErrDuplicateNodeID       = errors.New("duplicate node id in definition")
	ErrUnknownNodeType       = errors.New("unknown node type")
	ErrDanglingConnection    = errors.New("connection references a node not in the definition")
	ErrInvalidCondition      = errors.New("unknown connection condition")
	ErrInvalidNodeConfig     = errors.New("invalid node configuration")
	ErrInvalidTriggerConfig  = errors.New("invalid trigger configuration")

	// Business logic conflicts (409 Conflict).
	ErrTemplateNotExecutable = errors.New("template workflows cannot be executed")
	ErrTemplateNotEditable   = errors.New("template workflows cannot be updated in place")
	ErrNotATemplate          = errors.New("workflow is not a template")
	ErrVersionConflict       = errors.New("workflow was modified concurrently")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks whether an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrEmptyUserID) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrStartNodeRequired) ||
		errors.Is(err, ErrEndNodeRequired) ||
		errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrUnknownNodeType) ||
		errors.Is(err, ErrDanglingConnection) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrInvalidNodeConfig) ||
		errors.Is(err, ErrInvalidTriggerConfig)
}

// IsConflictError checks whether an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrTemplateNotExecutable) ||
		errors.Is(err, ErrTemplateNotEditable) ||
		errors.Is(err, ErrNotATemplate) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, workflow.ErrWorkflowInactive) ||
		errors.Is(err, workflow.ErrWorkflowIsTemplate)
}

// IsTooManyExecutions checks whether an error should map to HTTP 429.
func IsTooManyExecutions(err error) bool {
	return workflow.IsTooManyExecutions(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
