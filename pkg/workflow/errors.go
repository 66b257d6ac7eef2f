package workflow

import "errors"

var (
	// ErrWorkflowInactive is returned when a trigger hits a workflow
	// whose isActive flag is false.
	ErrWorkflowInactive = errors.New("workflow is not active")

	// ErrWorkflowIsTemplate is returned when a trigger hits a template
	// workflow. Templates must be cloned before they can run.
	ErrWorkflowIsTemplate = errors.New("workflow is a template and cannot be executed")

	// ErrTooManyExecutions is returned when the per-workflow concurrency
	// cap has been reached.
	ErrTooManyExecutions = errors.New("maximum concurrent executions reached")

	// ErrEmptyDefinition is returned when a workflow has no nodes to run.
	ErrEmptyDefinition = errors.New("workflow definition has no nodes")

	// ErrNoStartNode is returned when a definition has no start node to
	// begin traversal from.
	ErrNoStartNode = errors.New("workflow definition has no start node")
)

func IsWorkflowInactive(err error) bool {
	return errors.Is(err, ErrWorkflowInactive)
}

func IsTooManyExecutions(err error) bool {
	return errors.Is(err, ErrTooManyExecutions)
}
