package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mailflow/mailflow/pkg/eventbus"
	"github.com/mailflow/mailflow/pkg/events"
	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/otelhelper"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/queue"
	"github.com/mailflow/mailflow/pkg/registry"
	"github.com/mailflow/mailflow/pkg/template"
)

// Executor is the worker-side half of the engine: it picks jobs off the
// queue, claims the execution record and walks the node graph depth
// first, writing one audit row per node visited.
type Executor struct {
	workerID    string
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewExecutor(
	workerID string,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		workerID:    workerID,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		logger:      logger.With("module", "workflow_executor", "worker_id", workerID),
		tracer:      noop.NewTracerProvider().Tracer("workflow_executor"),
	}
}

// WithTracer replaces the no-op tracer installed by NewExecutor.
func (e *Executor) WithTracer(tracer trace.Tracer) *Executor {
	e.tracer = tracer
	return e
}

// Handler adapts the executor to the queue's consumer contract.
func (e *Executor) Handler() queue.Handler {
	return e.ProcessJob
}

// ProcessJob runs one delivery of an execute-workflow job. A returned
// error makes the queue retry the whole graph from the start node; on
// the job's final attempt the execution is marked failed before the
// error is returned.
func (e *Executor) ProcessJob(ctx context.Context, job *queue.ExecuteWorkflowJob) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.WorkerIDKey, e.workerID))
	defer span.End()

	execution, err := e.persistence.Executions().GetByExecutionID(ctx, job.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", job.ExecutionID, err)
	}

	if execution == nil {
		return fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, job.ExecutionID)
	}

	switch execution.Status {
	case models.ExecutionStatusCancelled:
		e.logger.InfoContext(ctx, "Skipping cancelled execution", "execution_id", job.ExecutionID)
		return nil
	case models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusTimeout:
		// Duplicate delivery after the record already terminated.
		e.logger.InfoContext(ctx, "Skipping terminal execution",
			"execution_id", job.ExecutionID, "status", execution.Status)
		return nil
	case models.ExecutionStatusPending:
		startedAt := time.Now().UTC()

		claimed, err := e.persistence.Executions().MarkRunning(ctx, job.ExecutionID, startedAt)
		if err != nil {
			return fmt.Errorf("failed to claim execution %s: %w", job.ExecutionID, err)
		}

		if !claimed {
			// Lost the race: cancelled or picked up elsewhere.
			e.logger.InfoContext(ctx, "Execution already claimed", "execution_id", job.ExecutionID)
			return nil
		}

		execution.Status = models.ExecutionStatusRunning
		execution.StartedAt = &startedAt

		e.publish(ctx, execution.WorkflowID, events.ExecutionStarted{
			BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
			ExecutionID: execution.ExecutionID,
		})
	case models.ExecutionStatusRunning:
		// A retry attempt of a job whose earlier traversal failed. The
		// record stays running between attempts; re-run from the start.
		if job.Attempt == 0 {
			e.logger.WarnContext(ctx, "Execution already running, skipping duplicate delivery",
				"execution_id", job.ExecutionID)
			return nil
		}

		// The re-run counts progress from scratch, or counters would
		// accumulate across attempts and exceed the node total.
		execution.CompletedNodes = 0
		execution.FailedNodes = 0

		if err := e.persistence.Executions().ResetNodeCounters(ctx, job.ExecutionID); err != nil {
			return fmt.Errorf("failed to reset node counters for %s: %w", job.ExecutionID, err)
		}
	}

	workflow, err := e.persistence.Workflows().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	if workflow == nil || workflow.Definition == nil {
		e.finishFailed(ctx, execution, fmt.Errorf("workflow %s no longer exists", execution.WorkflowID), "")
		return nil
	}

	e.logger.InfoContext(ctx, "Executing workflow",
		"workflow_id", workflow.ID,
		"execution_id", execution.ExecutionID,
		"attempt", job.Attempt,
		"total_nodes", execution.TotalNodes)

	executionCtx := models.NewExecutionContext(execution, workflow.Definition)

	traversalErr := e.traverse(ctx, workflow, execution, executionCtx)
	if traversalErr != nil {
		finalAttempt := job.Attempt+1 >= job.MaxAttempts
		if finalAttempt {
			e.finishFailed(ctx, execution, traversalErr, "")
		} else {
			e.logger.WarnContext(ctx, "Execution attempt failed, retrying",
				"execution_id", execution.ExecutionID,
				"attempt", job.Attempt,
				"max_attempts", job.MaxAttempts,
				"error", traversalErr)
		}

		return traversalErr
	}

	e.finishCompleted(ctx, execution, executionCtx)

	return nil
}

// traverse walks the graph depth first from the start node. Each node
// is visited at most once per attempt; connections whose condition does
// not hold are not followed.
func (e *Executor) traverse(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	executionCtx *models.ExecutionContext,
) error {
	definition := workflow.Definition

	start := definition.StartNode()
	if start == nil {
		return ErrNoStartNode
	}

	stack := []string{start.ID}
	visited := make(map[string]bool, len(definition.Nodes))

	for len(stack) > 0 {
		nodeID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[nodeID] {
			continue
		}

		visited[nodeID] = true

		node := definition.NodeByID(nodeID)
		if node == nil {
			return fmt.Errorf("connection references unknown node %q", nodeID)
		}

		result, err := e.executeNode(ctx, workflow, execution, node, executionCtx)
		if err != nil {
			execution.FailedNodes++
			return err
		}

		execution.CompletedNodes++
		executionCtx.NodeResults[node.ID] = *result

		// An end node terminates its branch; its out-edges, if the
		// definition carries any, are not followed.
		if node.Type == models.NodeTypeEnd {
			continue
		}

		next := make([]string, 0)

		for _, connection := range definition.ConnectionsFrom(node.ID) {
			follow, err := e.evaluateCondition(connection, result, executionCtx)
			if err != nil {
				return fmt.Errorf("connection %s -> %s: %w", connection.From, connection.To, err)
			}

			if follow {
				next = append(next, connection.To)
			}
		}

		// Reverse push so the first connection is walked first.
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}

	return nil
}

// evaluateCondition decides whether a connection is followed given the
// source node's result. Unknown condition values are an error, not a
// silent skip.
func (e *Executor) evaluateCondition(
	connection *models.Connection,
	result *models.NodeResult,
	executionCtx *models.ExecutionContext,
) (bool, error) {
	condition := connection.Condition

	switch {
	case condition == models.ConditionAlways:
		return true, nil
	case condition == models.ConditionSuccess:
		return result.Success, nil
	case condition == models.ConditionFailure:
		return !result.Success, nil
	case condition.IsExpression():
		value, err := template.RenderWithContext(connection.Condition.Expression(), executionCtx)
		if err != nil {
			return false, fmt.Errorf("failed to evaluate condition expression: %w", err)
		}

		return template.Truthy(value), nil
	default:
		return false, fmt.Errorf("unknown connection condition %q", condition)
	}
}

// executeNode runs one node inside its audit envelope: a node execution
// row created before the executor runs and completed after, with
// duration and output or error captured.
func (e *Executor) executeNode(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	executionCtx *models.ExecutionContext,
) (*models.NodeResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node.execute",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)))
	defer span.End()

	startedAt := time.Now().UTC()
	nodeExecution := &models.WorkflowNodeExecution{
		ExecutionID: execution.ExecutionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.NodeExecutionStatusRunning,
		InputData:   maps.Clone(executionCtx.Variables),
		StartedAt:   startedAt,
	}

	if err := e.persistence.NodeExecutions().Create(ctx, nodeExecution); err != nil {
		return nil, fmt.Errorf("failed to create node execution for %s: %w", node.ID, err)
	}

	result, execErr := e.runNode(ctx, node, executionCtx)

	completedAt := time.Now().UTC()
	nodeExecution.CompletedAt = &completedAt
	nodeExecution.DurationMs = completedAt.Sub(startedAt).Milliseconds()

	if execErr != nil {
		nodeExecution.Status = models.NodeExecutionStatusFailed
		nodeExecution.ErrorMessage = execErr.Error()
	} else {
		nodeExecution.Status = models.NodeExecutionStatusCompleted
		nodeExecution.OutputData = result.Output
	}

	if err := e.persistence.NodeExecutions().Update(ctx, nodeExecution); err != nil {
		e.logger.ErrorContext(ctx, "Failed to update node execution",
			"execution_id", execution.ExecutionID, "node_id", node.ID, "error", err)
	}

	failed := execErr != nil
	if err := e.persistence.Executions().IncrementNodeCounters(ctx, execution.ExecutionID, failed); err != nil {
		e.logger.ErrorContext(ctx, "Failed to increment node counters",
			"execution_id", execution.ExecutionID, "error", err)
	}

	e.publish(ctx, execution.WorkflowID, events.NodeCompleted{
		BaseEvent:    e.baseEvent(events.NodeCompletedEvent, execution.WorkflowID),
		ExecutionID:  execution.ExecutionID,
		NodeID:       node.ID,
		NodeType:     node.Type,
		Status:       nodeExecution.Status,
		DurationMs:   nodeExecution.DurationMs,
		ErrorMessage: nodeExecution.ErrorMessage,
	})

	if execErr != nil {
		return nil, fmt.Errorf("node %s (%s) failed: %w", node.ID, node.Type, execErr)
	}

	e.logger.DebugContext(ctx, "Node completed",
		"workflow_id", workflow.ID,
		"execution_id", execution.ExecutionID,
		"node_id", node.ID,
		"node_type", node.Type,
		"duration_ms", nodeExecution.DurationMs)

	return result, nil
}

func (e *Executor) runNode(
	ctx context.Context,
	node *models.WorkflowNode,
	executionCtx *models.ExecutionContext,
) (*models.NodeResult, error) {
	nodeExecutor, err := e.registry.CreateExecutor(ctx, node.Type)
	if err != nil {
		return nil, err
	}

	result, err := nodeExecutor.Execute(ctx, node, executionCtx)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &models.NodeResult{Success: true}
	}

	return result, nil
}

func (e *Executor) finishCompleted(
	ctx context.Context,
	execution *models.WorkflowExecution,
	executionCtx *models.ExecutionContext,
) {
	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &completedAt

	if execution.StartedAt != nil {
		execution.DurationMs = completedAt.Sub(*execution.StartedAt).Milliseconds()
	}

	execution.OutputData = executionCtx.Variables
	execution.Results = make(map[string]any, len(executionCtx.NodeResults))

	for nodeID, result := range executionCtx.NodeResults {
		execution.Results[nodeID] = result
	}

	finished, err := e.persistence.Executions().Finish(ctx, execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to finish execution",
			"execution_id", execution.ExecutionID, "error", err)
		return
	}

	if !finished {
		// Cancelled or timed out while the traversal ran; that terminal
		// state stands.
		e.logger.WarnContext(ctx, "Execution no longer running at completion",
			"execution_id", execution.ExecutionID)
		return
	}

	if err := e.persistence.Workflows().IncrementStats(ctx, execution.WorkflowID, true, completedAt); err != nil {
		e.logger.ErrorContext(ctx, "Failed to increment workflow stats",
			"workflow_id", execution.WorkflowID, "error", err)
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ExecutionID,
		"duration_ms", execution.DurationMs,
		"completed_nodes", execution.CompletedNodes)

	e.publish(ctx, execution.WorkflowID, events.ExecutionCompleted{
		BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ExecutionID,
		Output:      execution.OutputData,
		DurationMs:  execution.DurationMs,
	})
}

func (e *Executor) finishFailed(ctx context.Context, execution *models.WorkflowExecution, cause error, nodeID string) {
	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &completedAt

	if execution.StartedAt != nil {
		execution.DurationMs = completedAt.Sub(*execution.StartedAt).Milliseconds()
	}

	execution.ErrorDetails = append(execution.ErrorDetails, models.ExecutionError{
		Error:     cause.Error(),
		NodeID:    nodeID,
		Timestamp: completedAt,
	})

	finished, err := e.persistence.Executions().Finish(ctx, execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark execution failed",
			"execution_id", execution.ExecutionID, "error", err)
		return
	}

	if !finished {
		e.logger.WarnContext(ctx, "Execution no longer running at failure",
			"execution_id", execution.ExecutionID)
		return
	}

	if err := e.persistence.Workflows().IncrementStats(ctx, execution.WorkflowID, false, completedAt); err != nil {
		e.logger.ErrorContext(ctx, "Failed to increment workflow stats",
			"workflow_id", execution.WorkflowID, "error", err)
	}

	e.logger.ErrorContext(ctx, "Execution failed",
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ExecutionID,
		"error", cause)

	e.publish(ctx, execution.WorkflowID, events.ExecutionFailed{
		BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ExecutionID,
		Error:       cause.Error(),
		DurationMs:  execution.DurationMs,
	})
}

func (e *Executor) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = e.workerID

	return base
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
