package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/nodes/noop"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/persistence/memory"
	"github.com/mailflow/mailflow/pkg/queue"
	"github.com/mailflow/mailflow/pkg/registry"
)

type testEngine struct {
	persistence persistence.Persistence
	queue       *queue.MemoryQueue
	manager     *Manager
	executor    *Executor
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	jobQueue := queue.NewMemoryQueue(1)
	t.Cleanup(func() { _ = jobQueue.Stop(context.Background()) })

	reg := registry.NewRegistry(logger)
	registry.RegisterBuiltinNodes(reg, noop.Collaborators(logger))

	return &testEngine{
		persistence: store,
		queue:       jobQueue,
		manager:     NewManager(store, jobQueue, nil, logger),
		executor:    NewExecutor("worker-test", store, reg, nil, logger),
	}
}

func (e *testEngine) saveWorkflow(t *testing.T, wf *models.Workflow) {
	t.Helper()
	require.NoError(t, e.persistence.Workflows().Save(t.Context(), wf))
}

// trigger admits a run and returns a job shaped like the queue would
// deliver it, so tests can drive the executor synchronously.
func (e *testEngine) trigger(t *testing.T, workflowID string) (*models.WorkflowExecution, *queue.ExecuteWorkflowJob) {
	t.Helper()

	execution, err := e.manager.Trigger(t.Context(), TriggerRequest{
		WorkflowID:  workflowID,
		TriggerType: models.TriggerTypeManual,
	})
	require.NoError(t, err)

	return execution, &queue.ExecuteWorkflowJob{
		ID:          "job-" + execution.ExecutionID,
		ExecutionID: execution.ExecutionID,
		WorkflowID:  workflowID,
		UserID:      execution.UserID,
		MaxAttempts: 1,
	}
}

func linearWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:      "wf-linear",
		UserID:  "user-1",
		Name:    "Uppercase label",
		Version: 1,
		Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
		Definition: &models.WorkflowDefinition{
			Nodes: []*models.WorkflowNode{
				{ID: "start-1", Type: models.NodeTypeStart, Name: "Start"},
				{ID: "script-1", Type: models.NodeTypeCustomScript, Name: "Uppercase", Config: map[string]any{
					"script":          "{{ upper .variables.label }}",
					"output_variable": "label_upper",
				}},
				{ID: "end-1", Type: models.NodeTypeEnd, Name: "End"},
			},
			Connections: []*models.Connection{
				{ID: "c1", From: "start-1", To: "script-1"},
				{ID: "c2", From: "script-1", To: "end-1"},
			},
			Variables: map[string]any{"label": "inbox"},
		},
		Execution: models.ExecutionConfig{}.WithDefaults(),
		IsActive:  true,
	}
}

func TestExecutor_LinearGraphCompletes(t *testing.T) {
	engine := newTestEngine(t)
	engine.saveWorkflow(t, linearWorkflow())

	execution, job := engine.trigger(t, "wf-linear")

	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	stored, err := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.CompletedNodes)
	assert.Equal(t, 0, stored.FailedNodes)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, "INBOX", stored.OutputData["label_upper"])

	// One audit row per visited node, all completed.
	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for _, row := range rows {
		assert.Equal(t, models.NodeExecutionStatusCompleted, row.Status)
		assert.NotNil(t, row.CompletedAt)
	}

	// Workflow counters reflect the one successful run.
	wf, err := engine.persistence.Workflows().GetByID(t.Context(), "wf-linear")
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.Stats.TotalExecutions)
	assert.Equal(t, int64(1), wf.Stats.SuccessfulExecutions)
	assert.Equal(t, int64(0), wf.Stats.FailedExecutions)
}

func TestExecutor_ConditionRoutesFailureBranchOnly(t *testing.T) {
	wf := &models.Workflow{
		ID:      "wf-branch",
		UserID:  "user-1",
		Name:    "Branching",
		Version: 1,
		Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
		Definition: &models.WorkflowDefinition{
			Nodes: []*models.WorkflowNode{
				{ID: "start-1", Type: models.NodeTypeStart},
				{ID: "cond-1", Type: models.NodeTypeCondition, Config: map[string]any{
					"condition": "{{ gt .variables.unread 100.0 }}",
				}},
				{ID: "hot-path", Type: models.NodeTypeCustomScript, Config: map[string]any{
					"script": "hot", "output_variable": "taken",
				}},
				{ID: "cold-path", Type: models.NodeTypeCustomScript, Config: map[string]any{
					"script": "cold", "output_variable": "taken",
				}},
				{ID: "end-1", Type: models.NodeTypeEnd},
			},
			Connections: []*models.Connection{
				{ID: "c1", From: "start-1", To: "cond-1"},
				{ID: "c2", From: "cond-1", To: "hot-path", Condition: models.ConditionSuccess},
				{ID: "c3", From: "cond-1", To: "cold-path", Condition: models.ConditionFailure},
				{ID: "c4", From: "hot-path", To: "end-1"},
				{ID: "c5", From: "cold-path", To: "end-1"},
			},
			Variables: map[string]any{"unread": 7},
		},
		Execution: models.ExecutionConfig{}.WithDefaults(),
		IsActive:  true,
	}

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-branch")
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	stored, err := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, "cold", stored.OutputData["taken"])

	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)

	visited := make(map[string]bool, len(rows))
	for _, row := range rows {
		visited[row.NodeID] = true
	}

	assert.True(t, visited["cold-path"])
	assert.False(t, visited["hot-path"], "success branch must not run when the condition is false")
}

func TestExecutor_DiamondGraphVisitsJoinOnce(t *testing.T) {
	wf := &models.Workflow{
		ID:      "wf-diamond",
		UserID:  "user-1",
		Name:    "Diamond",
		Version: 1,
		Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
		Definition: &models.WorkflowDefinition{
			Nodes: []*models.WorkflowNode{
				{ID: "start-1", Type: models.NodeTypeStart},
				{ID: "left", Type: models.NodeTypeCustomScript, Config: map[string]any{"script": "l", "output_variable": "left"}},
				{ID: "right", Type: models.NodeTypeCustomScript, Config: map[string]any{"script": "r", "output_variable": "right"}},
				{ID: "end-1", Type: models.NodeTypeEnd},
			},
			Connections: []*models.Connection{
				{ID: "c1", From: "start-1", To: "left"},
				{ID: "c2", From: "start-1", To: "right"},
				{ID: "c3", From: "left", To: "end-1"},
				{ID: "c4", From: "right", To: "end-1"},
			},
		},
		Execution: models.ExecutionConfig{}.WithDefaults(),
		IsActive:  true,
	}

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-diamond")
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)

	endVisits := 0
	for _, row := range rows {
		if row.NodeID == "end-1" {
			endVisits++
		}
	}

	assert.Equal(t, 1, endVisits, "join node must execute exactly once")
	assert.Len(t, rows, 4)
}

func TestExecutor_CyclicGraphTerminates(t *testing.T) {
	wf := linearWorkflow()
	wf.ID = "wf-cycle"
	// Close a loop back into the script node.
	wf.Definition.Connections = append(wf.Definition.Connections,
		&models.Connection{ID: "c-back", From: "end-1", To: "script-1"})

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-cycle")

	done := make(chan error, 1)
	go func() { done <- engine.executor.ProcessJob(context.Background(), job) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("traversal did not terminate on a cyclic graph")
	}

	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, rows, 3, "each node runs at most once per attempt")
}

func TestExecutor_EndNodeTerminatesItsBranch(t *testing.T) {
	wf := linearWorkflow()
	wf.ID = "wf-past-end"
	// A stray edge out of the end node must not be followed.
	wf.Definition.Nodes = append(wf.Definition.Nodes,
		&models.WorkflowNode{ID: "after-end", Type: models.NodeTypeCustomScript, Config: map[string]any{
			"script": "never", "output_variable": "leaked",
		}})
	wf.Definition.Connections = append(wf.Definition.Connections,
		&models.Connection{ID: "c-stray", From: "end-1", To: "after-end"})

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-past-end")
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for _, row := range rows {
		assert.NotEqual(t, "after-end", row.NodeID, "nodes behind an end node must not run")
	}

	stored, err := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.NotContains(t, stored.OutputData, "leaked")
}

func TestExecutor_CancelledBeforePickupRunsNothing(t *testing.T) {
	engine := newTestEngine(t)
	engine.saveWorkflow(t, linearWorkflow())

	execution, job := engine.trigger(t, "wf-linear")

	cancelled, err := engine.manager.Cancel(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	stored, err := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)

	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Empty(t, rows, "a cancelled execution must not run any node")
}

func TestExecutor_NodeErrorFailsExecutionOnFinalAttempt(t *testing.T) {
	wf := linearWorkflow()
	wf.ID = "wf-broken"
	// Unparseable script makes the node error out.
	wf.Definition.Nodes[1].Config = map[string]any{"script": "{{ .variables.label"}

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-broken")

	err := engine.executor.ProcessJob(t.Context(), job)
	require.Error(t, err)

	stored, getErr := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorDetails)
	assert.Contains(t, stored.ErrorDetails[0].Error, "script-1")

	wfStored, err := engine.persistence.Workflows().GetByID(t.Context(), "wf-broken")
	require.NoError(t, err)
	assert.Equal(t, int64(1), wfStored.Stats.TotalExecutions)
	assert.Equal(t, int64(1), wfStored.Stats.FailedExecutions)
}

func TestExecutor_NodeErrorStaysRunningWithAttemptsLeft(t *testing.T) {
	wf := linearWorkflow()
	wf.ID = "wf-retryable"
	wf.Definition.Nodes[1].Config = map[string]any{"script": "{{ .variables.label"}

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-retryable")
	job.MaxAttempts = 3

	require.Error(t, engine.executor.ProcessJob(t.Context(), job))

	stored, err := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status,
		"the terminal failure is only written once attempts are exhausted")

	// The retry delivery re-runs the graph; fixing the workflow in
	// between lets it complete.
	fixed, err := engine.persistence.Workflows().GetByID(t.Context(), "wf-retryable")
	require.NoError(t, err)
	fixed.Definition.Nodes[1].Config = map[string]any{"script": "ok", "output_variable": "result"}
	require.NoError(t, engine.persistence.Workflows().Save(t.Context(), fixed))

	job.Attempt = 1
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	stored, err = engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestExecutor_RetryCountsProgressFromScratch(t *testing.T) {
	wf := linearWorkflow()
	wf.ID = "wf-recount"
	wf.Definition.Nodes[1].Config = map[string]any{"script": "{{ .variables.label"}

	engine := newTestEngine(t)
	engine.saveWorkflow(t, wf)

	execution, job := engine.trigger(t, "wf-recount")
	job.MaxAttempts = 2

	// First attempt completes the start node, then fails on the script.
	require.Error(t, engine.executor.ProcessJob(t.Context(), job))

	fixed, err := engine.persistence.Workflows().GetByID(t.Context(), "wf-recount")
	require.NoError(t, err)
	fixed.Definition.Nodes[1].Config = map[string]any{"script": "ok", "output_variable": "result"}
	require.NoError(t, engine.persistence.Workflows().Save(t.Context(), fixed))

	job.Attempt = 1
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	stored, err := engine.persistence.Executions().GetByExecutionID(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)

	// Counters reflect the successful attempt only, not the sum of both.
	assert.Equal(t, 3, stored.CompletedNodes)
	assert.Equal(t, 0, stored.FailedNodes)
	assert.LessOrEqual(t, stored.CompletedNodes+stored.FailedNodes, stored.TotalNodes)
}

func TestExecutor_DuplicateDeliveryIsNoOp(t *testing.T) {
	engine := newTestEngine(t)
	engine.saveWorkflow(t, linearWorkflow())

	execution, job := engine.trigger(t, "wf-linear")
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))
	require.NoError(t, engine.executor.ProcessJob(t.Context(), job))

	rows, err := engine.persistence.NodeExecutions().ListByExecution(t.Context(), execution.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, rows, 3, "a duplicate delivery of a finished execution must not re-run nodes")

	wf, err := engine.persistence.Workflows().GetByID(t.Context(), "wf-linear")
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.Stats.TotalExecutions)
}

func TestExecutor_ConcurrentRunsKeepCountersConsistent(t *testing.T) {
	engine := newTestEngine(t)

	wf := linearWorkflow()
	wf.Execution.MaxConcurrentExecutions = 16
	engine.saveWorkflow(t, wf)

	const runs = 10

	jobs := make([]*queue.ExecuteWorkflowJob, 0, runs)
	for i := 0; i < runs; i++ {
		_, job := engine.trigger(t, "wf-linear")
		jobs = append(jobs, job)
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)

		go func(j *queue.ExecuteWorkflowJob) {
			defer wg.Done()
			_ = engine.executor.ProcessJob(context.Background(), j)
		}(job)
	}
	wg.Wait()

	wfStored, err := engine.persistence.Workflows().GetByID(t.Context(), "wf-linear")
	require.NoError(t, err)
	assert.Equal(t, int64(runs), wfStored.Stats.TotalExecutions)
	assert.Equal(t, int64(runs), wfStored.Stats.SuccessfulExecutions+wfStored.Stats.FailedExecutions)
}
