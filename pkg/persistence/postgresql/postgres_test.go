//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestDB(t *testing.T) *Persistence {
	t.Helper()

	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("mailflow_test"),
			postgres.WithUsername("mailflow"),
			postgres.WithPassword("mailflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	return p
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(context.Background(),
		"TRUNCATE TABLE workflow_node_executions, workflow_executions, workflows")
	require.NoError(t, err)
}

func sampleWorkflow(id string) *models.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Workflow{
		ID:      id,
		UserID:  "user-1",
		Name:    "Inbox cleanup",
		Version: 1,
		Trigger: models.TriggerConfig{
			Type:     models.TriggerTypeScheduled,
			Schedule: &models.ScheduleTriggerConfig{CronExpr: "0 9 * * *"},
		},
		Definition: &models.WorkflowDefinition{
			Nodes: []*models.WorkflowNode{
				{ID: "start-1", Type: models.NodeTypeStart},
				{ID: "end-1", Type: models.NodeTypeEnd},
			},
			Connections: []*models.Connection{{ID: "c1", From: "start-1", To: "end-1"}},
			Variables:   map[string]any{"label": "inbox"},
		},
		Execution: models.ExecutionConfig{}.WithDefaults(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleExecution(workflowID, executionID string) *models.WorkflowExecution {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.WorkflowExecution{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      "user-1",
		Status:      models.ExecutionStatusPending,
		TriggerType: models.TriggerTypeManual,
		TriggerData: map[string]any{"source": "test"},
		TimeoutAt:   now.Add(5 * time.Minute),
		CreatedAt:   now,
		TotalNodes:  2,
	}
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()

	wf := sampleWorkflow("")
	require.NoError(t, p.Workflows().Save(ctx, wf))
	require.NotEmpty(t, wf.ID, "save assigns an id")

	stored, err := p.Workflows().GetByID(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.Equal(t, wf.Name, stored.Name)
	assert.Equal(t, models.TriggerTypeScheduled, stored.Trigger.Type)
	assert.Equal(t, "0 9 * * *", stored.Trigger.Schedule.CronExpr)
	assert.Len(t, stored.Definition.Nodes, 2)
	assert.Equal(t, "inbox", stored.Definition.Variables["label"])

	// Absent id reads as nil, nil.
	missing, err := p.Workflows().GetByID(ctx, "0198d2a0-0000-7000-8000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowRepository_ListAndStats(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()

	first := sampleWorkflow("")
	require.NoError(t, p.Workflows().Save(ctx, first))

	second := sampleWorkflow("")
	second.Name = "Newsletter triage"
	second.IsActive = false
	require.NoError(t, p.Workflows().Save(ctx, second))

	listed, err := p.Workflows().List(ctx, persistence.ListWorkflowsOptions{UserID: "user-1", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(2), listed.TotalCount)

	scheduled, err := p.Workflows().ListActiveScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, first.ID, scheduled[0].ID)

	now := time.Now().UTC()
	require.NoError(t, p.Workflows().IncrementStats(ctx, first.ID, true, now))
	require.NoError(t, p.Workflows().IncrementStats(ctx, first.ID, false, now))

	stats, err := p.Workflows().UserStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.WorkflowCount)
	assert.Equal(t, int64(1), stats.ActiveCount)
	assert.Equal(t, int64(2), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
	assert.Equal(t, int64(1), stats.FailedExecutions)
}

func TestExecutionRepository_StatusTransitions(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()

	wf := sampleWorkflow("")
	require.NoError(t, p.Workflows().Save(ctx, wf))

	execution := sampleExecution(wf.ID, models.NewExecutionID(time.Now()))
	require.NoError(t, p.Executions().Create(ctx, execution))

	active, err := p.Executions().CountActive(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	claimed, err := p.Executions().MarkRunning(ctx, execution.ExecutionID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses the compare-and-set.
	claimed, err = p.Executions().MarkRunning(ctx, execution.ExecutionID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, p.Executions().IncrementNodeCounters(ctx, execution.ExecutionID, false))
	require.NoError(t, p.Executions().IncrementNodeCounters(ctx, execution.ExecutionID, true))

	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &completedAt
	execution.CompletedNodes = 1
	execution.FailedNodes = 1
	execution.OutputData = map[string]any{"label": "inbox"}
	execution.DurationMs = 42

	finished, err := p.Executions().Finish(ctx, execution)
	require.NoError(t, err)
	assert.True(t, finished)

	// Terminal is written exactly once.
	finished, err = p.Executions().Finish(ctx, execution)
	require.NoError(t, err)
	assert.False(t, finished)

	stored, err := p.Executions().GetByExecutionID(ctx, execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.CompletedNodes)
	assert.Equal(t, 1, stored.FailedNodes)
	assert.Equal(t, int64(42), stored.DurationMs)
	assert.Equal(t, "inbox", stored.OutputData["label"])

	active, err = p.Executions().CountActive(ctx, wf.ID)
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestExecutionRepository_CancelAndOverdue(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()

	wf := sampleWorkflow("")
	require.NoError(t, p.Workflows().Save(ctx, wf))

	pending := sampleExecution(wf.ID, models.NewExecutionID(time.Now()))
	require.NoError(t, p.Executions().Create(ctx, pending))

	overdue := sampleExecution(wf.ID, models.NewExecutionID(time.Now()))
	overdue.TimeoutAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, p.Executions().Create(ctx, overdue))
	_, err := p.Executions().MarkRunning(ctx, overdue.ExecutionID, time.Now().UTC())
	require.NoError(t, err)

	listed, err := p.Executions().ListOverdue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, overdue.ExecutionID, listed[0].ExecutionID)

	cancelled, err := p.Executions().CancelByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	// Everything is terminal now; a second sweep cancels nothing.
	cancelled, err = p.Executions().CancelByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Zero(t, cancelled)
}

func TestNodeExecutionRepository_AuditTrail(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()

	wf := sampleWorkflow("")
	require.NoError(t, p.Workflows().Save(ctx, wf))

	execution := sampleExecution(wf.ID, models.NewExecutionID(time.Now()))
	require.NoError(t, p.Executions().Create(ctx, execution))

	row := &models.WorkflowNodeExecution{
		ExecutionID: execution.ExecutionID,
		NodeID:      "start-1",
		NodeType:    models.NodeTypeStart,
		Status:      models.NodeExecutionStatusRunning,
		InputData:   map[string]any{"label": "inbox"},
		StartedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, p.NodeExecutions().Create(ctx, row))
	require.NotEmpty(t, row.ID)

	completedAt := time.Now().UTC().Truncate(time.Millisecond)
	row.Status = models.NodeExecutionStatusCompleted
	row.OutputData = map[string]any{"ok": true}
	row.CompletedAt = &completedAt
	row.DurationMs = 5
	require.NoError(t, p.NodeExecutions().Update(ctx, row))

	rows, err := p.NodeExecutions().ListByExecution(ctx, execution.ExecutionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NodeExecutionStatusCompleted, rows[0].Status)
	assert.Equal(t, true, rows[0].OutputData["ok"])
	assert.Equal(t, int64(5), rows[0].DurationMs)
}
