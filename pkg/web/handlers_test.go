package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/nodes/noop"
	"github.com/mailflow/mailflow/pkg/persistence/memory"
	"github.com/mailflow/mailflow/pkg/queue"
	"github.com/mailflow/mailflow/pkg/registry"
	"github.com/mailflow/mailflow/pkg/services"
	"github.com/mailflow/mailflow/pkg/web"
	"github.com/mailflow/mailflow/pkg/workflow"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.Workflow) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()

	reg := registry.NewRegistry(logger)
	registry.RegisterBuiltinNodes(reg, noop.Collaborators(logger))

	manager := workflow.NewManager(store, queue.NewMemoryQueue(1), nil, logger)
	workflowService := services.NewWorkflow(store, reg, nil, logger)
	executionService := services.NewExecution(store, manager, logger)

	handlers := web.NewAPIHandlers(workflowService, executionService, reg)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Post("/:id/clone", handlers.CreateFromTemplate)

	e := app.Group("/executions")
	e.Get("/:executionId", handlers.GetExecution)
	e.Post("/:executionId/cancel", handlers.CancelExecution)
	e.Get("/:executionId/nodes", handlers.GetNodeExecutions)

	app.Get("/node-types", handlers.GetNodeTypes)

	return app, workflowService
}

func workflowDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Nodes: []*models.WorkflowNode{
			{ID: "start-1", Type: models.NodeTypeStart, Name: "Start"},
			{ID: "end-1", Type: models.NodeTypeEnd, Name: "End"},
		},
		Connections: []*models.Connection{
			{ID: "c1", From: "start-1", To: "end-1"},
		},
	}
}

func createTestWorkflow(t *testing.T, service *services.Workflow, userID string) *models.Workflow {
	t.Helper()

	created, err := service.CreateWorkflow(t.Context(), services.CreateWorkflowRequest{
		UserID:     userID,
		Name:       "Inbox cleanup",
		Trigger:    models.TriggerConfig{Type: models.TriggerTypeManual},
		Definition: workflowDefinition(),
		IsActive:   true,
	})
	require.NoError(t, err)

	return created
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		body           web.CreateWorkflowBody
		expectedStatus int
	}{
		{
			name:   "successful creation",
			userID: "user-1",
			body: web.CreateWorkflowBody{
				Name:       "Inbox cleanup",
				Trigger:    models.TriggerConfig{Type: models.TriggerTypeManual},
				Definition: workflowDefinition(),
				IsActive:   true,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:   "missing user header",
			userID: "",
			body: web.CreateWorkflowBody{
				Name:       "Inbox cleanup",
				Trigger:    models.TriggerConfig{Type: models.TriggerTypeManual},
				Definition: workflowDefinition(),
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "definition without end node",
			userID: "user-1",
			body: web.CreateWorkflowBody{
				Name:    "Broken",
				Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
				Definition: &models.WorkflowDefinition{
					Nodes: []*models.WorkflowNode{
						{ID: "start-1", Type: models.NodeTypeStart},
					},
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "name too short",
			userID: "user-1",
			body: web.CreateWorkflowBody{
				Name:       "ab",
				Trigger:    models.TriggerConfig{Type: models.TriggerTypeManual},
				Definition: workflowDefinition(),
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := setupTestApp(t)

			payload, err := json.Marshal(tt.body)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewBuffer(payload))
			req.Header.Set("Content-Type", "application/json")

			if tt.userID != "" {
				req.Header.Set(web.UserIDHeader, tt.userID)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)

			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)

				var created models.Workflow

				require.NoError(t, json.Unmarshal(body, &created))
				assert.Equal(t, "Inbox cleanup", created.Name)
				assert.Equal(t, "user-1", created.UserID)
				assert.NotEmpty(t, created.ID)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflow(t *testing.T) {
	app, workflowService := setupTestApp(t)
	created := createTestWorkflow(t, workflowService, "user-1")

	t.Run("owner reads own workflow", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflows/"+created.ID, nil)
		req.Header.Set(web.UserIDHeader, "user-1")

		resp, err := app.Test(req)
		require.NoError(t, err)

		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("foreign workflow reads as not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflows/"+created.ID, nil)
		req.Header.Set(web.UserIDHeader, "user-2")

		resp, err := app.Test(req)
		require.NoError(t, err)

		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("missing user header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflows/"+created.ID, nil)

		resp, err := app.Test(req)
		require.NoError(t, err)

		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	app, workflowService := setupTestApp(t)
	created := createTestWorkflow(t, workflowService, "user-1")

	newName := "Renamed cleanup"
	payload, err := json.Marshal(web.UpdateWorkflowBody{Name: &newName})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/workflows/"+created.ID, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.UserIDHeader, "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var updated models.Workflow

	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, newName, updated.Name)
	assert.Equal(t, created.Version+1, updated.Version)
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	app, workflowService := setupTestApp(t)
	created := createTestWorkflow(t, workflowService, "user-1")

	req := httptest.NewRequest(http.MethodDelete, "/workflows/"+created.ID, nil)
	req.Header.Set(web.UserIDHeader, "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getReq := httptest.NewRequest(http.MethodGet, "/workflows/"+created.ID, nil)
	getReq.Header.Set(web.UserIDHeader, "user-1")

	getResp, err := app.Test(getReq)
	require.NoError(t, err)

	defer getResp.Body.Close()

	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	app, workflowService := setupTestApp(t)
	created := createTestWorkflow(t, workflowService, "user-1")

	payload, err := json.Marshal(web.ExecuteWorkflowBody{
		TriggerData: map[string]any{"source": "api"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/execute", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.UserIDHeader, "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var execution models.WorkflowExecution

	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, created.ID, execution.WorkflowID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.NotEmpty(t, execution.ExecutionID)
}

func TestAPIHandlers_ExecuteInactiveWorkflow(t *testing.T) {
	app, workflowService := setupTestApp(t)
	created := createTestWorkflow(t, workflowService, "user-1")

	inactive := false
	_, err := workflowService.UpdateWorkflow(t.Context(), services.UpdateWorkflowRequest{
		ID:       created.ID,
		UserID:   "user-1",
		IsActive: &inactive,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/execute", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.UserIDHeader, "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	app, workflowService := setupTestApp(t)
	created := createTestWorkflow(t, workflowService, "user-1")

	payload := bytes.NewBufferString("{}")
	execReq := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/execute", payload)
	execReq.Header.Set("Content-Type", "application/json")
	execReq.Header.Set(web.UserIDHeader, "user-1")

	execResp, err := app.Test(execReq)
	require.NoError(t, err)

	defer execResp.Body.Close()

	require.Equal(t, http.StatusAccepted, execResp.StatusCode)

	body, err := io.ReadAll(execResp.Body)
	require.NoError(t, err)

	var execution models.WorkflowExecution

	require.NoError(t, json.Unmarshal(body, &execution))

	req := httptest.NewRequest(http.MethodPost, "/executions/"+execution.ExecutionID+"/cancel", nil)
	req.Header.Set(web.UserIDHeader, "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancelBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]any

	require.NoError(t, json.Unmarshal(cancelBody, &result))
	assert.Equal(t, true, result["cancelled"])
}

func TestAPIHandlers_CreateFromTemplate(t *testing.T) {
	app, workflowService := setupTestApp(t)

	template, err := workflowService.CreateWorkflow(t.Context(), services.CreateWorkflowRequest{
		UserID:     "user-1",
		Name:       "Starter template",
		Trigger:    models.TriggerConfig{Type: models.TriggerTypeManual},
		Definition: workflowDefinition(),
		IsTemplate: true,
	})
	require.NoError(t, err)

	payload, err := json.Marshal(web.CreateFromTemplateBody{Name: "My copy"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows/"+template.ID+"/clone", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.UserIDHeader, "user-2")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var clone models.Workflow

	require.NoError(t, json.Unmarshal(body, &clone))
	assert.Equal(t, "My copy", clone.Name)
	assert.Equal(t, "user-2", clone.UserID)
	assert.False(t, clone.IsTemplate)
	assert.False(t, clone.IsActive)
}

func TestAPIHandlers_GetNodeTypes(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/node-types", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result struct {
		NodeTypes []string `json:"node_types"`
	}

	require.NoError(t, json.Unmarshal(body, &result))
	assert.Len(t, result.NodeTypes, 10)
	assert.Contains(t, result.NodeTypes, string(models.NodeTypeStart))
}
