// Package web provides HTTP handlers and REST API endpoints for
// workflow and execution management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/registry"
	"github.com/mailflow/mailflow/pkg/services"
)

// UserIDHeader carries the authenticated user identity set by the
// upstream gateway.
const UserIDHeader = "X-User-ID"

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	registry         *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		registry:         registry,
	}
}

func userID(c fiber.Ctx) string {
	return c.Get(UserIDHeader)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	req, err := h.parseListWorkflowsRequest(c, uid)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx, uid string) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{UserID: uid}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if activeStr := c.Query("is_active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.IsActive = &active
	}

	if triggerStr := c.Query("trigger_type"); triggerStr != "" {
		trigger := models.TriggerType(triggerStr)
		req.Trigger = &trigger
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

// CreateWorkflowBody is the JSON payload for creating a workflow.
type CreateWorkflowBody struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Trigger     models.TriggerConfig       `json:"trigger_config"`
	Definition  *models.WorkflowDefinition `json:"workflow_definition"`
	Execution   models.ExecutionConfig     `json:"execution_config"`
	IsActive    bool                       `json:"is_active"`
	IsTemplate  bool                       `json:"is_template"`
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	var body CreateWorkflowBody
	if err := c.Bind().Body(&body); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	workflow, err := h.workflowService.CreateWorkflow(c.Context(), services.CreateWorkflowRequest{
		UserID:      uid,
		Name:        body.Name,
		Description: body.Description,
		Trigger:     body.Trigger,
		Definition:  body.Definition,
		Execution:   body.Execution,
		IsActive:    body.IsActive,
		IsTemplate:  body.IsTemplate,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.GetWorkflow(c.Context(), id, uid)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// UpdateWorkflowBody is the JSON payload for a partial workflow update.
type UpdateWorkflowBody struct {
	Name        *string                    `json:"name,omitempty"`
	Description *string                    `json:"description,omitempty"`
	Trigger     *models.TriggerConfig      `json:"trigger_config,omitempty"`
	Definition  *models.WorkflowDefinition `json:"workflow_definition,omitempty"`
	Execution   *models.ExecutionConfig    `json:"execution_config,omitempty"`
	IsActive    *bool                      `json:"is_active,omitempty"`
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var body UpdateWorkflowBody
	if err := c.Bind().Body(&body); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	workflow, err := h.workflowService.UpdateWorkflow(c.Context(), services.UpdateWorkflowRequest{
		ID:          id,
		UserID:      uid,
		Name:        body.Name,
		Description: body.Description,
		Trigger:     body.Trigger,
		Definition:  body.Definition,
		Execution:   body.Execution,
		IsActive:    body.IsActive,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflowService.DeleteWorkflow(c.Context(), id, uid); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CreateFromTemplateBody is the JSON payload for cloning a template.
type CreateFromTemplateBody struct {
	Name string `json:"name"`
}

func (h *APIHandlers) CreateFromTemplate(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	templateID := c.Params("id")
	if templateID == "" {
		return badRequest(c, "Template ID is required")
	}

	var body CreateFromTemplateBody
	if err := c.Bind().Body(&body); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	workflow, err := h.workflowService.CreateFromTemplate(c.Context(), templateID, uid, body.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// ExecuteWorkflowBody is the JSON payload for a manual execution.
type ExecuteWorkflowBody struct {
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	DelaySeconds int            `json:"delay_seconds,omitempty"`
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var body ExecuteWorkflowBody
	if err := c.Bind().Body(&body); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	execution, err := h.executionService.ExecuteWorkflow(c.Context(), services.ExecuteWorkflowRequest{
		WorkflowID:  id,
		UserID:      uid,
		TriggerData: body.TriggerData,
		Priority:    body.Priority,
		Delay:       time.Duration(body.DelaySeconds) * time.Second,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	req := services.ListExecutionsRequest{
		UserID:     uid,
		WorkflowID: c.Query("workflow_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		req.Status = &status
	}

	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return badRequest(c, "Invalid since timestamp: "+err.Error())
		}

		req.Since = &since
	}

	if untilStr := c.Query("until"); untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return badRequest(c, "Invalid until timestamp: "+err.Error())
		}

		req.Until = &until
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+err.Error())
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "Invalid offset: "+err.Error())
		}

		req.Offset = offset
	}

	result, err := h.executionService.ListExecutions(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":    result.Executions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	executionID := c.Params("executionId")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.GetExecution(c.Context(), executionID, uid)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	executionID := c.Params("executionId")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	cancelled, err := h.executionService.CancelExecution(c.Context(), executionID, uid)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution_id": executionID,
		"cancelled":    cancelled,
	})
}

func (h *APIHandlers) GetNodeExecutions(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	executionID := c.Params("executionId")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	nodeExecutions, err := h.executionService.ListNodeExecutions(c.Context(), executionID, uid)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution_id":    executionID,
		"node_executions": nodeExecutions,
	})
}

func (h *APIHandlers) GetUserStats(c fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return unauthorized(c, "Missing "+UserIDHeader+" header")
	}

	stats, err := h.workflowService.UserStats(c.Context(), uid)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"node_types": h.registry.Types(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOK := h.workflowService.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if !repOK {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"persistence": repositoryCheck,
		},
	})
}
