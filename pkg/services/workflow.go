package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/registry"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

var validate = validator.New()

// SchedulerRegistrar is the scheduler surface the service notifies when
// a scheduled workflow is created, updated or removed. May be nil in
// processes that do not run the cron runner.
type SchedulerRegistrar interface {
	Register(wf *models.Workflow) error
	Unregister(workflowID string)
}

// Workflow is the application service for workflow definitions.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	scheduler   SchedulerRegistrar
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. scheduler may be nil.
func NewWorkflow(
	persistence persistence.Persistence,
	registry *registry.Registry,
	scheduler SchedulerRegistrar,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    registry,
		scheduler:   scheduler,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateWorkflowRequest contains the payload for creating a workflow.
type CreateWorkflowRequest struct {
	UserID      string `validate:"required"`
	Name        string `validate:"required,min=3,max=255"`
	Description string
	Trigger     models.TriggerConfig
	Definition  *models.WorkflowDefinition
	Execution   models.ExecutionConfig
	IsActive    bool
	IsTemplate  bool
}

// CreateWorkflow validates and stores a new workflow at version 1.
func (w *Workflow) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := validate.Struct(req); err != nil {
		return nil, NewValidationError("CreateWorkflow", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	if err := w.validateDefinition(req.Definition); err != nil {
		return nil, err
	}

	if err := req.Trigger.Validate(); err != nil {
		return nil, NewValidationError("CreateWorkflow", "INVALID_TRIGGER", err.Error(), ErrInvalidTriggerConfig)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow ID: %w", err)
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:          id.String(),
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
		Version:     1,
		Trigger:     req.Trigger,
		Definition:  req.Definition,
		Execution:   req.Execution.WithDefaults(),
		IsActive:    req.IsActive,
		IsTemplate:  req.IsTemplate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", workflow.ID, "user_id", workflow.UserID, "name", workflow.Name)

	w.syncSchedule(workflow)

	return workflow, nil
}

// GetWorkflow loads one workflow scoped to its owner. A workflow owned
// by someone else reads as not found.
func (w *Workflow) GetWorkflow(ctx context.Context, id, userID string) (*models.Workflow, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	workflow, err := w.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil || workflow.UserID != userID {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	UserID string `validate:"required"`

	IsActive *bool
	Trigger  *models.TriggerType

	Limit  int
	Offset int

	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListRequest(&req); err != nil {
		return nil, err
	}

	result, err := w.persistence.Workflows().List(ctx, persistence.ListWorkflowsOptions{
		UserID:    req.UserID,
		IsActive:  req.IsActive,
		Trigger:   req.Trigger,
		Limit:     req.Limit,
		Offset:    req.Offset,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: int64(req.Offset+req.Limit) < result.TotalCount,
	}, nil
}

// UpdateWorkflowRequest contains the partial payload for updating a
// workflow. Nil fields keep their current value.
type UpdateWorkflowRequest struct {
	ID     string `validate:"required"`
	UserID string `validate:"required"`

	Name        *string
	Description *string
	Trigger     *models.TriggerConfig
	Definition  *models.WorkflowDefinition
	Execution   *models.ExecutionConfig
	IsActive    *bool
}

// UpdateWorkflow applies a partial update and bumps the version.
// Templates cannot be updated in place; clone them first.
func (w *Workflow) UpdateWorkflow(ctx context.Context, req UpdateWorkflowRequest) (*models.Workflow, error) {
	if err := validate.Struct(req); err != nil {
		return nil, NewValidationError("UpdateWorkflow", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	workflow, err := w.GetWorkflow(ctx, req.ID, req.UserID)
	if err != nil {
		return nil, err
	}

	if workflow.IsTemplate {
		return nil, ErrTemplateNotEditable
	}

	if req.Name != nil {
		if len(*req.Name) < 3 {
			return nil, NewValidationError("UpdateWorkflow", "INVALID_NAME",
				"workflow name must be at least 3 characters", ErrWorkflowNameRequired)
		}

		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	if req.Definition != nil {
		if err := w.validateDefinition(req.Definition); err != nil {
			return nil, err
		}

		workflow.Definition = req.Definition
	}

	if req.Trigger != nil {
		if err := req.Trigger.Validate(); err != nil {
			return nil, NewValidationError("UpdateWorkflow", "INVALID_TRIGGER", err.Error(), ErrInvalidTriggerConfig)
		}

		workflow.Trigger = *req.Trigger
	}

	if req.Execution != nil {
		workflow.Execution = req.Execution.WithDefaults()
	}

	if req.IsActive != nil {
		workflow.IsActive = *req.IsActive
	}

	workflow.Version++
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated",
		"workflow_id", workflow.ID, "version", workflow.Version)

	w.syncSchedule(workflow)

	return workflow, nil
}

// DeleteWorkflow soft deletes the workflow after cancelling every
// non-terminal execution and disarming its schedule.
func (w *Workflow) DeleteWorkflow(ctx context.Context, id, userID string) error {
	workflow, err := w.GetWorkflow(ctx, id, userID)
	if err != nil {
		return err
	}

	cancelled, err := w.persistence.Executions().CancelByWorkflow(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to cancel executions: %w", err)
	}

	if err := w.persistence.Workflows().Delete(ctx, workflow.ID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if w.scheduler != nil {
		w.scheduler.Unregister(workflow.ID)
	}

	w.logger.InfoContext(ctx, "Workflow deleted",
		"workflow_id", workflow.ID, "cancelled_executions", cancelled)

	return nil
}

// CreateFromTemplate clones a template into a runnable workflow owned
// by the caller, with fresh identity, version 1 and zeroed counters.
func (w *Workflow) CreateFromTemplate(ctx context.Context, templateID, userID, name string) (*models.Workflow, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	template, err := w.persistence.Workflows().GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if template == nil {
		return nil, ErrWorkflowNotFound
	}

	if !template.IsTemplate {
		return nil, ErrNotATemplate
	}

	if name == "" {
		name = template.Name
	}

	return w.CreateWorkflow(ctx, CreateWorkflowRequest{
		UserID:      userID,
		Name:        name,
		Description: template.Description,
		Trigger:     template.Trigger,
		Definition:  template.Definition,
		Execution:   template.Execution,
		IsActive:    false,
		IsTemplate:  false,
	})
}

// UserStats aggregates workflow counters for one user.
func (w *Workflow) UserStats(ctx context.Context, userID string) (*persistence.UserWorkflowStats, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	stats, err := w.persistence.Workflows().UserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user stats: %w", err)
	}

	return stats, nil
}

// validateDefinition enforces the structural rules of a runnable graph:
// exactly one start node, at least one end node, unique node ids, known
// node types with schema-valid configs, and connections that reference
// existing nodes with known conditions.
func (w *Workflow) validateDefinition(definition *models.WorkflowDefinition) error {
	if definition == nil || len(definition.Nodes) == 0 {
		return ErrNodesRequired
	}

	nodeIDs := make(map[string]bool, len(definition.Nodes))
	startCount := 0
	endCount := 0

	for _, node := range definition.Nodes {
		if node.ID == "" {
			return NewValidationError("validateDefinition", "INVALID_NODE",
				"node id is required", ErrInvalidNodeConfig)
		}

		if nodeIDs[node.ID] {
			return NewValidationError("validateDefinition", "DUPLICATE_NODE_ID",
				fmt.Sprintf("duplicate node id %q", node.ID), ErrDuplicateNodeID)
		}

		nodeIDs[node.ID] = true

		if !node.Type.IsValid() {
			return NewValidationError("validateDefinition", "UNKNOWN_NODE_TYPE",
				fmt.Sprintf("node %q has unknown type %q", node.ID, node.Type), ErrUnknownNodeType)
		}

		switch node.Type {
		case models.NodeTypeStart:
			startCount++
		case models.NodeTypeEnd:
			endCount++
		}

		if w.registry != nil {
			if err := w.registry.ValidateConfig(node.Type, node.Config); err != nil {
				return NewValidationError("validateDefinition", "INVALID_NODE_CONFIG",
					fmt.Sprintf("node %q: %v", node.ID, err), ErrInvalidNodeConfig)
			}
		}
	}

	if startCount != 1 {
		return NewValidationError("validateDefinition", "START_NODE_REQUIRED",
			fmt.Sprintf("workflow must have exactly one start node, found %d", startCount), ErrStartNodeRequired)
	}

	if endCount == 0 {
		return ErrEndNodeRequired
	}

	for _, connection := range definition.Connections {
		if !nodeIDs[connection.From] {
			return NewValidationError("validateDefinition", "DANGLING_CONNECTION",
				fmt.Sprintf("connection source %q is not a node in the definition", connection.From), ErrDanglingConnection)
		}

		if !nodeIDs[connection.To] {
			return NewValidationError("validateDefinition", "DANGLING_CONNECTION",
				fmt.Sprintf("connection target %q is not a node in the definition", connection.To), ErrDanglingConnection)
		}

		if !connection.Condition.IsValid() {
			return NewValidationError("validateDefinition", "INVALID_CONDITION",
				fmt.Sprintf("connection %s -> %s has unknown condition %q",
					connection.From, connection.To, connection.Condition), ErrInvalidCondition)
		}
	}

	return nil
}

func (w *Workflow) validateListRequest(req *ListWorkflowsRequest) error {
	if req.UserID == "" {
		return ErrEmptyUserID
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}
	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError("validateListRequest", "INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field %q, allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError("validateListRequest", "INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order %q, allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder)
	}

	return nil
}

// syncSchedule keeps the cron registrar in step with the workflow's
// current trigger and active flag.
func (w *Workflow) syncSchedule(workflow *models.Workflow) {
	if w.scheduler == nil {
		return
	}

	if workflow.IsActive && !workflow.IsTemplate && workflow.Trigger.Type == models.TriggerTypeScheduled {
		if err := w.scheduler.Register(workflow); err != nil {
			w.logger.Error("Failed to register workflow schedule",
				"workflow_id", workflow.ID, "error", err)
		}

		return
	}

	w.scheduler.Unregister(workflow.ID)
}
