// Package memory provides an in-memory persistence implementation used
// by tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
)

// Persistence keeps all records in process memory behind one mutex.
type Persistence struct {
	mu             sync.RWMutex
	workflows      map[string]*models.Workflow
	executions     map[string]*models.WorkflowExecution
	nodeExecutions map[string][]*models.WorkflowNodeExecution
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:      make(map[string]*models.Workflow),
		executions:     make(map[string]*models.WorkflowExecution),
		nodeExecutions: make(map[string][]*models.WorkflowNodeExecution),
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository           { return &workflowRepo{p} }
func (p *Persistence) Executions() persistence.ExecutionRepository        { return &executionRepo{p} }
func (p *Persistence) NodeExecutions() persistence.NodeExecutionRepository { return &nodeExecutionRepo{p} }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

// clone round-trips a record through JSON so callers never share memory
// with the store. This also mirrors the JSON-column behavior of the SQL
// backend.
func clone[T any](in *T) *T {
	if in == nil {
		return nil
	}

	raw, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("memory persistence clone: %v", err))
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Sprintf("memory persistence clone: %v", err))
	}

	return out
}

type workflowRepo struct{ p *Persistence }

func (r *workflowRepo) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.workflows[workflow.ID] = clone(workflow)

	return nil
}

func (r *workflowRepo) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil, nil
	}

	return clone(workflow), nil
}

func (r *workflowRepo) List(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matched := make([]*models.Workflow, 0)

	for _, workflow := range r.p.workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		if opts.UserID != "" && workflow.UserID != opts.UserID {
			continue
		}

		if opts.IsActive != nil && workflow.IsActive != *opts.IsActive {
			continue
		}

		if opts.Trigger != nil && workflow.Trigger.Type != *opts.Trigger {
			continue
		}

		matched = append(matched, workflow)
	}

	sort.Slice(matched, func(i, j int) bool {
		if opts.SortBy == "name" {
			if opts.SortOrder == "asc" {
				return matched[i].Name < matched[j].Name
			}

			return matched[i].Name > matched[j].Name
		}

		if opts.SortOrder == "asc" {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}

		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	page := make([]*models.Workflow, 0, len(matched))
	for _, workflow := range matched {
		page = append(page, clone(workflow))
	}

	return &persistence.ListWorkflowsResult{Workflows: page, TotalCount: total}, nil
}

func (r *workflowRepo) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return persistence.ErrWorkflowNotFound
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return nil
}

func (r *workflowRepo) ListActiveScheduled(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	scheduled := make([]*models.Workflow, 0)

	for _, workflow := range r.p.workflows {
		if workflow.DeletedAt != nil || !workflow.IsActive {
			continue
		}

		if workflow.Trigger.Type != models.TriggerTypeScheduled {
			continue
		}

		scheduled = append(scheduled, clone(workflow))
	}

	return scheduled, nil
}

func (r *workflowRepo) IncrementStats(_ context.Context, id string, succeeded bool, at time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return persistence.ErrWorkflowNotFound
	}

	workflow.Stats.TotalExecutions++

	if succeeded {
		workflow.Stats.SuccessfulExecutions++
	} else {
		workflow.Stats.FailedExecutions++
	}

	workflow.Stats.LastExecutionAt = &at

	return nil
}

func (r *workflowRepo) UserStats(_ context.Context, userID string) (*persistence.UserWorkflowStats, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	stats := &persistence.UserWorkflowStats{}

	for _, workflow := range r.p.workflows {
		if workflow.DeletedAt != nil || workflow.UserID != userID {
			continue
		}

		stats.WorkflowCount++

		if workflow.IsActive {
			stats.ActiveCount++
		}

		stats.TotalExecutions += workflow.Stats.TotalExecutions
		stats.SuccessfulExecutions += workflow.Stats.SuccessfulExecutions
		stats.FailedExecutions += workflow.Stats.FailedExecutions
	}

	return stats, nil
}

type executionRepo struct{ p *Persistence }

func (r *executionRepo) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.executions[execution.ExecutionID] = clone(execution)

	return nil
}

func (r *executionRepo) GetByExecutionID(_ context.Context, executionID string) (*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	execution, ok := r.p.executions[executionID]
	if !ok {
		return nil, nil
	}

	return clone(execution), nil
}

func (r *executionRepo) List(_ context.Context, opts persistence.ListExecutionsOptions) (*persistence.ListExecutionsResult, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matched := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.p.executions {
		if opts.WorkflowID != "" && execution.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.UserID != "" && execution.UserID != opts.UserID {
			continue
		}

		if opts.Status != nil && execution.Status != *opts.Status {
			continue
		}

		if opts.Since != nil && execution.CreatedAt.Before(*opts.Since) {
			continue
		}

		if opts.Until != nil && execution.CreatedAt.After(*opts.Until) {
			continue
		}

		matched = append(matched, execution)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	page := make([]*models.WorkflowExecution, 0, len(matched))
	for _, execution := range matched {
		page = append(page, clone(execution))
	}

	return &persistence.ListExecutionsResult{Executions: page, TotalCount: total}, nil
}

func (r *executionRepo) CountActive(_ context.Context, workflowID string) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	count := 0

	for _, execution := range r.p.executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		if execution.Status == models.ExecutionStatusPending || execution.Status == models.ExecutionStatusRunning {
			count++
		}
	}

	return count, nil
}

func (r *executionRepo) MarkRunning(_ context.Context, executionID string, startedAt time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[executionID]
	if !ok {
		return false, persistence.ErrExecutionNotFound
	}

	if execution.Status != models.ExecutionStatusPending {
		return false, nil
	}

	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &startedAt

	return true, nil
}

func (r *executionRepo) Finish(_ context.Context, updated *models.WorkflowExecution) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[updated.ExecutionID]
	if !ok {
		return false, persistence.ErrExecutionNotFound
	}

	if execution.Status != models.ExecutionStatusRunning {
		return false, nil
	}

	if !execution.Status.CanTransitionTo(updated.Status) {
		return false, persistence.ErrInvalidTransition
	}

	r.p.executions[updated.ExecutionID] = clone(updated)

	return true, nil
}

func (r *executionRepo) Cancel(_ context.Context, executionID string) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[executionID]
	if !ok {
		return false, persistence.ErrExecutionNotFound
	}

	if execution.Status.IsTerminal() {
		return false, nil
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now

	return true, nil
}

func (r *executionRepo) CancelByWorkflow(_ context.Context, workflowID string) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()
	cancelled := 0

	for _, execution := range r.p.executions {
		if execution.WorkflowID != workflowID || execution.Status.IsTerminal() {
			continue
		}

		execution.Status = models.ExecutionStatusCancelled
		execution.CompletedAt = &now
		cancelled++
	}

	return cancelled, nil
}

func (r *executionRepo) IncrementNodeCounters(_ context.Context, executionID string, failed bool) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[executionID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	if failed {
		execution.FailedNodes++
	} else {
		execution.CompletedNodes++
	}

	return nil
}

func (r *executionRepo) ResetNodeCounters(_ context.Context, executionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[executionID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	execution.CompletedNodes = 0
	execution.FailedNodes = 0

	return nil
}

func (r *executionRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	overdue := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.p.executions {
		if execution.Status != models.ExecutionStatusRunning {
			continue
		}

		if execution.TimeoutAt.After(now) {
			continue
		}

		overdue = append(overdue, clone(execution))

		if limit > 0 && len(overdue) >= limit {
			break
		}
	}

	return overdue, nil
}

type nodeExecutionRepo struct{ p *Persistence }

func (r *nodeExecutionRepo) Create(_ context.Context, nodeExecution *models.WorkflowNodeExecution) error {
	if nodeExecution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate node execution ID: %w", err)
		}

		nodeExecution.ID = id.String()
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.nodeExecutions[nodeExecution.ExecutionID] = append(
		r.p.nodeExecutions[nodeExecution.ExecutionID],
		clone(nodeExecution),
	)

	return nil
}

func (r *nodeExecutionRepo) Update(_ context.Context, nodeExecution *models.WorkflowNodeExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	rows := r.p.nodeExecutions[nodeExecution.ExecutionID]
	for i, row := range rows {
		if row.ID == nodeExecution.ID {
			rows[i] = clone(nodeExecution)

			return nil
		}
	}

	return persistence.ErrNodeExecutionNotFound
}

func (r *nodeExecutionRepo) ListByExecution(_ context.Context, executionID string) ([]*models.WorkflowNodeExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	rows := r.p.nodeExecutions[executionID]

	out := make([]*models.WorkflowNodeExecution, 0, len(rows))
	for _, row := range rows {
		out = append(out, clone(row))
	}

	return out, nil
}
