// Package scheduler fires scheduled workflows on their cron
// expressions. Entries are keyed by workflow id so an updated schedule
// replaces the previous registration.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/workflow"
)

const defaultResyncInterval = time.Minute

// Triggerer starts one run of a workflow. Satisfied by
// workflow.Manager.
type Triggerer interface {
	Trigger(ctx context.Context, req workflow.TriggerRequest) (*models.WorkflowExecution, error)
}

// entry remembers the cron spec a workflow was armed with, so a resync
// can tell a changed schedule from an unchanged one.
type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler owns the cron runner and the workflow-id -> entry mapping.
type Scheduler struct {
	cron           *cron.Cron
	persistence    persistence.Persistence
	triggerer      Triggerer
	logger         *slog.Logger
	resyncInterval time.Duration

	mu      sync.Mutex
	entries map[string]entry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(persistence persistence.Persistence, triggerer Triggerer, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := &slogCronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		persistence:    persistence,
		triggerer:      triggerer,
		logger:         logger,
		resyncInterval: defaultResyncInterval,
		entries:        make(map[string]entry),
		stopCh:         make(chan struct{}),
	}
}

// WithResyncInterval overrides how often registrations are reconciled
// against storage.
func (s *Scheduler) WithResyncInterval(interval time.Duration) *Scheduler {
	s.resyncInterval = interval

	return s
}

// Start rehydrates registrations from storage, starts the cron runner
// and the periodic resync loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Rehydrate(ctx); err != nil {
		return err
	}

	s.cron.Start()

	s.wg.Add(1)

	go s.resyncLoop(ctx)

	s.logger.InfoContext(ctx, "Scheduler started", "registered", len(s.Registered()))

	return nil
}

// Stop halts the resync loop and the cron runner, waiting for running
// fires to complete.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// resyncLoop keeps registrations aligned with storage so workflows
// created, re-activated or re-scheduled after startup are picked up
// without a restart.
func (s *Scheduler) resyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Rehydrate(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Scheduler resync failed", "error", err)
			}
		}
	}
}

// Rehydrate reconciles registrations with storage: every active
// scheduled workflow is armed, and entries whose workflows dropped out
// of the active set are disarmed. Individual registration failures are
// logged, not fatal: one bad expression must not keep the rest from
// firing.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	workflows, err := s.persistence.Workflows().ListActiveScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scheduled workflows: %w", err)
	}

	active := make(map[string]bool, len(workflows))

	for _, wf := range workflows {
		active[wf.ID] = true

		if err := s.Register(wf); err != nil {
			s.logger.ErrorContext(ctx, "Failed to register scheduled workflow",
				"workflow_id", wf.ID, "error", err)
		}
	}

	for _, id := range s.Registered() {
		if !active[id] {
			s.Unregister(id)
		}
	}

	return nil
}

// Register arms the workflow's cron schedule, replacing any existing
// entry for the same workflow id. An unchanged schedule keeps its
// entry so resyncs do not reset the firing phase.
func (s *Scheduler) Register(wf *models.Workflow) error {
	if wf.Trigger.Type != models.TriggerTypeScheduled {
		return fmt.Errorf("workflow %s has trigger type %q, not scheduled", wf.ID, wf.Trigger.Type)
	}

	if wf.Trigger.Schedule == nil || wf.Trigger.Schedule.CronExpr == "" {
		return fmt.Errorf("workflow %s has no cron expression", wf.ID)
	}

	spec := wf.Trigger.Schedule.CronExpr
	if tz := wf.Trigger.Schedule.Timezone; tz != "" {
		spec = "CRON_TZ=" + tz + " " + spec
	}

	workflowID := wf.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[workflowID]; ok {
		if existing.spec == spec {
			return nil
		}

		s.cron.Remove(existing.id)
		delete(s.entries, workflowID)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.fire(workflowID)
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	s.entries[workflowID] = entry{id: entryID, spec: spec}
	s.logger.Info("Scheduled workflow registered",
		"workflow_id", workflowID, "cron", spec)

	return nil
}

// Unregister disarms the workflow's schedule. Unknown ids are a no-op.
func (s *Scheduler) Unregister(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[workflowID]; ok {
		s.cron.Remove(existing.id)
		delete(s.entries, workflowID)
		s.logger.Info("Scheduled workflow unregistered", "workflow_id", workflowID)
	}
}

// Registered returns the ids of the currently armed workflows.
func (s *Scheduler) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}

	return ids
}

// fire triggers one scheduled run. Trigger errors are logged and
// swallowed: a full admission window or a deactivated workflow must
// not crash the cron runner.
func (s *Scheduler) fire(workflowID string) {
	ctx := context.Background()

	execution, err := s.triggerer.Trigger(ctx, workflow.TriggerRequest{
		WorkflowID:  workflowID,
		TriggerType: models.TriggerTypeScheduled,
		TriggerData: map[string]any{
			"scheduled_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		if workflow.IsTooManyExecutions(err) {
			s.logger.Warn("Scheduled fire skipped, concurrency cap reached", "workflow_id", workflowID)
			return
		}

		if workflow.IsWorkflowInactive(err) || persistence.IsWorkflowNotFound(err) {
			s.logger.Info("Scheduled workflow no longer runnable, unregistering",
				"workflow_id", workflowID, "error", err)
			s.Unregister(workflowID)

			return
		}

		s.logger.Error("Scheduled fire failed", "workflow_id", workflowID, "error", err)

		return
	}

	s.logger.Info("Scheduled workflow fired",
		"workflow_id", workflowID, "execution_id", execution.ExecutionID)
}

// slogCronLogger adapts slog to the cron runner's logger contract.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
