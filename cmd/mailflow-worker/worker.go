// Package main provides the mailflow worker: it consumes execution
// jobs off the queue, walks workflow graphs and sweeps timed-out
// executions.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailflow/mailflow/pkg/eventbus"
	"github.com/mailflow/mailflow/pkg/otelhelper"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/queue"
	"github.com/mailflow/mailflow/pkg/registry"
	"github.com/mailflow/mailflow/pkg/workflow"
)

type Worker struct {
	id          string
	persistence persistence.Persistence
	jobQueue    queue.JobQueue
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracing     bool
}

func NewWorker(
	id string,
	persistence persistence.Persistence,
	jobQueue queue.JobQueue,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	tracing bool,
) *Worker {
	return &Worker{
		id:          id,
		persistence: persistence,
		jobQueue:    jobQueue,
		registry:    registry,
		eventBus:    eventBus,
		logger:      logger,
		tracing:     tracing,
	}
}

// Start runs the consumer pool and the reaper until SIGINT or SIGTERM.
func (w *Worker) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executor := workflow.NewExecutor(w.id, w.persistence, w.registry, w.eventBus, w.logger)

	if w.tracing {
		tracer, err := otelhelper.NewTracer(ctx, "mailflow-worker")
		if err != nil {
			return err
		}

		executor.WithTracer(tracer)
	}

	if err := w.jobQueue.Consume(ctx, executor.Handler()); err != nil {
		return err
	}

	reaper := workflow.NewReaper(w.persistence, w.eventBus, w.logger)
	reaper.Start(ctx)

	w.logger.InfoContext(ctx, "Worker started")

	<-ctx.Done()
	w.logger.Info("Shutting down worker")

	reaper.Stop()

	return w.jobQueue.Stop(context.Background())
}
