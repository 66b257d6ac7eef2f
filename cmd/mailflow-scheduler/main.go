// Package main provides the mailflow scheduler: it fires scheduled
// workflows on their cron expressions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/mailflow/mailflow/pkg/cmd"
	"github.com/mailflow/mailflow/pkg/log"
	"github.com/mailflow/mailflow/pkg/scheduler"
	"github.com/mailflow/mailflow/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "mailflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Fire scheduled workflows on their cron expressions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Job queue connection URL",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "resync-interval",
				Usage:   "How often registrations are reconciled against storage",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULER_RESYNC_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("mailflow-scheduler")
			logger.InfoContext(ctx, "Initializing Mailflow Scheduler")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			jobQueue := cmd.NewJobQueue(ctx, logger, command.String("queue-url"), 0)

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			manager := workflow.NewManager(persistence, jobQueue, eventBus, logger)
			sched := scheduler.NewScheduler(persistence, manager, logger).
				WithResyncInterval(command.Duration("resync-interval"))

			if err := sched.Start(ctx); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()
			logger.Info("Shutting down scheduler")
			sched.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
