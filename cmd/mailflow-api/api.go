// Package main provides the mailflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/mailflow/mailflow/pkg/eventbus"
	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/queue"
	"github.com/mailflow/mailflow/pkg/registry"
	"github.com/mailflow/mailflow/pkg/services"
	"github.com/mailflow/mailflow/pkg/web"
	"github.com/mailflow/mailflow/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	jobQueue    queue.JobQueue
	eventBus    eventbus.EventBus
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	jobQueue queue.JobQueue,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		jobQueue:    jobQueue,
		eventBus:    eventBus,
	}
}

func (a *API) App() *fiber.App {
	manager := workflow.NewManager(a.persistence, a.jobQueue, a.eventBus, a.logger)
	workflowService := services.NewWorkflow(a.persistence, a.registry, nil, a.logger)
	executionService := services.NewExecution(a.persistence, manager, a.logger)

	handlers := web.NewAPIHandlers(workflowService, executionService, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Mailflow Workflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Post("/:id/clone", handlers.CreateFromTemplate)

	e := app.Group("/executions")
	e.Get("/", handlers.GetExecutions)
	e.Get("/:executionId", handlers.GetExecution)
	e.Post("/:executionId/cancel", handlers.CancelExecution)
	e.Get("/:executionId/nodes", handlers.GetNodeExecutions)

	app.Get("/stats", handlers.GetUserStats)
	app.Get("/node-types", handlers.GetNodeTypes)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
