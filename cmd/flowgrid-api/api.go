// Package main provides the Flowgrid API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgrid/flowgrid/pkg/eventbus"
	"github.com/flowgrid/flowgrid/pkg/flow"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/registry"
	"github.com/flowgrid/flowgrid/pkg/services"
	"github.com/flowgrid/flowgrid/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlowService(a.persistence, a.registry)

	engineOpts := []flow.EngineOption{flow.WithEventPublisher(a.eventBus)}
	if a.tracer != nil {
		engineOpts = append(engineOpts, flow.WithTracer(a.tracer))
	}

	engine := flow.NewEngine(a.logger, a.registry, a.persistence.ExecutionRepository(), engineOpts...)
	runner := flow.NewRunner(a.logger, a.persistence.FlowRepository(), engine)
	executionService := services.NewExecutionService(runner, a.persistence.ExecutionRepository())

	handlers := web.NewAPIHandlers(flowService, executionService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowgrid API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.CreateFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Patch("/:id", handlers.UpdateFlow)
	f.Delete("/:id", handlers.DeleteFlow)
	f.Post("/:id/activate", handlers.ActivateFlow)
	f.Post("/:id/archive", handlers.ArchiveFlow)
	f.Post("/:id/validate", handlers.ValidateFlow)

	// Execution endpoints:
	f.Post("/:id/executions", handlers.ExecuteFlow)
	f.Get("/:id/executions", handlers.GetExecutions)

	// Variant endpoints:
	f.Get("/:id/variants", handlers.GetVariants)
	f.Post("/:id/variants", handlers.SaveVariant)
	f.Delete("/:id/variants/:variantId", handlers.DeleteVariant)

	app.Get("/executions/:id", handlers.GetExecution)
	app.Get("/node-types", handlers.GetNodeTypes)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
