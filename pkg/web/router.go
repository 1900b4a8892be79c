package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp builds the Fiber application with all workflow routes mounted.
func NewApp(handlers *APIHandlers, registry *prometheus.Registry) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	app.Get("/health", handlers.HealthCheck)

	if registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	w := app.Group("/workflows")
	w.Post("/", handlers.RunWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Get("/:id/events", handlers.GetWorkflowEvents)
	w.Post("/:id/tasks/:taskId/complete", handlers.CompleteTask)
	w.Post("/:id/revert", handlers.RevertTask)
	w.Post("/:id/return-to/:taskId", handlers.ReturnToTask)
	w.Post("/:id/delay", handlers.DelayWorkflow)
	w.Post("/:id/resume", handlers.ResumeWorkflow)
	w.Post("/:id/finish", handlers.FinishWorkflow)
	w.Post("/:id/urgent", handlers.MarkUrgent)
	w.Delete("/:id/urgent", handlers.UnmarkUrgent)

	return app
}
