// Package main provides the Stepflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/stepflow-io/stepflow/pkg/engine"
	"github.com/stepflow-io/stepflow/pkg/locker"
	"github.com/stepflow-io/stepflow/pkg/metrics"
	"github.com/stepflow-io/stepflow/pkg/persistence"
	"github.com/stepflow-io/stepflow/pkg/services"
	"github.com/stepflow-io/stepflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	locks       locker.WorkflowLocker
	directory   engine.Directory
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	locks locker.WorkflowLocker,
	directory engine.Directory,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		locks:       locks,
		directory:   directory,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orchestrator := engine.NewOrchestrator(a.persistence, a.locks, a.directory, a.logger, metrics.New(registry))
	workflowService := services.NewWorkflow(orchestrator, a.persistence)
	handlers := web.NewAPIHandlers(workflowService, a.validate)

	return web.NewApp(handlers, registry)
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
