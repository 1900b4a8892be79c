// Package web provides the HTTP surface for running and progressing
// workflows.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/stepflow-io/stepflow/pkg/services"
)

// Identity headers set by the (out of scope) authentication gateway.
const (
	HeaderAccountID = "X-Account-Id"
	HeaderUserID    = "X-User-Id"
)

type APIHandlers struct {
	workflowService *services.Workflow
	validator       *validator.Validate
}

func NewAPIHandlers(workflowService *services.Workflow, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		validator:       validator,
	}
}

func (h *APIHandlers) accountID(c fiber.Ctx) string {
	return c.Get(HeaderAccountID)
}

func (h *APIHandlers) userID(c fiber.Ctx) string {
	return c.Get(HeaderUserID)
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	accountID := h.accountID(c)
	if accountID == "" {
		return badRequest(c, "Account ID header is required")
	}

	var req RunWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.RunWorkflow(c.Context(), services.RunWorkflowRequest{
		AccountID:  accountID,
		TemplateID: req.TemplateID,
		Name:       req.Name,
		UserID:     h.userID(c),
		IsExternal: req.IsExternal,
		IsUrgent:   req.IsUrgent,
		Kickoff:    req.Kickoff,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.GetWorkflow(c.Context(), h.accountID(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowEvents(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	entries, err := h.workflowService.ListEvents(c.Context(), h.accountID(c), id, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": entries})
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	err := h.workflowService.CompleteTask(c.Context(), services.CompleteTaskRequest{
		AccountID:  h.accountID(c),
		WorkflowID: c.Params("id"),
		TaskID:     c.Params("taskId"),
		UserID:     h.userID(c),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) RevertTask(c fiber.Ctx) error {
	if err := h.workflowService.RevertTask(c.Context(), h.accountID(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ReturnToTask(c fiber.Ctx) error {
	err := h.workflowService.ReturnToTask(c.Context(), h.accountID(c), c.Params("id"), c.Params("taskId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DelayWorkflow(c fiber.Ctx) error {
	var req DelayWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.workflowService.ForceDelay(c.Context(), h.accountID(c), c.Params("id"), req.Duration)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.ForceResume(c.Context(), h.accountID(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) FinishWorkflow(c fiber.Ctx) error {
	err := h.workflowService.FinishWorkflow(c.Context(), h.accountID(c), c.Params("id"), h.userID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) MarkUrgent(c fiber.Ctx) error {
	if err := h.workflowService.MarkUrgent(c.Context(), h.accountID(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UnmarkUrgent(c fiber.Ctx) error {
	if err := h.workflowService.UnmarkUrgent(c.Context(), h.accountID(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
