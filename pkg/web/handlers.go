// Package web provides HTTP handlers and REST API endpoints for the workflow
// engine: definition authoring, event ingestion, run inspection and the
// approval gate.
package web

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/relaycrm/relay/pkg/events"
	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
	"github.com/relaycrm/relay/pkg/registry"
	"github.com/relaycrm/relay/pkg/services"
	"github.com/relaycrm/relay/pkg/workflow"
)

type APIHandlers struct {
	definitionService *services.Definition
	engine            *workflow.Engine
	approvalGate      *workflow.ApprovalGate
	persistence       persistence.Persistence
	registry          *registry.Registry
	validator         *validator.Validate
}

func NewAPIHandlers(
	definitionService *services.Definition,
	engine *workflow.Engine,
	approvalGate *workflow.ApprovalGate,
	store persistence.Persistence,
	reg *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		engine:            engine,
		approvalGate:      approvalGate,
		persistence:       store,
		registry:          reg,
		validator:         validator,
	}
}

// NotifyEvent ingests a domain event and spawns runs for each matching
// active definition. Runs execute before the response is written, so the
// reported count reflects runs actually started.
func (h *APIHandlers) NotifyEvent(c fiber.Ctx) error {
	var req NotifyEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.DomainEvent{
		EventType:   req.EventType,
		SubjectID:   req.SubjectID,
		SubjectType: req.SubjectType,
		Old:         req.Old,
		New:         req.New,
	}

	started, err := h.engine.Notify(c.Context(), event)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(NotifyEventResponse{RunsStarted: started})
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions, err := h.definitionService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"definitions": definitions})
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.definitionService.Create(c.Context(), services.CreateDefinitionRequest{
		OrgID:            req.OrgID,
		Name:             req.Name,
		Description:      req.Description,
		Trigger:          req.Trigger,
		Graph:            req.Graph,
		RequiresApproval: req.RequiresApproval,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	var req UpdateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.definitionService.Update(c.Context(), c.Params("id"), services.UpdateDefinitionRequest{
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Graph:       req.Graph,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	if err := h.definitionService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateDefinition validates the graph and trigger, then marks the
// definition active. Validation failures come back as a 409 with the first
// structural problem found.
func (h *APIHandlers) ActivateDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) PauseDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) RequestApproval(c fiber.Ctx) error {
	return h.approvalTransition(c, h.approvalGate.Request)
}

func (h *APIHandlers) ApproveDefinition(c fiber.Ctx) error {
	return h.approvalTransition(c, h.approvalGate.Approve)
}

func (h *APIHandlers) RejectDefinition(c fiber.Ctx) error {
	return h.approvalTransition(c, h.approvalGate.Reject)
}

func (h *APIHandlers) GetApprovalEntries(c fiber.Ctx) error {
	entries, err := h.approvalGate.Entries(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs, err := h.persistence.Runs(c.Context(), c.Query("definition_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.persistence.RunByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.engine.CancelRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"actions": h.registry.ActionIDs()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

type approvalFn func(ctx context.Context, definitionID, actor, notes string) (*models.WorkflowDefinition, error)

func (h *APIHandlers) approvalTransition(c fiber.Ctx, transition approvalFn) error {
	var req ApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := transition(c.Context(), c.Params("id"), req.Actor, req.Notes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}
