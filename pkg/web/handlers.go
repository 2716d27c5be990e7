// Package web provides the HTTP API: workflow management, execution
// triggers, external webhooks and the execution status stream.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/services"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// UserIDHeader carries the authenticated user id, set by the gateway in
// front of the API.
const UserIDHeader = "X-User-ID"

type APIHandlers struct {
	workflows  *workflow.Repository
	executions *services.Executions
	registry   *registry.Registry
	validator  *validator.Validate
	stream     StreamConfig
	logger     *slog.Logger
}

// Option configures APIHandlers.
type Option func(*APIHandlers)

// WithStreamConfig overrides the polling of execution streams.
func WithStreamConfig(config StreamConfig) Option {
	return func(h *APIHandlers) {
		h.stream = config
	}
}

func NewAPIHandlers(
	workflows *workflow.Repository,
	executions *services.Executions,
	registry *registry.Registry,
	logger *slog.Logger,
	opts ...Option,
) *APIHandlers {
	h := &APIHandlers{
		workflows:  workflows,
		executions: executions,
		registry:   registry,
		validator:  validator.New(validator.WithRequiredStructEnabled()),
		stream:     DefaultStreamConfig,
		logger:     logger.With("module", "api"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-types", h.GetNodeTypes)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	router.Post("/webhooks/:workflowId/:source", h.ReceiveWebhook)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/stream", h.StreamExecution)
	e.Get("/:id/steps", h.GetExecutionSteps)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := "Registry is healthy", true
	if err := h.registry.HealthCheck(c.Context()); err != nil {
		registryCheck, regOk = "Registry is unhealthy: "+err.Error(), false
	}

	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowline API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Flowline API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	factories := h.registry.Factories()
	nodeTypes := make([]NodeTypeResponse, 0, len(factories))

	for _, factory := range factories {
		nodeTypes = append(nodeTypes, NodeTypeResponse{
			Type:        factory.Type(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Channel:     factory.Channel(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(nodeTypes)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	all, err := h.workflows.FetchAll(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	owned := make([]*models.Workflow, 0, len(all))

	for _, w := range all {
		if w.UserID == userID {
			owned = append(owned, w)
		}
	}

	return c.JSON(owned)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	w, err := h.workflows.FetchOwned(c.Context(), c.Params("id"), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(w)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflows.Create(c.Context(), &models.Workflow{
		Name:        req.Name,
		UserID:      userID,
		Nodes:       req.Nodes,
		Connections: req.Connections,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	id := c.Params("id")
	if _, err := h.workflows.FetchOwned(c.Context(), id, userID); err != nil {
		return handleServiceError(c, err)
	}

	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflows.Update(c.Context(), id, &models.Workflow{
		Name:        req.Name,
		Nodes:       req.Nodes,
		Connections: req.Connections,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	id := c.Params("id")
	if _, err := h.workflows.FetchOwned(c.Context(), id, userID); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.workflows.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	id := c.Params("id")
	if _, err := h.workflows.FetchOwned(c.Context(), id, userID); err != nil {
		return handleServiceError(c, err)
	}

	executions, err := h.workflows.Executions(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(executions)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	var req ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executions.Trigger(c.Context(), userID, c.Params("id"), req.InitialData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteWorkflowResponse{ExecutionID: execution.ID})
}

// ReceiveWebhook starts an execution for an external event. The payload is
// any JSON object; the workflow owner becomes the execution's user.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Webhook payload must be a JSON object")
		}
	}

	execution, err := h.executions.TriggerWebhook(c.Context(), c.Params("workflowId"), c.Params("source"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteWorkflowResponse{ExecutionID: execution.ID})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	execution, err := h.executions.Get(c.Context(), userID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// GetExecutionSteps lists the durable step results recorded for an execution.
func (h *APIHandlers) GetExecutionSteps(c fiber.Ctx) error {
	userID := c.Get(UserIDHeader)
	if userID == "" {
		return unauthorized(c)
	}

	results, err := h.executions.Steps(c.Context(), userID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	response := make([]StepResultResponse, 0, len(results))
	for _, result := range results {
		response = append(response, StepResultResponse{
			StepName:  result.StepName,
			Data:      json.RawMessage(result.Data),
			CreatedAt: result.CreatedAt,
		})
	}

	return c.JSON(response)
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}
