package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

// Execution sources recorded on ExecutionRequested events.
const (
	SourceManual     = "manual"
	SourceSchedule   = "schedule"
	SourceGoogleForm = "google-form"
	SourceStripe     = "stripe"
)

// webhookSource binds an inbound webhook to the trigger it starts and the
// shared context key its payload is stored under.
type webhookSource struct {
	nodeType   models.NodeType
	contextKey string
}

var webhookSources = map[string]webhookSource{
	SourceGoogleForm: {nodeType: models.NodeTypeGoogleFormTrigger, contextKey: "googleForm"},
	SourceStripe:     {nodeType: models.NodeTypeStripeTrigger, contextKey: "stripe"},
}

// DefaultOverlapWindow is how long a RUNNING execution blocks the next
// scheduled run of its workflow. Older RUNNING executions are treated as
// abandoned.
const DefaultOverlapWindow = time.Hour

// StepLister reads the durable step results of an execution.
type StepLister interface {
	ListSteps(ctx context.Context, executionID string) ([]*models.StepResult, error)
}

// Executions starts and reads workflow executions. Starting an execution
// records it as RUNNING and hands it to the workers through the event bus.
type Executions struct {
	persistence   persistence.Persistence
	publisher     eventbus.EventPublisher
	steps         StepLister
	overlapWindow time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// ExecutionsOption configures Executions.
type ExecutionsOption func(*Executions)

// WithStepStore reads step results from store instead of the persistence layer.
func WithStepStore(store StepLister) ExecutionsOption {
	return func(s *Executions) {
		s.steps = store
	}
}

// WithOverlapWindow overrides DefaultOverlapWindow. Zero never skips a
// scheduled run.
func WithOverlapWindow(window time.Duration) ExecutionsOption {
	return func(s *Executions) {
		s.overlapWindow = window
	}
}

// WithNow overrides the time source of execution timestamps.
func WithNow(now func() time.Time) ExecutionsOption {
	return func(s *Executions) {
		s.now = now
	}
}

func NewExecutions(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...ExecutionsOption) *Executions {
	s := &Executions{
		persistence:   p,
		publisher:     publisher,
		steps:         p.StepRepository(),
		overlapWindow: DefaultOverlapWindow,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("module", "executions"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Trigger starts a manual execution of a workflow owned by userID.
func (s *Executions) Trigger(ctx context.Context, userID, workflowID string, initialData map[string]any) (*models.Execution, error) {
	if userID == "" {
		return nil, ErrEmptyOwnerID
	}

	workflow, err := s.ownedWorkflow(ctx, workflowID, userID)
	if err != nil {
		return nil, err
	}

	return s.start(ctx, workflow, SourceManual, initialData)
}

// TriggerWebhook starts an execution for an external event on behalf of the
// workflow owner. The payload is exposed to the graph under the source's
// context key, e.g. {"stripe": payload}.
func (s *Executions) TriggerWebhook(ctx context.Context, workflowID, source string, payload map[string]any) (*models.Execution, error) {
	hook, ok := webhookSources[source]
	if !ok {
		return nil, NewValidationError("TriggerWebhook", "UNSUPPORTED_SOURCE", fmt.Sprintf("source %q is not supported", source), ErrUnsupportedSource)
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.HasNodeType(hook.nodeType) {
		return nil, NewValidationError("TriggerWebhook", "TRIGGER_NODE_MISSING",
			fmt.Sprintf("workflow %s has no %s node", workflowID, hook.nodeType), ErrTriggerNodeMissing)
	}

	if payload == nil {
		payload = map[string]any{}
	}

	return s.start(ctx, workflow, source, map[string]any{hook.contextKey: payload})
}

// TriggerScheduled starts an execution for a schedule tick. It returns
// ErrExecutionInProgress while an execution of the workflow started within
// the overlap window is still RUNNING.
func (s *Executions) TriggerScheduled(ctx context.Context, workflow *models.Workflow) (*models.Execution, error) {
	if s.overlapWindow > 0 {
		executions, err := s.persistence.ExecutionRepository().ListByWorkflow(ctx, workflow.ID)
		if err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}

		cutoff := s.now().Add(-s.overlapWindow)

		for _, execution := range executions {
			if execution.Status == models.ExecutionStatusRunning && execution.StartedAt.After(cutoff) {
				return nil, fmt.Errorf("workflow %s: execution %s: %w", workflow.ID, execution.ID, ErrExecutionInProgress)
			}
		}
	}

	return s.start(ctx, workflow, SourceSchedule, nil)
}

// Get returns an execution of a workflow owned by userID. Executions of other
// owners are reported as not found.
func (s *Executions) Get(ctx context.Context, userID, executionID string) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, err
	}

	if workflow.UserID != userID {
		return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

// Steps returns the durable step results of an execution owned by userID,
// oldest first.
func (s *Executions) Steps(ctx context.Context, userID, executionID string) ([]*models.StepResult, error) {
	if _, err := s.Get(ctx, userID, executionID); err != nil {
		return nil, err
	}

	results, err := s.steps.ListSteps(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	return results, nil
}

func (s *Executions) ownedWorkflow(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.UserID != userID {
		return nil, persistence.NewWorkflowError("Trigger", workflowID, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// start records the RUNNING execution, then publishes the request. The event
// id becomes the execution's EventID so a worker can claim it. A request that
// cannot be published leaves the execution FAILED rather than RUNNING forever.
func (s *Executions) start(ctx context.Context, workflow *models.Workflow, source string, initialData map[string]any) (*models.Execution, error) {
	event := events.NewExecutionRequested(workflow.ID, uuid.New().String(), workflow.UserID, source, initialData)

	execution := &models.Execution{
		ID:         event.ExecutionID,
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  s.now(),
		Output:     models.NewSharedContext(nil),
		EventID:    event.ID,
	}

	if err := s.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if err := s.publisher.Publish(ctx, workflow.ID, event); err != nil {
		execution.Fail(fmt.Sprintf("publish execution request: %v", err), "", s.now())

		if uerr := s.persistence.ExecutionRepository().Update(context.WithoutCancel(ctx), execution); uerr != nil {
			s.logger.ErrorContext(ctx, "Failed to mark unpublished execution as failed",
				"execution_id", execution.ID, "error", uerr)
		}

		return nil, fmt.Errorf("publish execution request: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution requested",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"event_id", event.ID,
		"source", source)

	return execution, nil
}
