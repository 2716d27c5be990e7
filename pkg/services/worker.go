package services

import (
	"context"
	"log/slog"

	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/workflow"
)

// Runner runs one execution to its terminal state. *workflow.Orchestrator implements it.
type Runner interface {
	Execute(ctx context.Context, req workflow.ExecuteRequest) (*models.Execution, error)
}

// NewExecutionHandler returns the worker handler of ExecutionRequested events.
// A failed run is already recorded on the execution, so the handler logs it
// and acks the message: executions are never redelivered.
func NewExecutionHandler(runner Runner, logger *slog.Logger) eventbus.EventHandler {
	logger = logger.With("module", "worker")

	return func(ctx context.Context, event any) error {
		requested, ok := event.(*events.ExecutionRequested)
		if !ok {
			logger.WarnContext(ctx, "Ignoring unexpected event", "event", event)

			return nil
		}

		logger.InfoContext(ctx, "Running execution",
			"workflow_id", requested.WorkflowID,
			"execution_id", requested.ExecutionID,
			"event_id", requested.ID)

		execution, err := runner.Execute(ctx, workflow.ExecuteRequest{
			WorkflowID:  requested.WorkflowID,
			ExecutionID: requested.ExecutionID,
			EventID:     requested.ID,
			InitialData: requested.InitialData,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Execution failed",
				"workflow_id", requested.WorkflowID,
				"execution_id", requested.ExecutionID,
				"error", err)

			return nil
		}

		logger.InfoContext(ctx, "Execution finished",
			"execution_id", execution.ID,
			"status", execution.Status)

		return nil
	}
}
