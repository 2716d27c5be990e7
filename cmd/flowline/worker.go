package main

import (
	"context"

	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/services"
)

// startWorker registers the execution handler and starts consuming. Messages
// are handled one at a time; run more workers to execute in parallel.
func startWorker(ctx context.Context, a *app) error {
	handler := services.NewExecutionHandler(a.orchestrator(), a.logger)

	if err := a.eventBus.Handle(events.ExecutionRequestedEvent, handler); err != nil {
		return err
	}

	if err := a.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "Worker started")

	return nil
}

func runWorker(ctx context.Context, a *app) error {
	if err := startWorker(ctx, a); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("Worker stopped")

	return nil
}
