package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/credentials"
	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/log"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/services"
	"github.com/dukex/flowline/pkg/status"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/dukex/flowline/pkg/workflow"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// app holds the collaborators shared by every process role.
type app struct {
	command     *cli.Command
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	status      *status.WatermillPublisher
	steps       steps.Store
	tracer      trace.Tracer
	workflows   *workflow.Repository
	executions  *services.Executions
	closers     []func() error
}

type runner func(ctx context.Context, a *app) error

func withApp(ctx context.Context, command *cli.Command, serviceName string, run runner) error {
	log.Setup(command.String("log-level"))

	a, err := newApp(ctx, command, serviceName)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	return run(ctx, a)
}

func newApp(ctx context.Context, command *cli.Command, serviceName string) (_ *app, err error) {
	logger := log.WithModule(serviceName)
	a := &app{command: command, logger: logger}

	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.tracer, err = cmd.NewTracer(ctx, command.Bool("otel-enabled"), serviceName)
	if err != nil {
		return nil, err
	}

	a.persistence, err = cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, func() error { return a.persistence.Close(context.WithoutCancel(ctx)) })

	transport, err := cmd.NewTransport(command.String("event-bus"), serviceName, command.String("kafka-brokers"), logger)
	if err != nil {
		return nil, err
	}

	a.eventBus = cmd.NewEventBus(transport, logger)
	a.closers = append(a.closers, a.eventBus.Close, transport.CloseStatus)
	a.status = cmd.NewStatusPublisher(transport, logger)

	var closeSteps func() error

	a.steps, closeSteps, err = cmd.NewStepStore(ctx, command.String("step-store"), a.persistence, logger)
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, closeSteps)

	var resolver protocol.CredentialResolver

	if key := command.String("encryption-key"); key != "" {
		var r *credentials.Resolver

		r, err = cmd.NewCredentialResolver(a.persistence, key, logger)
		if err != nil {
			return nil, err
		}

		resolver = r
	} else {
		logger.WarnContext(ctx, "No encryption key configured, credential lookups will fail")
	}

	a.registry, err = cmd.NewRegistry(protocol.Dependencies{
		Logger:      logger,
		HTTPClient:  &http.Client{},
		Credentials: resolver,
		Tracer:      a.tracer,
		Endpoints: protocol.Endpoints{
			Anthropic:  command.String("anthropic-base-url"),
			OpenAI:     command.String("openai-base-url"),
			Gemini:     command.String("gemini-base-url"),
			Screenshot: command.String("screenshot-base-url"),
		},
		Telemetry: command.Bool("otel-enabled"),
	})
	if err != nil {
		return nil, err
	}

	a.workflows = workflow.NewRepository(a.persistence, a.registry)
	a.executions = services.NewExecutions(a.persistence, a.eventBus, logger, services.WithStepStore(a.steps))

	return a, nil
}

func (a *app) orchestrator() *workflow.Orchestrator {
	return workflow.NewOrchestrator(a.persistence, a.registry, a.steps, a.status, a.logger, workflow.WithTracer(a.tracer))
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.ErrorContext(ctx, "Failed to release resource", "error", err)
		}
	}

	a.closers = nil
}
