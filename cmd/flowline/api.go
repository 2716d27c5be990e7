package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/dukex/flowline/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
}

func NewAPI(a *app, opts ...web.Option) *API {
	return &API{
		logger:   a.logger,
		handlers: web.NewAPIHandlers(a.workflows, a.executions, a.registry, a.logger, opts...),
	}
}

func (api *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowline API")
	})

	api.handlers.Register(app)

	return app
}

// Start serves the API until ctx is done, then shuts the server down.
func (api *API) Start(ctx context.Context, port int) error {
	app := api.App()
	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		api.logger.Info("Shutting down API")

		if err := app.ShutdownWithContext(context.WithoutCancel(ctx)); err != nil {
			return err
		}

		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	}
}

func runAPI(ctx context.Context, a *app) error {
	return NewAPI(a).Start(ctx, a.command.Int("port"))
}
