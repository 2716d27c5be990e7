// Command flowline runs the workflow engine: the HTTP API, the execution
// workers and the cron scheduler, as separate processes or all in one.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowline/pkg/log"
	"github.com/dukex/flowline/pkg/sources/scheduler"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL: file://<dir> or postgres://...",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus provider (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma-separated Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "step-store",
			Usage:   "Durable step store: empty for the persistence layer, memory, or redis://...",
			Sources: cli.EnvVars("STEP_STORE_URL"),
		},
		&cli.StringFlag{
			Name:    "encryption-key",
			Usage:   "Hex-encoded 32-byte AES key used to decrypt credentials",
			Sources: cli.EnvVars("ENCRYPTION_KEY"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP, including LLM prompts and responses",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "anthropic-base-url",
			Usage:   "Base URL of the Anthropic API",
			Sources: cli.EnvVars("ANTHROPIC_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Usage:   "Base URL of the OpenAI API",
			Sources: cli.EnvVars("OPENAI_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "gemini-base-url",
			Usage:   "Base URL of the Gemini API",
			Sources: cli.EnvVars("GEMINI_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "screenshot-base-url",
			Usage:   "Base URL of the screenshot capture service",
			Sources: cli.EnvVars("SCREENSHOT_BASE_URL"),
		},
	}
}

func apiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}
}

func schedulerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "schedule-refresh",
			Usage:   "How often schedules are reloaded from the store",
			Value:   scheduler.DefaultRefreshInterval,
			Sources: cli.EnvVars("SCHEDULE_REFRESH_INTERVAL"),
		},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, group := range groups {
		all = append(all, group...)
	}

	return all
}

func main() {
	logger := log.WithModule("flowline")

	cmd := &cli.Command{
		Name:                  "flowline",
		Usage:                 "Run workflow automations",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "api",
				Usage: "Serve the HTTP API",
				Flags: flags(commonFlags(), apiFlags()),
				Action: func(ctx context.Context, command *cli.Command) error {
					return withApp(ctx, command, "flowline-api", runAPI)
				},
			},
			{
				Name:    "worker",
				Aliases: []string{"w"},
				Usage:   "Run requested executions",
				Flags:   commonFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					return withApp(ctx, command, "flowline-worker", runWorker)
				},
			},
			{
				Name:  "scheduler",
				Usage: "Start executions of scheduled workflows",
				Flags: flags(commonFlags(), schedulerFlags()),
				Action: func(ctx context.Context, command *cli.Command) error {
					return withApp(ctx, command, "flowline-scheduler", runScheduler)
				},
			},
			{
				Name:  "dev",
				Usage: "Run the API, a worker and the scheduler in one process",
				Flags: flags(commonFlags(), apiFlags(), schedulerFlags()),
				Action: func(ctx context.Context, command *cli.Command) error {
					return withApp(ctx, command, "flowline", runDev)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
