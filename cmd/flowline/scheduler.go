package main

import (
	"context"

	"github.com/dukex/flowline/pkg/sources/scheduler"
)

func runScheduler(ctx context.Context, a *app) error {
	s := scheduler.NewScheduler(a.workflows, a.executions, a.logger,
		scheduler.WithRefreshInterval(a.command.Duration("schedule-refresh")))

	return s.Run(ctx)
}
