package main

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runDev runs every role in one process. The worker subscribes before the
// API starts so no request published over the in-memory bus is dropped.
func runDev(ctx context.Context, a *app) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := startWorker(ctx, a); err != nil {
		return err
	}

	g.Go(func() error { return runAPI(ctx, a) })
	g.Go(func() error { return runScheduler(ctx, a) })
	g.Go(func() error {
		<-ctx.Done()

		return nil
	})

	return g.Wait()
}
