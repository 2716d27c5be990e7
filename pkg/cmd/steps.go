package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/dukex/flowline/pkg/steps/redisstore"
	"github.com/redis/go-redis/v9"
)

// NewStepStore selects where durable step results live: an empty URL keeps
// them in the persistence layer, "memory" in process memory, and a
// redis:// or rediss:// URL in Redis. The returned close function releases
// the store's connections.
func NewStepStore(ctx context.Context, url string, p persistence.Persistence, logger *slog.Logger) (steps.Store, func() error, error) {
	noop := func() error { return nil }

	switch {
	case url == "":
		return p.StepRepository(), noop, nil
	case url == "memory":
		return steps.NewMemoryStore(), noop, nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid step store URL: %w", err)
		}

		client := redis.NewClient(opts)
		store := redisstore.New(client, redisstore.WithLogger(logger.With("module", "step_store")))

		if err := store.Ping(ctx); err != nil {
			_ = client.Close()

			return nil, nil, fmt.Errorf("failed to reach step store: %w", err)
		}

		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported step store %q", url)
	}
}
