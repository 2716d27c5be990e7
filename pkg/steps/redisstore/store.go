// Package redisstore records step results in Redis hashes.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := redisstore.New(client, redisstore.WithTTL(72*time.Hour))
//	runner := steps.NewRunner(store, executionID, logger)
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "flowline:"

// stepKey returns the hash key of a step result: flowline:step:{executionID}:{step}
func stepKey(executionID, step string) string {
	return fmt.Sprintf("%sstep:%s:%s", keyPrefix, executionID, step)
}

// stepIndexKey returns the sorted set tracking recorded steps of an execution,
// scored by the time each step was first recorded.
func stepIndexKey(executionID string) string {
	return keyPrefix + "step_idx:" + executionID
}

var _ steps.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTTL expires recorded results after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// Store implements steps.Store backed by Redis. The caller owns the client.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	ttl    time.Duration
}

// New creates a Redis-backed step store.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	return s
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetStep returns the recorded result for a step.
func (s *Store) GetStep(ctx context.Context, executionID, stepName string) ([]byte, error) {
	data, err := s.client.HGet(ctx, stepKey(executionID, stepName), "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, steps.ErrStepNotFound
		}

		return nil, fmt.Errorf("flowline/redis: get step: %w", err)
	}

	return []byte(data), nil
}

// SaveStep records a result once. HSETNX leaves an existing result untouched.
func (s *Store) SaveStep(ctx context.Context, executionID, stepName string, data []byte) error {
	key := stepKey(executionID, stepName)
	idx := stepIndexKey(executionID)
	now := time.Now().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "data", string(data))
	pipe.HSetNX(ctx, key, "created_at", now.Format(time.RFC3339Nano))
	pipe.ZAddNX(ctx, idx, redis.Z{Score: float64(now.UnixMicro()), Member: stepName})

	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, idx, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowline/redis: save step: %w", err)
	}

	return nil
}

// ListSteps returns the results recorded for an execution, oldest first.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]*models.StepResult, error) {
	names, err := s.client.ZRange(ctx, stepIndexKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("flowline/redis: list steps: %w", err)
	}

	pipe := s.client.Pipeline()

	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, stepKey(executionID, name))
	}

	if len(names) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("flowline/redis: list steps: %w", err)
		}
	}

	results := make([]*models.StepResult, 0, len(names))

	for i, name := range names {
		fields := cmds[i].Val()

		data, ok := fields["data"]
		if !ok {
			// the hash expired before its index entry
			continue
		}

		createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
		if err != nil {
			s.logger.WarnContext(ctx, "step has no valid creation time", "execution_id", executionID, "step", name)
		}

		results = append(results, &models.StepResult{
			ExecutionID: executionID,
			StepName:    name,
			Data:        []byte(data),
			CreatedAt:   createdAt,
		})
	}

	return results, nil
}
