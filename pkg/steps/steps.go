// Package steps implements durable, memoized units of work for an execution.
//
// A step is identified by (executionID, stepName). The first successful run
// of a step records its JSON-encoded result in a Store; any later run of the
// same step within the same execution returns the recorded result without
// calling the step function again. Failed steps are never recorded.
package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/protocol"
)

// ErrStepNotFound is returned by a Store when no result is recorded.
var ErrStepNotFound = persistence.ErrStepResultNotFound

// Store persists step results. persistence.StepRepository satisfies it.
type Store interface {
	// GetStep returns the recorded result or ErrStepNotFound.
	GetStep(ctx context.Context, executionID, stepName string) ([]byte, error)

	// SaveStep records a result. A result already recorded for the same key is
	// kept and the new one discarded.
	SaveStep(ctx context.Context, executionID, stepName string, data []byte) error

	// ListSteps returns the results recorded for an execution, oldest first.
	ListSteps(ctx context.Context, executionID string) ([]*models.StepResult, error)
}

var (
	_ protocol.StepRunner = (*Runner)(nil)
	_ Store               = (persistence.StepRepository)(nil)
)

// Runner memoizes steps of one execution.
type Runner struct {
	store       Store
	executionID string
	logger      *slog.Logger
}

// NewRunner creates a runner bound to executionID.
func NewRunner(store Store, executionID string, logger *slog.Logger) *Runner {
	return &Runner{
		store:       store,
		executionID: executionID,
		logger:      logger.With("module", "steps", "execution_id", executionID),
	}
}

// Run executes fn under name unless a result is already recorded. When two
// runs of the same step race, both return the result that was recorded first.
func (r *Runner) Run(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	data, err := r.store.GetStep(ctx, r.executionID, name)

	switch {
	case err == nil:
		r.logger.DebugContext(ctx, "replaying recorded step", "step", name)

		return data, nil
	case !errors.Is(err, ErrStepNotFound):
		return nil, fmt.Errorf("step %q: get recorded result: %w", name, err)
	}

	start := time.Now()

	result, err := fn(ctx)
	if err != nil {
		r.logger.DebugContext(ctx, "step failed", "step", name, "error", err)

		return nil, err
	}

	data, err = json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("step %q: encode result: %w", name, err)
	}

	if err := r.store.SaveStep(ctx, r.executionID, name, data); err != nil {
		return nil, fmt.Errorf("step %q: save result: %w", name, err)
	}

	recorded, err := r.store.GetStep(ctx, r.executionID, name)
	if err != nil {
		return nil, fmt.Errorf("step %q: read back result: %w", name, err)
	}

	r.logger.DebugContext(ctx, "step completed", "step", name, "elapsed", time.Since(start))

	return recorded, nil
}

// Do runs a typed step. It is a package-level function because Go does not
// allow generic methods.
func Do[T any](ctx context.Context, runner protocol.StepRunner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := runner.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("step %q: decode result: %w", name, err)
	}

	return result, nil
}

// Name scopes a step name to a node so nodes of the same type never share a result.
func Name(nodeID, step string) string {
	return nodeID + "/" + step
}
