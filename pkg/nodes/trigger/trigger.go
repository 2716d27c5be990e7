// Package trigger provides the entry-point nodes of a workflow. Every trigger
// type behaves the same at run time: it passes the shared context through one
// durable step so the canvas can show the entry point as completed.
package trigger

import (
	"context"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
)

// StepName returns the durable step name a trigger of nodeType runs under.
func StepName(nodeType models.NodeType) string {
	return strings.TrimSuffix(nodeType.Slug(), "-trigger") + "-trigger"
}

// NewExecutor creates the pass-through executor for a trigger type.
func NewExecutor(nodeType models.NodeType, channel string) *nodes.Lifecycle {
	step := StepName(nodeType)

	return nodes.NewLifecycle(channel, func(ctx context.Context, req protocol.Request) (models.SharedContext, error) {
		return steps.Do(ctx, req.Steps, steps.Name(req.NodeID, step), func(context.Context) (models.SharedContext, error) {
			return req.Context, nil
		})
	})
}
