// Package nodes holds the behaviour shared by every node executor: status
// publication around the node body, configuration decoding and template
// rendering of configuration fields.
package nodes

import (
	"context"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/template"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Body is the node-specific part of an executor.
type Body func(ctx context.Context, req protocol.Request) (models.SharedContext, error)

var _ protocol.NodeExecutor = (*Lifecycle)(nil)

// Lifecycle publishes loading before the body runs and success or error
// after it returns. A panic in the body publishes error and keeps panicking.
type Lifecycle struct {
	channel string
	body    Body
}

// NewLifecycle wraps body with status publication on channel.
func NewLifecycle(channel string, body Body) *Lifecycle {
	return &Lifecycle{channel: channel, body: body}
}

// Channel returns the status channel the lifecycle publishes on.
func (l *Lifecycle) Channel() string {
	return l.channel
}

func (l *Lifecycle) Execute(ctx context.Context, req protocol.Request) (result models.SharedContext, err error) {
	l.publish(ctx, req, models.NodeStatusLoading)

	defer func() {
		if r := recover(); r != nil {
			l.publish(ctx, req, models.NodeStatusError)
			panic(r)
		}
	}()

	result, err = l.body(ctx, req)
	if err != nil {
		l.publish(ctx, req, models.NodeStatusError)

		return models.SharedContext{}, err
	}

	l.publish(ctx, req, models.NodeStatusSuccess)

	return result, nil
}

// publish ignores delivery errors: status is best-effort and must never
// change the outcome of a node.
func (l *Lifecycle) publish(ctx context.Context, req protocol.Request, status models.NodeStatus) {
	if req.Status == nil {
		return
	}

	_ = req.Status.Publish(ctx, l.channel, protocol.StatusTopic, models.StatusEvent{
		NodeID: req.NodeID,
		Status: status,
	})
}

// Tracer returns t, or the global tracer when t is nil.
//
//nolint:ireturn // trace.Tracer is the OpenTelemetry API type
func Tracer(t trace.Tracer) trace.Tracer {
	if t != nil {
		return t
	}

	return otel.Tracer("github.com/dukex/flowline/pkg/nodes")
}

// RequireString fails with a ConfigurationError when value is blank.
func RequireString(nodeID, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return protocol.NewConfigurationError(nodeID, "%s is required", field)
	}

	return nil
}

// Render renders a configuration field against the shared context. Template
// failures are configuration errors.
func Render(nodeID, field, tmpl string, sc models.SharedContext) (string, error) {
	out, err := template.RenderContext(tmpl, sc)
	if err != nil {
		return "", protocol.WrapConfigurationError(nodeID, "render "+field, err)
	}

	return out, nil
}
