// Package protocol defines the contracts between the orchestrator and node executors.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukex/flowline/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// StatusTopic is the topic every node type publishes its status events on.
const StatusTopic = "status"

// StepRunner memoizes named units of work within one execution. A step that
// already succeeded returns its recorded value without calling fn again.
type StepRunner interface {
	Run(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error)
}

// StatusPublisher delivers node status events to live subscribers.
type StatusPublisher interface {
	Publish(ctx context.Context, channel, topic string, event models.StatusEvent) error
}

// CredentialResolver reads credentials owned by userID. Lookup returns the
// value as stored, still sealed, so it can be recorded as a step result; Open
// turns a sealed value into plaintext.
type CredentialResolver interface {
	Lookup(ctx context.Context, credentialID, userID string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

// Request carries everything a node executor needs for one invocation.
type Request struct {
	NodeID      string
	UserID      string
	ExecutionID string
	Data        map[string]any
	Context     models.SharedContext
	Steps       StepRunner
	Status      StatusPublisher
}

// NodeExecutor is the runtime behaviour bound to a node type. It returns the
// shared context extended with the node's output.
type NodeExecutor interface {
	Execute(ctx context.Context, req Request) (models.SharedContext, error)
}

// NodeExecutorFunc adapts a function to NodeExecutor.
type NodeExecutorFunc func(ctx context.Context, req Request) (models.SharedContext, error)

func (f NodeExecutorFunc) Execute(ctx context.Context, req Request) (models.SharedContext, error) {
	return f(ctx, req)
}

// Endpoints holds the base URLs of the external services used by node executors.
type Endpoints struct {
	Anthropic  string
	OpenAI     string
	Gemini     string
	Screenshot string
}

// Dependencies are the shared collaborators handed to every factory.
type Dependencies struct {
	Logger      *slog.Logger
	HTTPClient  *http.Client
	Credentials CredentialResolver
	Tracer      trace.Tracer
	Endpoints   Endpoints
	// Telemetry enables prompt/response span attributes on LLM nodes.
	Telemetry bool
}

// ExecutorFactory creates the executor for one node type and describes it.
type ExecutorFactory interface {
	// Type returns the node type tag this factory serves.
	Type() models.NodeType

	// Name returns the human-readable name for this node type.
	Name() string

	// Description returns a description of what this node does.
	Description() string

	// Channel returns the status channel name for this node type.
	Channel() string

	// Schema returns the JSON schema of the node data.
	Schema() map[string]any

	// Create builds the executor with the given dependencies.
	Create(deps Dependencies) (NodeExecutor, error)
}

// ConfigValidator is implemented by factories that check node data beyond
// what the JSON schema expresses.
type ConfigValidator interface {
	ValidateConfig(nodeID string, data map[string]any) error
}
