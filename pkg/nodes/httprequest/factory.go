package httprequest

import (
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
)

// HTTPRequestNodeFactory creates HTTP request executors.
type HTTPRequestNodeFactory struct{}

// NewHTTPRequestNodeFactory creates a new HTTP request node factory.
func NewHTTPRequestNodeFactory() *HTTPRequestNodeFactory {
	return &HTTPRequestNodeFactory{}
}

var _ protocol.ExecutorFactory = (*HTTPRequestNodeFactory)(nil)

// Create creates the executor wrapped in the status lifecycle.
func (f *HTTPRequestNodeFactory) Create(deps protocol.Dependencies) (protocol.NodeExecutor, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	node := NewNode(deps.HTTPClient, logger.With("module", "http-request-node"))

	return nodes.NewLifecycle(f.Channel(), node.Execute), nil
}

func (f *HTTPRequestNodeFactory) Type() models.NodeType {
	return models.NodeTypeHTTPRequest
}

func (f *HTTPRequestNodeFactory) Name() string {
	return "HTTP Request"
}

func (f *HTTPRequestNodeFactory) Description() string {
	return "Calls an HTTP endpoint and stores the status and the JSON or text response"
}

func (f *HTTPRequestNodeFactory) Channel() string {
	return status.ChannelFor(models.NodeTypeHTTPRequest)
}

// Schema returns the JSON schema for HTTP request node data.
func (f *HTTPRequestNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variableName": map[string]any{
				"type":        "string",
				"description": "Context key the response is stored under",
				"pattern":     "^[A-Za-z_$][A-Za-z0-9_$]*$",
				"examples":    []string{"httpResult", "user"},
			},
			"endpoint": map[string]any{
				"type":        "string",
				"description": "URL to request. Supports templating against the shared context",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/users/{{ .trigger.userId }}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "JSON request body sent for POST, PUT and PATCH. Supports templating",
				"examples": []string{
					`{"name": "{{ .user.name }}"}`,
					`{{ json .httpResult.data }}`,
				},
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Extra request headers. Values support templating",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds",
				"default":     defaultTimeout,
				"minimum":     1,
				"maximum":     300,
			},
		},
		"required": []string{"variableName", "endpoint"},
		"examples": []map[string]any{
			{
				"variableName": "todo",
				"endpoint":     "https://jsonplaceholder.typicode.com/todos/1",
				"method":       "GET",
			},
			{
				"variableName": "created",
				"endpoint":     "https://api.example.com/items",
				"method":       "POST",
				"body":         `{"title": "{{ .todo.data.title }}"}`,
			},
		},
	}
}
