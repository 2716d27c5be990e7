package screenshot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
)

// Factory creates screenshot executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

var _ protocol.ExecutorFactory = (*Factory)(nil)

func (f *Factory) Create(deps protocol.Dependencies) (protocol.NodeExecutor, error) {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := deps.Endpoints.Screenshot
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	node := &Node{
		client:      client,
		baseURL:     baseURL,
		credentials: deps.Credentials,
		tracer:      nodes.Tracer(deps.Tracer),
		logger:      logger.With("module", "screenshot-node"),
		now:         time.Now,
	}

	return nodes.NewLifecycle(f.Channel(), node.Execute), nil
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeScreenshot }

func (f *Factory) Name() string { return "Screenshot" }

func (f *Factory) Description() string {
	return "Captures a web page as an image and stores it base64 encoded"
}

func (f *Factory) Channel() string { return status.ChannelFor(models.NodeTypeScreenshot) }

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variableName": map[string]any{
				"type":    "string",
				"pattern": "^[A-Za-z_$][A-Za-z0-9_$]*$",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "Page to capture. Supports templating",
			},
			"credentialId": map[string]any{
				"type":        "string",
				"description": "ID of the capture service API key credential",
			},
			"format": map[string]any{
				"type":    "string",
				"enum":    []string{"png", "jpeg", "webp"},
				"default": defaultFormat,
			},
			"fullPage": map[string]any{
				"type":    "boolean",
				"default": true,
			},
			"width": map[string]any{
				"type":    "integer",
				"default": defaultWidth,
				"minimum": 1,
			},
			"height": map[string]any{
				"type":    "integer",
				"default": defaultHeight,
				"minimum": 1,
			},
		},
		"required": []string{"variableName", "url", "credentialId"},
	}
}
