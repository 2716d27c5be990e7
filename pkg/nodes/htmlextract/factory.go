package htmlextract

import (
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
)

// Factory creates HTML extraction executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

var _ protocol.ExecutorFactory = (*Factory)(nil)

func (f *Factory) Create(deps protocol.Dependencies) (protocol.NodeExecutor, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	node := NewNode(deps.HTTPClient, logger.With("module", "html-extract-node"))

	return nodes.NewLifecycle(f.Channel(), node.Execute), nil
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeHTMLExtract }

func (f *Factory) Name() string { return "HTML Extract" }

func (f *Factory) Description() string {
	return "Fetches a web page and extracts text, HTML or an attribute from the elements matching a CSS selector"
}

func (f *Factory) Channel() string { return status.ChannelFor(models.NodeTypeHTMLExtract) }

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
				"description": "Page URL. Supports templating",
				"examples":    []string{"https://news.ycombinator.com", "{{ .httpResult.data.link }}"},
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector",
				"examples":    []string{"h1", ".titleline > a", "img.logo"},
			},
			"extractAttribute": map[string]any{
				"type":        "string",
				"description": `"text", "html" or "attr:<name>"`,
				"default":     modeText,
				"pattern":     "^(text|html|attr:.+)$",
			},
			"extractMultiple": map[string]any{
				"type":        "boolean",
				"description": "Extract every match instead of the first one",
				"default":     false,
			},
		},
		"required": []string{"variableName", "url", "selector"},
	}
}
