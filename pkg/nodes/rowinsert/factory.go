package rowinsert

import (
	"log/slog"
	"net/http"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
)

// Factory creates row insert executors.
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

	node := &Node{
		client:      client,
		credentials: deps.Credentials,
		tracer:      nodes.Tracer(deps.Tracer),
		logger:      logger.With("module", "row-insert-node"),
	}

	return nodes.NewLifecycle(f.Channel(), node.Execute), nil
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeRowInsert }

func (f *Factory) Name() string { return "Row Insert" }

func (f *Factory) Description() string {
	return "Inserts one row built from templated column values into an external table store"
}

func (f *Factory) Channel() string { return status.ChannelFor(models.NodeTypeRowInsert) }

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"credentialId": map[string]any{
				"type":        "string",
				"description": `ID of a credential holding {"endpointUrl": "...", "apiKey": "..."}`,
			},
			"table": map[string]any{
				"type":        "string",
				"description": "Target table",
			},
			"mapping": map[string]any{
				"type":        "array",
				"description": "Column values. Values support templating; blank results are left out of the row",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"column": map[string]any{"type": "string"},
						"value":  map[string]any{"type": "string"},
					},
					"required": []string{"column"},
				},
			},
			"variableName": map[string]any{
				"type":        "string",
				"description": "Context key for the inserted row. Without it the rows are stored under " + LegacyOutputKey,
				"pattern":     "^[A-Za-z_$][A-Za-z0-9_$]*$",
			},
		},
		"required": []string{"credentialId", "table", "mapping"},
		"examples": []map[string]any{
			{
				"credentialId": "cred_123",
				"table":        "leads",
				"variableName": "lead",
				"mapping": []map[string]any{
					{"column": "email", "value": "{{ .googleForm.email }}"},
					{"column": "score", "value": "{{ .classification.aiResponse }}"},
				},
			},
		},
	}
}
