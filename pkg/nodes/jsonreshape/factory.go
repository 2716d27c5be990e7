package jsonreshape

import (
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
)

// Factory creates JSON reshape executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

var _ protocol.ExecutorFactory = (*Factory)(nil)

func (f *Factory) Create(protocol.Dependencies) (protocol.NodeExecutor, error) {
	return nodes.NewLifecycle(f.Channel(), Execute), nil
}

func (f *Factory) Type() models.NodeType { return models.NodeTypeJSONReshape }

func (f *Factory) Name() string { return "JSON Reshape" }

func (f *Factory) Description() string {
	return "Renames the fields of an object from the context and optionally nests it under a new key"
}

func (f *Factory) Channel() string { return status.ChannelFor(models.NodeTypeJSONReshape) }

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variableName": map[string]any{
				"type":    "string",
				"pattern": "^[A-Za-z_$][A-Za-z0-9_$]*$",
			},
			"sourceVariable": map[string]any{
				"type":        "string",
				"description": "Context key of the object to reshape; dotted paths reach nested objects",
				"examples":    []string{"httpResult", "httpResult.data"},
			},
			"nestingPath": map[string]any{
				"type":        "string",
				"description": "When set, the reshaped object is stored under this key",
			},
			"fieldMappings": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sourceField": map[string]any{"type": "string"},
						"newName":     map[string]any{"type": "string"},
					},
					"required": []string{"sourceField", "newName"},
				},
			},
		},
		"required": []string{"variableName", "sourceVariable"},
		"examples": []map[string]any{
			{
				"variableName":   "user",
				"sourceVariable": "httpResult.data",
				"fieldMappings": []map[string]any{
					{"sourceField": "first_name", "newName": "firstName"},
				},
				"nestingPath": "profile",
			},
		},
	}
}
