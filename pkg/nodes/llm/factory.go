package llm

import (
	"log/slog"
	"net/http"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
)

const (
	DefaultAnthropicModel = "claude-3-5-sonnet-latest"
	DefaultOpenAIModel    = "gpt-4.1-mini"
	DefaultGeminiModel    = "gemini-2.5-flash"
)

// Factory creates the executor of one provider.
type Factory struct {
	nodeType     models.NodeType
	provider     string
	name         string
	defaultModel string
	newGenerator func(client *http.Client, endpoints protocol.Endpoints) Generator
}

var _ protocol.ExecutorFactory = (*Factory)(nil)

func NewAnthropicFactory() *Factory {
	return &Factory{
		nodeType:     models.NodeTypeAnthropic,
		provider:     "anthropic",
		name:         "Anthropic",
		defaultModel: DefaultAnthropicModel,
		newGenerator: func(client *http.Client, endpoints protocol.Endpoints) Generator {
			return NewAnthropic(client, endpoints.Anthropic)
		},
	}
}

func NewOpenAIFactory() *Factory {
	return &Factory{
		nodeType:     models.NodeTypeOpenAI,
		provider:     "openai",
		name:         "OpenAI",
		defaultModel: DefaultOpenAIModel,
		newGenerator: func(client *http.Client, endpoints protocol.Endpoints) Generator {
			return NewOpenAI(client, endpoints.OpenAI)
		},
	}
}

func NewGeminiFactory() *Factory {
	return &Factory{
		nodeType:     models.NodeTypeGemini,
		provider:     "gemini",
		name:         "Gemini",
		defaultModel: DefaultGeminiModel,
		newGenerator: func(client *http.Client, endpoints protocol.Endpoints) Generator {
			return NewGemini(client, endpoints.Gemini)
		},
	}
}

// Factories returns the factories of every supported provider.
func Factories() []*Factory {
	return []*Factory{NewAnthropicFactory(), NewOpenAIFactory(), NewGeminiFactory()}
}

// Create builds the executor. The credential resolver is required at run
// time; without one every node fails with a missing credential.
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
		provider:     f.provider,
		defaultModel: f.defaultModel,
		generator:    f.newGenerator(client, deps.Endpoints),
		credentials:  deps.Credentials,
		tracer:       nodes.Tracer(deps.Tracer),
		telemetry:    deps.Telemetry,
		logger:       logger.With("module", f.provider+"-node"),
	}

	return nodes.NewLifecycle(f.Channel(), node.Execute), nil
}

func (f *Factory) Type() models.NodeType { return f.nodeType }

func (f *Factory) Name() string { return f.name }

func (f *Factory) Description() string {
	return "Generates text with " + f.name + " from templated system and user prompts"
}

func (f *Factory) Channel() string { return status.ChannelFor(f.nodeType) }

// Schema returns the JSON schema for LLM node data.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variableName": map[string]any{
				"type":        "string",
				"description": "Context key the generated text is stored under as {aiResponse}",
				"pattern":     "^[A-Za-z_$][A-Za-z0-9_$]*$",
			},
			"credentialId": map[string]any{
				"type":        "string",
				"description": "ID of the " + f.name + " API key credential",
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Model name",
				"default":     f.defaultModel,
			},
			"systemPrompt": map[string]any{
				"type":        "string",
				"description": "System prompt. Supports templating",
				"default":     DefaultSystemPrompt,
			},
			"userPrompt": map[string]any{
				"type":        "string",
				"description": "User prompt. Supports templating",
				"examples": []string{
					"Summarize this page: {{ .page.data }}",
					"Classify the following JSON: {{ json .httpResult.data }}",
				},
			},
		},
		"required": []string{"variableName", "credentialId", "userPrompt"},
	}
}
