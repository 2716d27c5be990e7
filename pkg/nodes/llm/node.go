// Package llm provides the text-generation nodes. Anthropic, OpenAI and
// Gemini nodes share one executor and differ only in their Generator.
package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultSystemPrompt is used when the node has no system prompt.
	DefaultSystemPrompt = "You are a helpful assistant."

	generateTimeout = 2 * time.Minute
)

// Config defines the data of an LLM node.
type Config struct {
	VariableName string `json:"variableName" validate:"required,varname"`
	CredentialID string `json:"credentialId" validate:"required"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
	UserPrompt   string `json:"userPrompt"   validate:"required"`
}

// Node runs one generation per execution.
type Node struct {
	provider     string
	defaultModel string
	generator    Generator
	credentials  protocol.CredentialResolver
	tracer       trace.Tracer
	telemetry    bool
	logger       *slog.Logger
}

// StepName returns the durable step the generation runs under.
func StepName(provider string) string {
	return provider + "-generate-text"
}

// Execute implements nodes.Body.
func (n *Node) Execute(ctx context.Context, req protocol.Request) (models.SharedContext, error) {
	var cfg Config
	if err := nodes.Decode(req.NodeID, req.Data, &cfg); err != nil {
		return models.SharedContext{}, err
	}

	system := DefaultSystemPrompt

	if cfg.SystemPrompt != "" {
		rendered, err := nodes.Render(req.NodeID, "systemPrompt", cfg.SystemPrompt, req.Context)
		if err != nil {
			return models.SharedContext{}, err
		}

		system = rendered
	}

	prompt, err := nodes.Render(req.NodeID, "userPrompt", cfg.UserPrompt, req.Context)
	if err != nil {
		return models.SharedContext{}, err
	}

	model := cfg.Model
	if model == "" {
		model = n.defaultModel
	}

	stepName := StepName(n.provider)

	text, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, stepName), func(ctx context.Context) (string, error) {
		apiKey, err := nodes.ResolveCredential(ctx, n.tracer, n.credentials, req, cfg.CredentialID)
		if err != nil {
			return "", err
		}

		return n.generate(ctx, req, stepName, GenerateRequest{
			APIKey: apiKey,
			Model:  model,
			System: system,
			Prompt: prompt,
		})
	})
	if err != nil {
		return models.SharedContext{}, err
	}

	return req.Context.With(cfg.VariableName, map[string]any{"aiResponse": text}), nil
}

func (n *Node) generate(ctx context.Context, req protocol.Request, stepName string, in GenerateRequest) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String(otelhelper.NodeIDKey, req.NodeID),
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.ModelKey, in.Model),
	}
	if n.telemetry {
		attrs = append(attrs, attribute.String(otelhelper.PromptKey, in.Prompt))
	}

	ctx, span := otelhelper.StartSpan(ctx, n.tracer, stepName, attrs...)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	start := time.Now()

	text, err := n.generator.Generate(ctx, in)
	if err != nil {
		otelhelper.SetError(span, err)
		n.logger.WarnContext(ctx, "Text generation failed",
			"provider", n.provider,
			"model", in.Model,
			"node_id", req.NodeID,
			"error", err)

		return "", err
	}

	if n.telemetry {
		span.SetAttributes(attribute.String(otelhelper.ResponseKey, text))
	}

	n.logger.InfoContext(ctx, "Text generated",
		"provider", n.provider,
		"model", in.Model,
		"node_id", req.NodeID,
		"elapsed", time.Since(start))

	return text, nil
}
