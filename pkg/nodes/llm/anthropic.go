package llm

import (
	"context"
	"net/http"
	"strings"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// Anthropic calls the Messages API.
type Anthropic struct {
	client  *http.Client
	baseURL string
}

func NewAnthropic(client *http.Client, baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}

	return &Anthropic{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Anthropic) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var resp anthropicResponse

	err := postJSON(ctx, a.client, "anthropic", a.baseURL+"/v1/messages",
		map[string]string{
			"x-api-key":         req.APIKey,
			"anthropic-version": anthropicVersion,
		},
		anthropicRequest{
			Model:     req.Model,
			MaxTokens: anthropicMaxTokens,
			System:    req.System,
			Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		},
		&resp)
	if err != nil {
		return "", err
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", nil
}
