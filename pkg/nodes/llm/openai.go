package llm

import (
	"context"
	"net/http"
	"strings"
)

const DefaultOpenAIBaseURL = "https://api.openai.com"

// OpenAI calls the Chat Completions API.
type OpenAI struct {
	client  *http.Client
	baseURL string
}

func NewOpenAI(client *http.Client, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	return &OpenAI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}

	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	var resp openAIResponse

	err := postJSON(ctx, o.client, "openai", o.baseURL+"/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + req.APIKey},
		openAIRequest{Model: req.Model, Messages: messages},
		&resp)
	if err != nil {
		return "", err
	}

	for _, choice := range resp.Choices {
		if choice.Message.Content != nil {
			return *choice.Message.Content, nil
		}
	}

	return "", nil
}
