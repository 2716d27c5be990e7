package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini calls the generateContent API.
type Gemini struct {
	client  *http.Client
	baseURL string
}

func NewGemini(client *http.Client, baseURL string) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}

	return &Gemini{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}

	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	var resp geminiResponse

	err := postJSON(ctx, g.client, "gemini",
		g.baseURL+"/v1beta/models/"+url.PathEscape(req.Model)+":generateContent",
		map[string]string{"x-goog-api-key": req.APIKey},
		payload,
		&resp)
	if err != nil {
		return "", err
	}

	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != nil {
				return *part.Text, nil
			}
		}
	}

	return "", nil
}
