package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dukex/flowline/pkg/protocol"
)

const maxResponseBytes = 4 << 20

// GenerateRequest is one text-generation call.
type GenerateRequest struct {
	APIKey string
	Model  string
	System string
	Prompt string
}

// Generator produces text from a prompt using one provider's API.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// apiError matches the error envelopes of all three providers closely enough
// to pull out a message.
type apiError struct {
	Error json.RawMessage `json:"error"`
}

func (e apiError) message() string {
	if len(e.Error) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(e.Error, &text); err == nil {
		return text
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Error, &obj); err == nil {
		return obj.Message
	}

	return ""
}

// postJSON sends payload and decodes a 2xx response into out. Every failure
// is an ExternalServiceError for service.
func postJSON(ctx context.Context, client *http.Client, service, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &protocol.ExternalServiceError{Service: service, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &protocol.ExternalServiceError{Service: service, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &protocol.ExternalServiceError{Service: service, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope apiError

		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &envelope) == nil && envelope.message() != "" {
			msg = envelope.message()
		}

		return &protocol.ExternalServiceError{Service: service, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &protocol.ExternalServiceError{Service: service, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}
