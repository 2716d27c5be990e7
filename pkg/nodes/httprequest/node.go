// Package httprequest provides the HTTP request node.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
)

const (
	// StepName is the durable step the request runs under.
	StepName = "http-request"

	defaultMethod  = http.MethodGet
	defaultTimeout = 30
	maxBodyBytes   = 10 << 20
)

var (
	allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}
	bodyMethods    = []string{http.MethodPost, http.MethodPut, http.MethodPatch}
)

// Config defines the data of an HTTP_REQUEST node.
type Config struct {
	VariableName string            `json:"variableName" validate:"required,varname"`
	Endpoint     string            `json:"endpoint"     validate:"required"`
	Method       string            `json:"method"`
	Body         string            `json:"body"`
	Headers      map[string]string `json:"headers"`
	Timeout      int               `json:"timeout"      validate:"omitempty,min=1,max=300"`
}

// Response is what the node stores under its variable name.
type Response struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Data       any    `json:"data"`
}

// Map returns the response as stored in the shared context.
func (r Response) Map() map[string]any {
	return map[string]any{
		"status":     r.Status,
		"statusText": r.StatusText,
		"data":       r.Data,
	}
}

// Node performs one HTTP request per execution.
type Node struct {
	client *http.Client
	logger *slog.Logger
}

func NewNode(client *http.Client, logger *slog.Logger) *Node {
	if client == nil {
		client = &http.Client{}
	}

	return &Node{client: client, logger: logger}
}

// Execute implements nodes.Body.
func (n *Node) Execute(ctx context.Context, req protocol.Request) (models.SharedContext, error) {
	var cfg Config
	if err := nodes.Decode(req.NodeID, req.Data, &cfg); err != nil {
		return models.SharedContext{}, err
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = defaultMethod
	}

	if !slices.Contains(allowedMethods, method) {
		return models.SharedContext{}, protocol.NewConfigurationError(req.NodeID, "invalid HTTP method: %s", cfg.Method)
	}

	endpoint, err := nodes.Render(req.NodeID, "endpoint", cfg.Endpoint, req.Context)
	if err != nil {
		return models.SharedContext{}, err
	}

	if err := nodes.RequireString(req.NodeID, "endpoint", endpoint); err != nil {
		return models.SharedContext{}, err
	}

	var body string

	if slices.Contains(bodyMethods, method) && strings.TrimSpace(cfg.Body) != "" {
		body, err = nodes.Render(req.NodeID, "body", cfg.Body, req.Context)
		if err != nil {
			return models.SharedContext{}, err
		}

		if !json.Valid([]byte(body)) {
			return models.SharedContext{}, protocol.NewConfigurationError(req.NodeID, "body must be valid JSON after rendering")
		}
	}

	headers := make(map[string]string, len(cfg.Headers))

	for key, value := range cfg.Headers {
		rendered, err := nodes.Render(req.NodeID, "header "+key, value, req.Context)
		if err != nil {
			return models.SharedContext{}, err
		}

		headers[key] = rendered
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	response, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, StepName), func(ctx context.Context) (Response, error) {
		return n.perform(ctx, method, endpoint, body, headers, time.Duration(timeout)*time.Second)
	})
	if err != nil {
		return models.SharedContext{}, err
	}

	return req.Context.With(cfg.VariableName, response.Map()), nil
}

func (n *Node) perform(ctx context.Context, method, endpoint, body string, headers map[string]string, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return Response{}, &protocol.ExternalServiceError{Service: "http-request", Err: err}
	}

	if slices.Contains(bodyMethods, method) {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	n.logger.DebugContext(ctx, "Sending HTTP request", "method", method, "endpoint", endpoint)

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return Response{}, &protocol.ExternalServiceError{Service: "http-request", Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, &protocol.ExternalServiceError{Service: "http-request", Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &protocol.ExternalServiceError{
			Service:    "http-request",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s: %s", method, endpoint, http.StatusText(resp.StatusCode)),
		}
	}

	var data any = string(raw)

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return Response{}, &protocol.ExternalServiceError{Service: "http-request", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode JSON response: %w", err)}
		}

		data = decoded
	}

	return Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Data:       data,
	}, nil
}
