// Package screenshot provides the node that captures a web page through an
// external URL-to-image service.
package screenshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"go.opentelemetry.io/otel/trace"
)

const (
	// StepName is the durable step the capture runs under.
	StepName = "take-screenshot"

	// DefaultBaseURL is the capture service used when no endpoint is configured.
	DefaultBaseURL = "https://api.apiflash.com"

	captureTimeout = 60 * time.Second
	maxImageBytes  = 25 << 20

	defaultFormat = "png"
	defaultWidth  = 1920
	defaultHeight = 1080
)

// Config defines the data of a SCREENSHOT node.
type Config struct {
	VariableName string `json:"variableName" validate:"required,varname"`
	URL          string `json:"url"          validate:"required"`
	CredentialID string `json:"credentialId" validate:"required"`
	Format       string `json:"format"       validate:"omitempty,oneof=png jpeg webp"`
	FullPage     *bool  `json:"fullPage"`
	Width        int    `json:"width"        validate:"omitempty,min=1,max=10000"`
	Height       int    `json:"height"       validate:"omitempty,min=1,max=10000"`
}

// Capture is the recorded screenshot and the parameters it was taken with.
type Capture struct {
	Base64    string `json:"base64"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FullPage  bool   `json:"fullPage"`
	Timestamp string `json:"timestamp"`
}

func (c Capture) Map() map[string]any {
	return map[string]any{
		"base64":    c.Base64,
		"url":       c.URL,
		"format":    c.Format,
		"width":     c.Width,
		"height":    c.Height,
		"fullPage":  c.FullPage,
		"timestamp": c.Timestamp,
	}
}

type Node struct {
	client      *http.Client
	baseURL     string
	credentials protocol.CredentialResolver
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// Execute implements nodes.Body.
func (n *Node) Execute(ctx context.Context, req protocol.Request) (models.SharedContext, error) {
	var cfg Config
	if err := nodes.Decode(req.NodeID, req.Data, &cfg); err != nil {
		return models.SharedContext{}, err
	}

	target, err := nodes.Render(req.NodeID, "url", cfg.URL, req.Context)
	if err != nil {
		return models.SharedContext{}, err
	}

	if err := nodes.RequireString(req.NodeID, "url", target); err != nil {
		return models.SharedContext{}, err
	}

	capture := Capture{
		URL:      target,
		Format:   defaultFormat,
		Width:    defaultWidth,
		Height:   defaultHeight,
		FullPage: cfg.FullPage == nil || *cfg.FullPage,
	}

	if cfg.Format != "" {
		capture.Format = cfg.Format
	}

	if cfg.Width != 0 {
		capture.Width = cfg.Width
	}

	if cfg.Height != 0 {
		capture.Height = cfg.Height
	}

	result, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, StepName), func(ctx context.Context) (Capture, error) {
		apiKey, err := nodes.ResolveCredential(ctx, n.tracer, n.credentials, req, cfg.CredentialID)
		if err != nil {
			return Capture{}, err
		}

		image, err := n.capture(ctx, apiKey, capture)
		if err != nil {
			return Capture{}, err
		}

		capture.Base64 = base64.StdEncoding.EncodeToString(image)
		capture.Timestamp = n.now().UTC().Format(time.RFC3339Nano)

		return capture, nil
	})
	if err != nil {
		return models.SharedContext{}, err
	}

	return req.Context.With(cfg.VariableName, map[string]any{"screenshot": result.Map()}), nil
}

// CaptureURL builds the URL-to-image request for the capture parameters.
func CaptureURL(baseURL, apiKey string, c Capture) string {
	query := url.Values{}
	query.Set("access_key", apiKey)
	query.Set("url", c.URL)
	query.Set("format", c.Format)
	query.Set("full_page", strconv.FormatBool(c.FullPage))
	query.Set("width", strconv.Itoa(c.Width))
	query.Set("height", strconv.Itoa(c.Height))

	return strings.TrimRight(baseURL, "/") + "/v1/urltoimage?" + query.Encode()
}

func (n *Node) capture(ctx context.Context, apiKey string, c Capture) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, CaptureURL(n.baseURL, apiKey, c), nil)
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "screenshot", Err: err}
	}

	n.logger.DebugContext(ctx, "Capturing screenshot", "url", c.URL, "format", c.Format)

	resp, err := n.client.Do(httpReq)
	if err != nil {
		// The request URL carries the access key; keep it out of the error.
		return nil, &protocol.ExternalServiceError{Service: "screenshot", Err: unwrapURLError(err)}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return nil, &protocol.ExternalServiceError{
			Service:    "screenshot",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("capture %s: %s", c.URL, strings.TrimSpace(string(detail))),
		}
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "screenshot", StatusCode: resp.StatusCode, Err: err}
	}

	return image, nil
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}

	return err
}
