// Package rowinsert provides the node that inserts one row into an external
// PostgREST-compatible table store.
package rowinsert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/dukex/flowline/pkg/template"
	"go.opentelemetry.io/otel/trace"
)

const (
	// StepName is the durable step the insert runs under. A re-run of the
	// same execution replays the recorded rows instead of inserting again.
	StepName = "insert-row"

	// LegacyOutputKey holds the inserted rows when no variable name is set.
	LegacyOutputKey = "_rowInserted"

	insertTimeout = 30 * time.Second
)

// ColumnMapping renders Value into Column.
type ColumnMapping struct {
	Column string `json:"column" validate:"required"`
	Value  string `json:"value"`
}

// Config defines the data of a ROW_INSERT node.
type Config struct {
	CredentialID string          `json:"credentialId" validate:"required"`
	Table        string          `json:"table"        validate:"required"`
	Mapping      []ColumnMapping `json:"mapping"      validate:"required,dive"`
	VariableName string          `json:"variableName" validate:"omitempty,varname"`
}

// Credential is the decrypted row store credential. The url/key spelling is
// accepted for credentials created before endpointUrl/apiKey.
type Credential struct {
	EndpointURL string `json:"endpointUrl"`
	APIKey      string `json:"apiKey"`
	URL         string `json:"url"`
	Key         string `json:"key"`
}

// ParseCredential decodes a row store credential.
func ParseCredential(nodeID, value string) (endpoint, apiKey string, err error) {
	var cred Credential
	if err := json.Unmarshal([]byte(value), &cred); err != nil {
		return "", "", protocol.WrapConfigurationError(nodeID,
			`row store credential must be JSON like {"endpointUrl": "...", "apiKey": "..."}`, err)
	}

	endpoint = firstNonEmpty(cred.EndpointURL, cred.URL)
	apiKey = firstNonEmpty(cred.APIKey, cred.Key)

	if endpoint == "" || apiKey == "" {
		return "", "", protocol.NewConfigurationError(nodeID, "row store credential must include endpointUrl and apiKey")
	}

	return endpoint, apiKey, nil
}

// BuildRow renders every mapping against the context. Values that render
// blank are omitted so the store applies column defaults. Objects, arrays,
// numbers and booleans are inserted typed and the rest as strings.
func BuildRow(nodeID string, mapping []ColumnMapping, sc models.SharedContext) (map[string]any, error) {
	row := make(map[string]any, len(mapping))

	for _, m := range mapping {
		rendered, err := nodes.Render(nodeID, "mapping "+m.Column, m.Value, sc)
		if err != nil {
			return nil, err
		}

		if strings.TrimSpace(rendered) == "" {
			continue
		}

		typed, err := template.Parse(rendered)
		if err != nil {
			return nil, protocol.WrapConfigurationError(nodeID, "mapping "+m.Column, err)
		}

		row[m.Column] = typed
	}

	return row, nil
}

type Node struct {
	client      *http.Client
	credentials protocol.CredentialResolver
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Execute implements nodes.Body.
func (n *Node) Execute(ctx context.Context, req protocol.Request) (models.SharedContext, error) {
	var cfg Config
	if err := nodes.Decode(req.NodeID, req.Data, &cfg); err != nil {
		return models.SharedContext{}, err
	}

	row, err := BuildRow(req.NodeID, cfg.Mapping, req.Context)
	if err != nil {
		return models.SharedContext{}, err
	}

	inserted, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, StepName), func(ctx context.Context) ([]map[string]any, error) {
		value, err := nodes.ResolveCredential(ctx, n.tracer, n.credentials, req, cfg.CredentialID)
		if err != nil {
			return nil, err
		}

		endpoint, apiKey, err := ParseCredential(req.NodeID, value)
		if err != nil {
			return nil, err
		}

		return n.insert(ctx, endpoint, apiKey, cfg.Table, row)
	})
	if err != nil {
		return models.SharedContext{}, err
	}

	n.logger.InfoContext(ctx, "Row stored",
		"node_id", req.NodeID,
		"execution_id", req.ExecutionID,
		"table", cfg.Table,
		"columns", len(row))

	if cfg.VariableName == "" {
		return req.Context.With(LegacyOutputKey, inserted), nil
	}

	var first any
	if len(inserted) > 0 {
		first = inserted[0]
	}

	return req.Context.With(cfg.VariableName, first), nil
}

func (n *Node) insert(ctx context.Context, endpoint, apiKey, table string, row map[string]any) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	body, err := json.Marshal([]map[string]any{row})
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	target := strings.TrimRight(endpoint, "/") + "/rest/v1/" + url.PathEscape(table)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "row-store", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "return=representation")
	httpReq.Header.Set("apikey", apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "row-store", Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "row-store", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &protocol.ExternalServiceError{Service: "row-store", StatusCode: resp.StatusCode, Err: storeError(raw)}
	}

	var rows []map[string]any

	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, &protocol.ExternalServiceError{Service: "row-store", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode inserted rows: %w", err)}
		}
	}

	return rows, nil
}

// storeError extracts the message of a PostgREST error body.
func storeError(raw []byte) error {
	var body struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}

	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		if body.Details != "" {
			return fmt.Errorf("%s: %s", body.Message, body.Details)
		}

		return errors.New(body.Message)
	}

	return errors.New(strings.TrimSpace(string(raw)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
