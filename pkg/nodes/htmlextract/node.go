// Package htmlextract provides the node that scrapes values out of a web page
// with a CSS selector.
package htmlextract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
)

const (
	// StepName is the durable step the fetch and extraction run under.
	StepName = "html-extract"

	fetchTimeout = 30 * time.Second
	maxPageBytes = 10 << 20

	modeText = "text"
	modeHTML = "html"
	attrMode = "attr:"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Config defines the data of an HTML_EXTRACT node.
type Config struct {
	VariableName     string `json:"variableName"     validate:"required,varname"`
	URL              string `json:"url"              validate:"required"`
	Selector         string `json:"selector"         validate:"required"`
	ExtractAttribute string `json:"extractAttribute"`
	ExtractMultiple  bool   `json:"extractMultiple"`
}

// Result is what the node stores under its variable name. Extracted is a
// string for a single match and a map keyed by KeyFor for multiple matches.
type Result struct {
	Extracted     any    `json:"extracted"`
	Selector      string `json:"selector"`
	ElementsFound int    `json:"elementsFound"`
}

func (r Result) Map() map[string]any {
	return map[string]any{
		"extracted":     r.Extracted,
		"selector":      r.Selector,
		"elementsFound": r.ElementsFound,
	}
}

// KeyFor returns the multi-match key of the index-th (1-based) element.
func KeyFor(selector string, index int) string {
	return nonAlphanumeric.ReplaceAllString(selector, "") + strconv.Itoa(index)
}

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

	mode := cfg.ExtractAttribute
	if mode == "" {
		mode = modeText
	}

	if mode == attrMode {
		return models.SharedContext{}, protocol.NewConfigurationError(req.NodeID, "extractAttribute %q names no attribute", mode)
	}

	pageURL, err := nodes.Render(req.NodeID, "url", cfg.URL, req.Context)
	if err != nil {
		return models.SharedContext{}, err
	}

	if err := nodes.RequireString(req.NodeID, "url", pageURL); err != nil {
		return models.SharedContext{}, err
	}

	result, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, StepName), func(ctx context.Context) (Result, error) {
		doc, err := n.fetch(ctx, pageURL)
		if err != nil {
			return Result{}, err
		}

		return extract(req.NodeID, doc, cfg.Selector, mode, cfg.ExtractMultiple)
	})
	if err != nil {
		return models.SharedContext{}, err
	}

	return req.Context.With(cfg.VariableName, result.Map()), nil
}

func (n *Node) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "html-extract", Err: err}
	}

	n.logger.DebugContext(ctx, "Fetching page", "url", pageURL)

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "html-extract", Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &protocol.ExternalServiceError{
			Service:    "html-extract",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("fetch %s: %s", pageURL, http.StatusText(resp.StatusCode)),
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &protocol.ExternalServiceError{Service: "html-extract", StatusCode: resp.StatusCode, Err: fmt.Errorf("parse page: %w", err)}
	}

	return doc, nil
}

func extract(nodeID string, doc *goquery.Document, selector, mode string, multiple bool) (Result, error) {
	// goquery yields an empty selection for a selector it cannot parse.
	selection := doc.Find(selector)
	if selection.Length() == 0 {
		return Result{}, protocol.NewConfigurationError(nodeID, "no elements found with selector: %s", selector)
	}

	result := Result{Selector: selector, ElementsFound: selection.Length()}

	if !multiple {
		value, _ := valueOf(selection.First(), mode)
		result.Extracted = value

		return result, nil
	}

	extracted := make(map[string]any, selection.Length())

	selection.Each(func(i int, el *goquery.Selection) {
		entry := map[string]any{}

		value, found := valueOf(el, mode)
		if found {
			entry[fieldFor(mode)] = value
		}

		extracted[KeyFor(selector, i+1)] = entry
	})

	result.Extracted = extracted

	return result, nil
}

// valueOf extracts one value. Unknown modes fall back to text. The boolean
// is false only for an absent attribute.
func valueOf(el *goquery.Selection, mode string) (string, bool) {
	switch {
	case mode == modeHTML:
		html, err := el.Html()
		if err != nil {
			return "", true
		}

		return html, true
	case strings.HasPrefix(mode, attrMode):
		return el.Attr(strings.TrimPrefix(mode, attrMode))
	default:
		return strings.TrimSpace(el.Text()), true
	}
}

func fieldFor(mode string) string {
	switch {
	case mode == modeHTML:
		return modeHTML
	case strings.HasPrefix(mode, attrMode):
		return strings.TrimPrefix(mode, attrMode)
	default:
		return modeText
	}
}
