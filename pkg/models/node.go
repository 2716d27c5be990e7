package models

import "strings"

// NodeType is the tag that selects the executor of a node.
type NodeType string

const (
	NodeTypeInitial           NodeType = "INITIAL"
	NodeTypeManualTrigger     NodeType = "MANUAL_TRIGGER"
	NodeTypeScheduleTrigger   NodeType = "SCHEDULE_TRIGGER"
	NodeTypeGoogleFormTrigger NodeType = "GOOGLE_FORM_TRIGGER"
	NodeTypeStripeTrigger     NodeType = "STRIPE_TRIGGER"
	NodeTypeHTTPRequest       NodeType = "HTTP_REQUEST"
	NodeTypeAnthropic         NodeType = "ANTHROPIC"
	NodeTypeOpenAI            NodeType = "OPENAI"
	NodeTypeGemini            NodeType = "GEMINI"
	NodeTypeHTMLExtract       NodeType = "HTML_EXTRACT"
	NodeTypeScreenshot        NodeType = "SCREENSHOT"
	NodeTypeJSONReshape       NodeType = "JSON_RESHAPE"
	NodeTypeRowInsert         NodeType = "ROW_INSERT"
)

// IsTrigger reports whether the type marks a workflow entry point.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeInitial, NodeTypeManualTrigger, NodeTypeScheduleTrigger,
		NodeTypeGoogleFormTrigger, NodeTypeStripeTrigger:
		return true
	default:
		return false
	}
}

// Slug returns the kebab-case form of the type, e.g. "http-request".
func (t NodeType) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", "-")
}

// Node is a configured unit of work in a workflow graph.
// Data holds the type-specific configuration as edited on the canvas.
type Node struct {
	ID         string         `json:"id"          validate:"required"`
	WorkflowID string         `json:"workflow_id"`
	Type       NodeType       `json:"type"        validate:"required"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data"`
}

// Connection is a directed ordering constraint: From runs strictly before To.
type Connection struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	FromNodeID string `json:"from_node_id" validate:"required"`
	ToNodeID   string `json:"to_node_id"   validate:"required"`
}
