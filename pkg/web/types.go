package web

import (
	"encoding/json"
	"time"

	"github.com/dukex/flowline/pkg/models"
)

// WorkflowRequest is the body of workflow create and update calls. The
// graph is always replaced as a whole.
type WorkflowRequest struct {
	Name        string               `json:"name"        validate:"required,min=1"`
	Nodes       []*models.Node       `json:"nodes"       validate:"dive"`
	Connections []*models.Connection `json:"connections" validate:"dive"`
}

// ExecuteWorkflowRequest is the body of a manual execution.
type ExecuteWorkflowRequest struct {
	InitialData map[string]any `json:"initialData"`
}

// ExecuteWorkflowResponse identifies the execution that was started.
type ExecuteWorkflowResponse struct {
	ExecutionID string `json:"executionId"`
}

// NodeTypeResponse describes a registered node type for the editor.
type NodeTypeResponse struct {
	Type        models.NodeType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Channel     string          `json:"channel"`
	Schema      map[string]any  `json:"schema"`
}

// StepResultResponse is one recorded step of an execution.
type StepResultResponse struct {
	StepName  string          `json:"stepName"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}
