// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/flowline/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test Node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:   uuid.New().String(),
		Type: models.NodeTypeManualTrigger,
		Name: "Test Node",
		Data: map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithData sets the node data.
func WithData(data map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Data = data
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithType sets the node type.
func WithType(nodeType models.NodeType) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// CreateTestWorkflow creates an empty test workflow owned by "test-user".
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		UserID:      "test-user",
		Nodes:       []*models.Node{},
		Connections: []*models.Connection{},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithNodes appends nodes to the workflow.
func WithNodes(nodes ...*models.Node) func(*models.Workflow) {
	return func(w *models.Workflow) {
		for _, n := range nodes {
			n.WorkflowID = w.ID
		}

		w.Nodes = append(w.Nodes, nodes...)
	}
}

// WithChain connects the given node ids in sequence.
func WithChain(nodeIDs ...string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		for i := 1; i < len(nodeIDs); i++ {
			conn := CreateTestConnection(nodeIDs[i-1], nodeIDs[i])
			conn.WorkflowID = w.ID
			w.Connections = append(w.Connections, conn)
		}
	}
}

// WithOwner sets the workflow owner.
func WithOwner(userID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.UserID = userID
	}
}

// CreateTestWorkflowWithNodes creates a manual trigger followed by an HTTP request node.
func CreateTestWorkflowWithNodes() *models.Workflow {
	trigger := CreateTestNode(WithID("trigger-1"))
	request := CreateTestNode(
		WithID("request-1"),
		WithName("Fetch"),
		WithType(models.NodeTypeHTTPRequest),
		WithData(map[string]any{
			"endpoint":     "https://example.com",
			"method":       "GET",
			"variableName": "httpResult",
		}),
	)

	return CreateTestWorkflow(
		WithNodes(trigger, request),
		WithChain("trigger-1", "request-1"),
	)
}

// CreateTestConnection creates a test connection between two nodes.
func CreateTestConnection(fromNodeID, toNodeID string) *models.Connection {
	return &models.Connection{
		ID:         uuid.New().String(),
		FromNodeID: fromNodeID,
		ToNodeID:   toNodeID,
	}
}
