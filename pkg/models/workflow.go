// Package models defines the core domain models for graph-based workflow execution.
package models

import "time"

// Workflow is a user-owned graph of nodes and connections.
type Workflow struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"        validate:"required,min=1"`
	UserID      string        `json:"user_id"     validate:"required"`
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NodeByID returns the node with the given id, if any.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// HasNodeType reports whether any node of the workflow has the given type.
func (w *Workflow) HasNodeType(nodeType NodeType) bool {
	for _, node := range w.Nodes {
		if node.Type == nodeType {
			return true
		}
	}

	return false
}
