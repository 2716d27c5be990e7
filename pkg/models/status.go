package models

// NodeStatus is the live status of a node as shown on the canvas.
type NodeStatus string

const (
	NodeStatusLoading NodeStatus = "loading"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// StatusEvent is the payload published on a node type's status topic.
type StatusEvent struct {
	NodeID string     `json:"nodeId"`
	Status NodeStatus `json:"status"`
}
