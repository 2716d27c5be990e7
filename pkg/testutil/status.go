package testutil

import (
	"context"
	"sync"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
)

// PublishedStatus is one status event captured by StatusRecorder.
type PublishedStatus struct {
	Channel string
	Topic   string
	Event   models.StatusEvent
}

var _ protocol.StatusPublisher = (*StatusRecorder)(nil)

// StatusRecorder records every published status event in order.
type StatusRecorder struct {
	mu     sync.Mutex
	events []PublishedStatus
}

func NewStatusRecorder() *StatusRecorder {
	return &StatusRecorder{}
}

func (r *StatusRecorder) Publish(_ context.Context, channel, topic string, event models.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, PublishedStatus{Channel: channel, Topic: topic, Event: event})

	return nil
}

// Events returns a copy of the recorded events.
func (r *StatusRecorder) Events() []PublishedStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PublishedStatus, len(r.events))
	copy(out, r.events)

	return out
}

// StatusesFor returns the statuses published for nodeID, in order.
func (r *StatusRecorder) StatusesFor(nodeID string) []models.NodeStatus {
	var out []models.NodeStatus

	for _, e := range r.Events() {
		if e.Event.NodeID == nodeID {
			out = append(out, e.Event.Status)
		}
	}

	return out
}

// Count returns how many times status was published for nodeID.
func (r *StatusRecorder) Count(nodeID string, status models.NodeStatus) int {
	n := 0

	for _, s := range r.StatusesFor(nodeID) {
		if s == status {
			n++
		}
	}

	return n
}

// NewRequest builds an executor request backed by an in-memory step store
// and a fresh StatusRecorder.
func NewRequest(nodeID string, data map[string]any, sc models.SharedContext) (protocol.Request, *StatusRecorder) {
	recorder := NewStatusRecorder()

	return protocol.Request{
		NodeID:      nodeID,
		UserID:      "test-user",
		ExecutionID: "test-execution",
		Data:        data,
		Context:     sc,
		Steps:       steps.NewRunner(steps.NewMemoryStore(), "test-execution", NopLogger()),
		Status:      recorder,
	}, recorder
}
