// Package events defines the messages exchanged between the API, the
// scheduler and the workers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every engine event.
const Topic = "flowline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ExecutionRequestedEvent asks a worker to run an execution.
	ExecutionRequestedEvent EventType = "execution.requested"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

// ExecutionRequested is published once the RUNNING execution record exists.
// The event ID is the execution's EventID, used to find it on failure.
type ExecutionRequested struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	UserID      string         `json:"user_id"`
	Source      string         `json:"source,omitempty"`
	InitialData map[string]any `json:"initial_data,omitempty"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// NewExecutionRequested builds the event with a fresh id.
func NewExecutionRequested(workflowID, executionID, userID, source string, initialData map[string]any) ExecutionRequested {
	return ExecutionRequested{
		BaseEvent: BaseEvent{
			ID:         uuid.New().String(),
			Type:       ExecutionRequestedEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: workflowID,
		},
		ExecutionID: executionID,
		UserID:      userID,
		Source:      source,
		InitialData: initialData,
	}
}
