package models

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// Execution is the mutable record of one run of a workflow.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Output      SharedContext   `json:"output"`
	Error       string          `json:"error,omitempty"`
	ErrorStack  string          `json:"error_stack,omitempty"`
	EventID     string          `json:"event_id,omitempty"`
}

// Succeed moves the execution to SUCCESS with the final context.
func (e *Execution) Succeed(output SharedContext, at time.Time) {
	e.Status = ExecutionStatusSuccess
	e.Output = output
	e.CompletedAt = &at
}

// Fail moves the execution to FAILED with the error detail.
func (e *Execution) Fail(message, stack string, at time.Time) {
	e.Status = ExecutionStatusFailed
	e.Error = message
	e.ErrorStack = stack
	e.CompletedAt = &at
}

// StepResult is a memoized durable step outcome, keyed by (ExecutionID, StepName).
type StepResult struct {
	ExecutionID string    `json:"execution_id"`
	StepName    string    `json:"step_name"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}
