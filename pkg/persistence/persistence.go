// Package persistence provides the data storage abstraction for workflows, executions, credentials and step results.
package persistence

import (
	"context"

	"github.com/dukex/flowline/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	CredentialRepository() CredentialRepository
	StepRepository() StepRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow graphs. A workflow is always read and
// written together with its nodes and connections.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	// GetByID returns the workflow graph or ErrWorkflowNotFound.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// FindByNodeType returns workflows containing at least one node of nodeType.
	FindByNodeType(ctx context.Context, nodeType models.NodeType) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	// Update persists a RUNNING execution. An execution already recorded as
	// terminal is never overwritten: ErrExecutionFinished is returned instead.
	Update(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	GetByEventID(ctx context.Context, eventID string) (*models.Execution, error)
	// FindRunning returns the most recently started RUNNING execution of a workflow.
	FindRunning(ctx context.Context, workflowID string) (*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
}

// CredentialRepository stores encrypted credentials scoped to their owner.
type CredentialRepository interface {
	Save(ctx context.Context, credential *models.Credential) error
	// GetByID returns ErrCredentialNotFound unless the credential exists and is owned by userID.
	GetByID(ctx context.Context, id, userID string) (*models.Credential, error)
	Delete(ctx context.Context, id, userID string) error
}

// StepRepository is the append-only table of durable step results.
type StepRepository interface {
	// GetStep returns the recorded result or ErrStepResultNotFound.
	GetStep(ctx context.Context, executionID, stepName string) ([]byte, error)
	// SaveStep records a result once; later saves for the same key are ignored.
	SaveStep(ctx context.Context, executionID, stepName string, data []byte) error
	ListSteps(ctx context.Context, executionID string) ([]*models.StepResult, error)
}
