package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// GraphValidator checks the node configuration of a workflow. *registry.Registry implements it.
type GraphValidator interface {
	ValidateWorkflow(workflow *models.Workflow) error
}

// Repository stores workflow graphs on behalf of their owners.
type Repository struct {
	persistence persistence.Persistence
	nodes       GraphValidator
	validate    *validator.Validate
}

// NewRepository creates a repository. A nil nodes validator skips node data checks.
func NewRepository(p persistence.Persistence, nodes GraphValidator) *Repository {
	return &Repository{
		persistence: p,
		nodes:       nodes,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := r.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return make([]*models.Workflow, 0), err
	}

	return workflows, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.persistence.WorkflowRepository().GetByID(ctx, id)
}

// FetchOwned returns the workflow only if userID owns it; otherwise
// ErrWorkflowNotFound, so callers cannot probe other users' workflows.
func (r *Repository) FetchOwned(ctx context.Context, id, userID string) (*models.Workflow, error) {
	workflow, err := r.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.UserID != userID {
		return nil, persistence.NewWorkflowError("FetchOwned", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// FetchByNodeType returns the workflows containing a node of nodeType.
func (r *Repository) FetchByNodeType(ctx context.Context, nodeType models.NodeType) ([]*models.Workflow, error) {
	return r.persistence.WorkflowRepository().FindByNodeType(ctx, nodeType)
}

// Create assigns ids to the workflow and its graph, validates and stores it.
func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	for _, conn := range workflow.Connections {
		if conn.ID == "" {
			conn.ID = uuid.New().String()
		}
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := r.check(workflow); err != nil {
		return nil, err
	}

	if err := r.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Update replaces the graph of an existing workflow, keeping its id, owner and creation time.
func (r *Repository) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := r.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.UserID = existing.UserID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	for _, conn := range workflow.Connections {
		if conn.ID == "" {
			conn.ID = uuid.New().String()
		}
	}

	if err := r.check(workflow); err != nil {
		return nil, err
	}

	if err := r.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.FetchByID(ctx, id); err != nil {
		return err
	}

	return r.persistence.WorkflowRepository().Delete(ctx, id)
}

// Executions lists the executions of a workflow, newest first.
func (r *Repository) Executions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
}

func (r *Repository) check(workflow *models.Workflow) error {
	if err := r.validate.Struct(workflow); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	for _, node := range workflow.Nodes {
		if err := r.validate.Struct(node); err != nil {
			return fmt.Errorf("invalid node %q: %w", node.ID, err)
		}
	}

	for _, conn := range workflow.Connections {
		if err := r.validate.Struct(conn); err != nil {
			return fmt.Errorf("invalid connection %q: %w", conn.ID, err)
		}
	}

	if r.nodes != nil {
		return r.nodes.ValidateWorkflow(workflow)
	}

	return nil
}
