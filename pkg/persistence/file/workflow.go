package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	docs *documents
}

// GetAll returns every workflow ordered by creation time.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	wr.docs.mu.RLock()
	defer wr.docs.mu.RUnlock()

	ids, err := wr.docs.list(workflowsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.get(id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID returns the workflow graph.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.docs.mu.RLock()
	defer wr.docs.mu.RUnlock()

	return wr.get(id)
}

func (wr *WorkflowRepository) get(id string) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.Workflow

	if err := wr.docs.read(&workflow, workflowsDir, id+".json"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

// FindByNodeType returns workflows containing a node of the given type.
func (wr *WorkflowRepository) FindByNodeType(ctx context.Context, nodeType models.NodeType) ([]*models.Workflow, error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*models.Workflow

	for _, workflow := range all {
		if workflow.HasNodeType(nodeType) {
			matches = append(matches, workflow)
		}
	}

	return matches, nil
}

// Save writes the workflow with its nodes and connections.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	wr.docs.mu.Lock()
	defer wr.docs.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	for _, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID
	}

	for _, conn := range workflow.Connections {
		conn.WorkflowID = workflow.ID
	}

	if err := wr.docs.write(workflow, workflowsDir, workflow.ID+".json"); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	wr.docs.mu.Lock()
	defer wr.docs.mu.Unlock()

	return wr.docs.remove(workflowsDir, id+".json")
}
