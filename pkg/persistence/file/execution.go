package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	docs *documents
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	er.docs.mu.Lock()
	defer er.docs.mu.Unlock()

	if err := er.docs.write(execution, executionsDir, execution.ID+".json"); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	er.docs.mu.Lock()
	defer er.docs.mu.Unlock()

	current, err := er.get(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if current.Status.IsTerminal() {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionFinished)
	}

	if err := er.docs.write(execution, executionsDir, execution.ID+".json"); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	execution, err := er.get(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) get(id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var execution models.Execution

	if err := er.docs.read(&execution, executionsDir, id+".json"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) all() ([]*models.Execution, error) {
	ids, err := er.docs.list(executionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := er.get(id)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	// newest first
	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) GetByEventID(_ context.Context, eventID string) (*models.Execution, error) {
	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	for _, execution := range executions {
		if eventID != "" && execution.EventID == eventID {
			return execution, nil
		}
	}

	return nil, persistence.NewExecutionError("GetByEventID", eventID, persistence.ErrExecutionNotFound)
}

func (er *ExecutionRepository) FindRunning(_ context.Context, workflowID string) (*models.Execution, error) {
	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	for _, execution := range executions {
		if execution.WorkflowID == workflowID && execution.Status == models.ExecutionStatusRunning {
			return execution, nil
		}
	}

	return nil, persistence.NewExecutionError("FindRunning", workflowID, persistence.ErrExecutionNotFound)
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Execution, 0)

	for _, execution := range executions {
		if execution.WorkflowID == workflowID {
			out = append(out, execution)
		}
	}

	return out, nil
}
