package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

const executionColumns = `id, workflow_id, status, started_at, completed_at, output, error, error_stack, event_id`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	output, err := json.Marshal(execution.Output)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		execution.ID,
		execution.WorkflowID,
		string(execution.Status),
		execution.StartedAt,
		execution.CompletedAt,
		output,
		nullString(execution.Error),
		nullString(execution.ErrorStack),
		nullString(execution.EventID),
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update writes the execution only while the stored row is RUNNING, so a
// terminal status is recorded at most once.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	output, err := json.Marshal(execution.Output)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE executions SET
			status = $2,
			completed_at = $3,
			output = $4,
			error = $5,
			error_stack = $6,
			event_id = COALESCE($7, event_id)
		WHERE id = $1 AND status = 'RUNNING'
	`,
		execution.ID,
		string(execution.Status),
		execution.CompletedAt,
		output,
		nullString(execution.Error),
		nullString(execution.ErrorStack),
		nullString(execution.EventID),
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		if _, err := r.GetByID(ctx, execution.ID); err != nil {
			return err
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionFinished)
	}

	return nil
}

func (r *ExecutionRepository) scan(row rowScanner) (*models.Execution, error) {
	var (
		execution                 models.Execution
		status                    string
		output                    []byte
		errMsg, errStack, eventID sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&status,
		&execution.StartedAt,
		&execution.CompletedAt,
		&output,
		&errMsg,
		&errStack,
		&eventID,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.Error = errMsg.String
	execution.ErrorStack = errStack.String
	execution.EventID = eventID.String

	if len(output) > 0 {
		if err := json.Unmarshal(output, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution output: %w", err)
		}
	}

	return &execution, nil
}

func (r *ExecutionRepository) getOne(ctx context.Context, op, key, where string, arg any) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions `+where, arg)

	execution, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError(op, key, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError(op, key, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	return r.getOne(ctx, "GetByID", id, `WHERE id = $1`, id)
}

func (r *ExecutionRepository) GetByEventID(ctx context.Context, eventID string) (*models.Execution, error) {
	return r.getOne(ctx, "GetByEventID", eventID, `WHERE event_id = $1`, eventID)
}

func (r *ExecutionRepository) FindRunning(ctx context.Context, workflowID string) (*models.Execution, error) {
	return r.getOne(ctx, "FindRunning", workflowID,
		`WHERE workflow_id = $1 AND status = 'RUNNING' ORDER BY started_at DESC LIMIT 1`, workflowID)
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
