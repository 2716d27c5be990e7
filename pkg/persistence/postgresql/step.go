package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

// StepRepository is the append-only step_results table.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

func (r *StepRepository) GetStep(ctx context.Context, executionID, stepName string) ([]byte, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM step_results WHERE execution_id = $1 AND step_name = $2`,
		executionID, stepName,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepResultNotFound
		}

		return nil, fmt.Errorf("failed to query step result: %w", err)
	}

	return data, nil
}

// SaveStep inserts the result; a concurrent or repeated save keeps the first row.
func (r *StepRepository) SaveStep(ctx context.Context, executionID, stepName string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO step_results (execution_id, step_name, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (execution_id, step_name) DO NOTHING
	`, executionID, stepName, data)
	if err != nil {
		return fmt.Errorf("failed to save step result: %w", err)
	}

	return nil
}

func (r *StepRepository) ListSteps(ctx context.Context, executionID string) ([]*models.StepResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, step_name, data, created_at
		FROM step_results
		WHERE execution_id = $1
		ORDER BY created_at
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	results := make([]*models.StepResult, 0)

	for rows.Next() {
		var result models.StepResult
		if err := rows.Scan(&result.ExecutionID, &result.StepName, &result.Data, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}

		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step results: %w", err)
	}

	return results, nil
}
