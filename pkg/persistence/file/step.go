package file

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

const stepsDir = "steps"

// StepRepository stores durable step results, one file per step.
type StepRepository struct {
	docs *documents
}

func stepFile(stepName string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(stepName)) + ".json"
}

func (sr *StepRepository) GetStep(_ context.Context, executionID, stepName string) ([]byte, error) {
	if err := validateID(executionID); err != nil {
		return nil, err
	}

	sr.docs.mu.RLock()
	defer sr.docs.mu.RUnlock()

	var result models.StepResult

	if err := sr.docs.read(&result, stepsDir, executionID, stepFile(stepName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrStepResultNotFound
		}

		return nil, err
	}

	return result.Data, nil
}

func (sr *StepRepository) SaveStep(_ context.Context, executionID, stepName string, data []byte) error {
	if err := validateID(executionID); err != nil {
		return err
	}

	sr.docs.mu.Lock()
	defer sr.docs.mu.Unlock()

	var existing models.StepResult
	if err := sr.docs.read(&existing, stepsDir, executionID, stepFile(stepName)); err == nil {
		return nil
	}

	return sr.docs.write(models.StepResult{
		ExecutionID: executionID,
		StepName:    stepName,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}, stepsDir, executionID, stepFile(stepName))
}

func (sr *StepRepository) ListSteps(_ context.Context, executionID string) ([]*models.StepResult, error) {
	if err := validateID(executionID); err != nil {
		return nil, err
	}

	sr.docs.mu.RLock()
	defer sr.docs.mu.RUnlock()

	keys, err := sr.docs.list(stepsDir, executionID)
	if err != nil {
		return nil, err
	}

	results := make([]*models.StepResult, 0, len(keys))

	for _, key := range keys {
		var result models.StepResult
		if err := sr.docs.read(&result, stepsDir, executionID, key+".json"); err != nil {
			return nil, err
		}

		results = append(results, &result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	return results, nil
}
