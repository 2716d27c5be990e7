package steps

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowline/pkg/models"
)

type memoryEntry struct {
	data      []byte
	createdAt time.Time
	seq       uint64
}

// MemoryStore keeps step results in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]map[string]memoryEntry
	seq     uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]map[string]memoryEntry)}
}

func (m *MemoryStore) GetStep(_ context.Context, executionID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.results[executionID][stepName]
	if !ok {
		return nil, ErrStepNotFound
	}

	return clone(entry.data), nil
}

func (m *MemoryStore) SaveStep(_ context.Context, executionID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	execution, ok := m.results[executionID]
	if !ok {
		execution = make(map[string]memoryEntry)
		m.results[executionID] = execution
	}

	if _, exists := execution[stepName]; exists {
		return nil
	}

	m.seq++
	execution[stepName] = memoryEntry{data: clone(data), createdAt: time.Now().UTC(), seq: m.seq}

	return nil
}

func (m *MemoryStore) ListSteps(_ context.Context, executionID string) ([]*models.StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execution := m.results[executionID]

	names := make([]string, 0, len(execution))
	for name := range execution {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		return execution[names[i]].seq < execution[names[j]].seq
	})

	results := make([]*models.StepResult, 0, len(names))
	for _, name := range names {
		entry := execution[name]
		results = append(results, &models.StepResult{
			ExecutionID: executionID,
			StepName:    name,
			Data:        clone(entry.data),
			CreatedAt:   entry.createdAt,
		})
	}

	return results, nil
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)

	return out
}
