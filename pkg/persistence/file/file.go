// Package file provides file-based persistence for local development and tests.
//
// Every entity is a JSON document under the root directory:
//
//	workflows/{id}.json        workflow with its nodes and connections
//	executions/{id}.json       execution record
//	credentials/{id}.json      encrypted credential
//	steps/{executionID}/{key}.json  step result, key is the base64url step name
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowline/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	mu             *sync.RWMutex
	workflowRepo   *WorkflowRepository
	executionRepo  *ExecutionRepository
	credentialRepo *CredentialRepository
	stepRepo       *StepRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	mu := &sync.RWMutex{}
	docs := &documents{root: cleanRoot, mu: mu}

	return &Persistence{
		root:           cleanRoot,
		mu:             mu,
		workflowRepo:   &WorkflowRepository{docs: docs},
		executionRepo:  &ExecutionRepository{docs: docs},
		credentialRepo: &CredentialRepository{docs: docs},
		stepRepo:       &StepRepository{docs: docs},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) CredentialRepository() persistence.CredentialRepository {
	return fp.credentialRepo
}

func (fp *Persistence) StepRepository() persistence.StepRepository {
	return fp.stepRepo
}

// documents reads and writes JSON documents under root. One lock guards the
// whole tree so read-check-write sequences are atomic within a process.
type documents struct {
	root string
	mu   *sync.RWMutex
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: identifier cannot be empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (d *documents) path(elem ...string) string {
	return filepath.Join(append([]string{d.root}, elem...)...)
}

// read decodes the document into v. It returns fs.ErrNotExist when missing.
func (d *documents) read(v any, elem ...string) error {
	data, err := os.ReadFile(d.path(elem...)) // #nosec G304 -- path elements are validated by callers
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

func (d *documents) write(v any, elem ...string) error {
	filePath := d.path(elem...)

	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(filePath), err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(filePath), err)
	}

	return os.Rename(tmp, filePath)
}

func (d *documents) remove(elem ...string) error {
	err := os.Remove(d.path(elem...))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// list returns the IDs of every document in dir.
func (d *documents) list(dir ...string) ([]string, error) {
	jsonFiles, err := fs.Glob(os.DirFS(d.path(dir...)), "*.json")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
