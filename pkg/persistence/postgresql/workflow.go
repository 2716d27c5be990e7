package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflowBase(row rowScanner) (*models.Workflow, error) {
	var workflow models.Workflow

	if err := row.Scan(&workflow.ID, &workflow.Name, &workflow.UserID, &workflow.CreatedAt, &workflow.UpdatedAt); err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *WorkflowRepository) query(ctx context.Context, where string, args ...any) ([]*models.Workflow, error) {
	query := `
		SELECT
			w.id
		  , w.name
		  , w.user_id
		  , w.created_at
		  , w.updated_at
		FROM workflows w
	` + where + `
		ORDER BY w.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadGraph(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

// GetAll returns all workflows with their graphs.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, "")
}

// FindByNodeType returns workflows containing at least one node of nodeType.
func (r *WorkflowRepository) FindByNodeType(ctx context.Context, nodeType models.NodeType) ([]*models.Workflow, error) {
	return r.query(ctx,
		"WHERE EXISTS (SELECT 1 FROM workflow_nodes n WHERE n.workflow_id = w.id AND n.node_type = $1)",
		string(nodeType))
}

// GetByID returns the workflow graph.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, name, user_id, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	workflow, err := r.scanWorkflowBase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if err := r.loadGraph(ctx, workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save upserts the workflow and replaces its nodes and connections in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			user_id = EXCLUDED.user_id,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.Name, workflow.UserID, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM workflow_connections WHERE workflow_id = $1", workflow.ID); err != nil {
		return fmt.Errorf("failed to delete existing connections: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID); err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	for position, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID

		var data []byte

		data, err = json.Marshal(nodeData(node))
		if err != nil {
			return fmt.Errorf("failed to marshal node %s data: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_nodes (workflow_id, id, node_type, name, data, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, workflow.ID, node.ID, string(node.Type), node.Name, data, position)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	for position, conn := range workflow.Connections {
		conn.WorkflowID = workflow.ID
		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_connections (workflow_id, id, from_node_id, to_node_id, position)
			VALUES ($1, $2, $3, $4, $5)
		`, workflow.ID, conn.ID, conn.FromNodeID, conn.ToNodeID, position)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", conn.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func nodeData(node *models.Node) map[string]any {
	if node.Data == nil {
		return map[string]any{}
	}

	return node.Data
}

// Delete removes a workflow; nodes and connections cascade.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

// loadGraph fills nodes and connections in their stored order.
func (r *WorkflowRepository) loadGraph(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, name, data
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		var (
			node     models.Node
			nodeType string
			data     []byte
		)

		if err := rows.Scan(&node.ID, &nodeType, &node.Name, &data); err != nil {
			_ = rows.Close()

			return fmt.Errorf("failed to scan node: %w", err)
		}

		node.WorkflowID = workflow.ID
		node.Type = models.NodeType(nodeType)

		if err := json.Unmarshal(data, &node.Data); err != nil {
			_ = rows.Close()

			return fmt.Errorf("failed to unmarshal node data: %w", err)
		}

		nodes = append(nodes, &node)
	}

	if err := rows.Close(); err != nil {
		return err
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT id, from_node_id, to_node_id
		FROM workflow_connections
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow connections: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	connections := make([]*models.Connection, 0)

	for rows.Next() {
		conn := models.Connection{WorkflowID: workflow.ID}

		if err := rows.Scan(&conn.ID, &conn.FromNodeID, &conn.ToNodeID); err != nil {
			return fmt.Errorf("failed to scan connection: %w", err)
		}

		connections = append(connections, &conn)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating connections: %w", err)
	}

	workflow.Nodes = nodes
	workflow.Connections = connections

	return nil
}
