package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// children first, parents last
	for _, table := range []string{"step_results", "credentials", "executions", "workflow_connections", "workflow_nodes", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowline_test"),
			postgres.WithUsername("flowline"),
			postgres.WithPassword("flowline"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"workflows", "workflow_nodes", "workflow_connections", "executions", "credentials", "step_results"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_GraphRoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		Name:   "Daily digest",
		UserID: "user-1",
		Nodes: []*models.Node{
			{ID: "schedule", Type: models.NodeTypeScheduleTrigger, Data: map[string]any{"cron": "0 8 * * *"}},
			{ID: "fetch", Type: models.NodeTypeHTTPRequest, Data: map[string]any{"endpoint": "https://example.com", "method": "GET"}},
			{ID: "summarize", Type: models.NodeTypeOpenAI},
		},
		Connections: []*models.Connection{
			{FromNodeID: "schedule", ToNodeID: "fetch"},
			{FromNodeID: "fetch", ToNodeID: "summarize"},
		},
	}

	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Daily digest", loaded.Name)
	require.Len(t, loaded.Nodes, 3)
	assert.Equal(t, []string{"schedule", "fetch", "summarize"}, []string{loaded.Nodes[0].ID, loaded.Nodes[1].ID, loaded.Nodes[2].ID})
	assert.Equal(t, "0 8 * * *", loaded.Nodes[0].Data["cron"])
	assert.Empty(t, loaded.Nodes[2].Data)
	require.Len(t, loaded.Connections, 2)
	assert.Equal(t, "fetch", loaded.Connections[1].FromNodeID)

	scheduled, err := repo.FindByNodeType(ctx, models.NodeTypeScheduleTrigger)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Len(t, scheduled[0].Nodes, 3)

	// saving again replaces the graph
	loaded.Nodes = loaded.Nodes[:1]
	loaded.Connections = nil
	require.NoError(t, repo.Save(ctx, loaded))

	reloaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Nodes, 1)
	assert.Empty(t, reloaded.Connections)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsWorkflowNotFound(err))

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_SingleTerminalUpdate(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	execution := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
		EventID:    "evt-1",
	}
	require.NoError(t, repo.Create(ctx, execution))

	running, err := repo.FindRunning(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, execution.ID, running.ID)

	output := models.NewSharedContext(nil).With("zeta", 1.0).With("alpha", "two")
	execution.Succeed(output, time.Now().UTC())
	require.NoError(t, repo.Update(ctx, execution))

	loaded, err := repo.GetByEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, loaded.Status)
	assert.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, []string{"zeta", "alpha"}, loaded.Output.Keys())

	execution.Fail("too late", "", time.Now().UTC())
	assert.ErrorIs(t, repo.Update(ctx, execution), persistence.ErrExecutionFinished)

	_, err = repo.FindRunning(ctx, "wf-1")
	assert.True(t, persistence.IsExecutionNotFound(err))

	list, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCredentialRepository_OwnerScope(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.CredentialRepository()

	credential := &models.Credential{UserID: "user-1", Name: "Anthropic", Type: models.CredentialTypeAnthropic, Value: "sealed"}
	require.NoError(t, repo.Save(ctx, credential))

	loaded, err := repo.GetByID(ctx, credential.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sealed", loaded.Value)
	assert.Equal(t, models.CredentialTypeAnthropic, loaded.Type)

	_, err = repo.GetByID(ctx, credential.ID, "user-2")
	assert.ErrorIs(t, err, persistence.ErrCredentialNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, credential.ID, "user-2"), persistence.ErrCredentialNotFound)
	assert.NoError(t, repo.Delete(ctx, credential.ID, "user-1"))
}

func TestStepRepository_InsertOnce(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.StepRepository()

	_, err := repo.GetStep(ctx, "exec-1", "row/insert-row")
	assert.ErrorIs(t, err, persistence.ErrStepResultNotFound)

	require.NoError(t, repo.SaveStep(ctx, "exec-1", "row/insert-row", []byte(`{"id":1}`)))
	require.NoError(t, repo.SaveStep(ctx, "exec-1", "row/insert-row", []byte(`{"id":2}`)))

	data, err := repo.GetStep(ctx, "exec-1", "row/insert-row")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(data))

	results, err := repo.ListSteps(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "row/insert-row", results[0].StepName)
}
