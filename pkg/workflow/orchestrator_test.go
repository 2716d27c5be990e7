package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/file"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpdateUnavailable = errors.New("execution store unavailable")

// flakyPersistence rejects every execution update.
type flakyPersistence struct {
	persistence.Persistence
}

func (p *flakyPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return &flakyExecutions{ExecutionRepository: p.Persistence.ExecutionRepository()}
}

type flakyExecutions struct {
	persistence.ExecutionRepository
}

func (e *flakyExecutions) Update(context.Context, *models.Execution) error {
	return errUpdateUnavailable
}

type harness struct {
	orchestrator *Orchestrator
	persistence  *file.Persistence
	recorder     *testutil.StatusRecorder
}

func newHarness(t *testing.T, deps protocol.Dependencies) *harness {
	t.Helper()

	reg, err := registry.RegisterDefaultNodes(registry.NewBuilder(testutil.NopLogger())).Build(deps)
	require.NoError(t, err)

	return newHarnessWith(t, file.NewPersistence(t.TempDir()), reg)
}

func newHarnessWith(t *testing.T, p *file.Persistence, dispatcher Dispatcher) *harness {
	t.Helper()

	recorder := testutil.NewStatusRecorder()

	return &harness{
		orchestrator: NewOrchestrator(p, dispatcher, nil, recorder, testutil.NopLogger()),
		persistence:  p,
		recorder:     recorder,
	}
}

func (h *harness) save(t *testing.T, workflow *models.Workflow) {
	t.Helper()

	require.NoError(t, h.persistence.WorkflowRepository().Save(context.Background(), workflow))
}

func (h *harness) stored(t *testing.T, executionID string) *models.Execution {
	t.Helper()

	execution, err := h.persistence.ExecutionRepository().GetByID(context.Background(), executionID)
	require.NoError(t, err)

	return execution
}

func TestOrchestrator_HTTPThenReshape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"hello","id":7}`))
	}))
	defer server.Close()

	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	trigger := testutil.CreateTestNode(testutil.WithID("trigger"))
	request := testutil.CreateTestNode(
		testutil.WithID("http"),
		testutil.WithType(models.NodeTypeHTTPRequest),
		testutil.WithData(map[string]any{"endpoint": server.URL, "variableName": "httpResult"}),
	)
	reshape := testutil.CreateTestNode(
		testutil.WithID("reshape"),
		testutil.WithType(models.NodeTypeJSONReshape),
		testutil.WithData(map[string]any{
			"sourceVariable": "httpResult.data",
			"variableName":   "post",
			"fieldMappings":  []any{map[string]any{"sourceField": "title", "newName": "headline"}},
		}),
	)

	// Stored out of order: the sorter decides.
	workflow := testutil.CreateTestWorkflow(
		testutil.WithNodes(reshape, request, trigger),
		testutil.WithChain("trigger", "http", "reshape"),
	)
	h.save(t, workflow)

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{
		WorkflowID:  workflow.ID,
		InitialData: map[string]any{"source": "test"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, []string{"source", ExecutionIDKey, "httpResult", "post"}, execution.Output.Keys())

	post, _ := execution.Output.Get("post")
	assert.Equal(t, map[string]any{"headline": "hello", "id": 7.0}, post)

	id, _ := execution.Output.Get(ExecutionIDKey)
	assert.Equal(t, execution.ID, id)

	var order []string
	for _, e := range h.recorder.Events() {
		if e.Event.Status == models.NodeStatusLoading {
			order = append(order, e.Event.NodeID)
		}
	}

	assert.Equal(t, []string{"trigger", "http", "reshape"}, order)
	assert.Equal(t, models.ExecutionStatusSuccess, h.stored(t, execution.ID).Status)
}

func TestOrchestrator_LLMMissingCredential(t *testing.T) {
	var calls atomic.Int32

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer provider.Close()

	h := newHarness(t, protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: testutil.NewStaticCredentials(nil),
		Endpoints:   protocol.Endpoints{Anthropic: provider.URL},
	})

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(
			testutil.WithID("claude"),
			testutil.WithType(models.NodeTypeAnthropic),
			testutil.WithData(map[string]any{
				"variableName": "answer",
				"credentialId": "absent",
				"userPrompt":   "hi",
			}),
		),
	))
	h.save(t, workflow)

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID})
	require.Error(t, err)
	assert.True(t, protocol.IsCredentialNotFound(err))
	assert.True(t, protocol.IsNonRetriable(err))

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, h.recorder.Count("claude", models.NodeStatusError))
	assert.Equal(t, 0, h.recorder.Count("claude", models.NodeStatusSuccess))

	stored := h.stored(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "credential absent not found")
	assert.Contains(t, stored.ErrorStack, "CredentialNotFoundError")
	assert.NotNil(t, stored.CompletedAt)
}

func TestOrchestrator_RowInsertAllColumnsEmpty(t *testing.T) {
	store := testutil.NewRowStore(t, "key")
	h := newHarness(t, protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: testutil.NewStaticCredentials(map[string]string{"db": store.Credential()}),
	})

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(
			testutil.WithID("insert"),
			testutil.WithType(models.NodeTypeRowInsert),
			testutil.WithData(map[string]any{
				"credentialId": "db",
				"table":        "events",
				"mapping": []any{
					map[string]any{"column": "id", "value": "{{ .missing }}"},
					map[string]any{"column": "note", "value": ""},
				},
			}),
		),
	))
	h.save(t, workflow)

	_, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID})
	require.NoError(t, err)

	require.Len(t, store.Bodies(), 1)
	assert.Equal(t, []map[string]any{{}}, store.Bodies()[0])
}

func TestOrchestrator_RerunDoesNotInsertTwice(t *testing.T) {
	store := testutil.NewRowStore(t, "key")

	reg, err := registry.RegisterDefaultNodes(registry.NewBuilder(testutil.NopLogger())).Build(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: testutil.NewStaticCredentials(map[string]string{"db": store.Credential()}),
	})
	require.NoError(t, err)

	p := file.NewPersistence(t.TempDir())
	h := newHarnessWith(t, p, reg)

	workflow := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode(testutil.WithID("trigger")),
			testutil.CreateTestNode(
				testutil.WithID("insert"),
				testutil.WithType(models.NodeTypeRowInsert),
				testutil.WithData(map[string]any{
					"credentialId": "db",
					"table":        "leads",
					"variableName": "lead",
					"mapping":      []any{map[string]any{"column": "email", "value": "{{ .form.email }}"}},
				}),
			),
		),
		testutil.WithChain("trigger", "insert"),
	)
	h.save(t, workflow)

	req := ExecuteRequest{
		WorkflowID:  workflow.ID,
		ExecutionID: "exec-1",
		InitialData: map[string]any{"form": map[string]any{"email": "ada@example.com"}},
	}

	// The first run inserts the row but cannot record the outcome.
	flaky := NewOrchestrator(&flakyPersistence{Persistence: p}, reg, nil, testutil.NewStatusRecorder(), testutil.NopLogger())

	_, err = flaky.Execute(context.Background(), req)
	require.ErrorIs(t, err, errUpdateUnavailable)
	require.Len(t, store.Rows("leads"), 1)
	assert.Equal(t, models.ExecutionStatusRunning, h.stored(t, "exec-1").Status)

	execution, err := h.orchestrator.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, store.Rows("leads"), 1)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	lead, ok := execution.Output.Get("lead")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": 1.0, "email": "ada@example.com"}, lead)
}

func TestOrchestrator_TerminalExecutionIsNotRerun(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	workflow := testutil.CreateTestWorkflowWithNodes()
	h.save(t, workflow)

	done := &models.Execution{
		ID:         "exec-done",
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, h.persistence.ExecutionRepository().Create(context.Background(), done))

	done.Succeed(models.NewSharedContext(map[string]any{"result": "recorded"}), time.Now().UTC())
	require.NoError(t, h.persistence.ExecutionRepository().Update(context.Background(), done))

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID, ExecutionID: "exec-done"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, map[string]any{"result": "recorded"}, execution.Output.Map())
	assert.Empty(t, h.recorder.Events())
}

func TestOrchestrator_ClaimsExecutionByEventID(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(testutil.CreateTestNode(testutil.WithID("trigger"))))
	h.save(t, workflow)

	pending := &models.Execution{
		ID:         "exec-pending",
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
		EventID:    "evt-1",
	}
	require.NoError(t, h.persistence.ExecutionRepository().Create(context.Background(), pending))

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID, EventID: "evt-1"})
	require.NoError(t, err)
	assert.Equal(t, "exec-pending", execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, h.stored(t, "exec-pending").Status)

	// A new event never takes over an execution claimed by another one.
	other, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID, EventID: "evt-2"})
	require.NoError(t, err)
	assert.NotEqual(t, "exec-pending", other.ID)
	assert.Equal(t, "evt-2", other.EventID)
}

func TestOrchestrator_MissingWorkflow(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: "missing", EventID: "evt-1"})
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, h.stored(t, execution.ID).Status)
}

func TestOrchestrator_RequiresWorkflowID(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	_, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{})
	assert.ErrorIs(t, err, ErrWorkflowIDRequired)
}

func TestOrchestrator_CyclicGraph(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	workflow := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode(testutil.WithID("a")),
			testutil.CreateTestNode(testutil.WithID("b")),
		),
		testutil.WithChain("a", "b", "a"),
	)
	h.save(t, workflow)

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID})

	var cyclic *graph.CyclicGraphError
	require.ErrorAs(t, err, &cyclic)
	assert.True(t, protocol.IsNonRetriable(err))
	assert.Empty(t, h.recorder.Events())
	assert.Equal(t, models.ExecutionStatusFailed, h.stored(t, execution.ID).Status)
}

func TestOrchestrator_UnknownNodeType(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(testutil.WithID("trigger")),
		testutil.CreateTestNode(testutil.WithID("discord"), testutil.WithType("DISCORD")),
	), testutil.WithChain("trigger", "discord"))
	h.save(t, workflow)

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID})
	require.Error(t, err)
	assert.True(t, protocol.IsUnknownNodeType(err))

	stored := h.stored(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "node discord (DISCORD)")
}

type panickingFactory struct{}

func (panickingFactory) Type() models.NodeType  { return "PANIC" }
func (panickingFactory) Name() string           { return "Panic" }
func (panickingFactory) Description() string    { return "always panics" }
func (panickingFactory) Channel() string        { return "panic-execution" }
func (panickingFactory) Schema() map[string]any { return map[string]any{"type": "object"} }

func (panickingFactory) Create(protocol.Dependencies) (protocol.NodeExecutor, error) {
	return nodes.NewLifecycle("panic-execution", func(context.Context, protocol.Request) (models.SharedContext, error) {
		panic("boom")
	}), nil
}

func TestOrchestrator_RecoversPanics(t *testing.T) {
	reg, err := registry.NewBuilder(testutil.NopLogger()).Register(panickingFactory{}).Build(protocol.Dependencies{})
	require.NoError(t, err)

	h := newHarnessWith(t, file.NewPersistence(t.TempDir()), reg)

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(testutil.WithID("p"), testutil.WithType("PANIC")),
	))
	h.save(t, workflow)

	execution, err := h.orchestrator.Execute(context.Background(), ExecuteRequest{WorkflowID: workflow.ID})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "p", panicErr.NodeID)
	assert.Equal(t, "boom", panicErr.Value)

	stored := h.stored(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "node p panicked: boom")
	assert.Contains(t, stored.ErrorStack, "goroutine")
	assert.Equal(t, []models.NodeStatus{models.NodeStatusLoading, models.NodeStatusError}, h.recorder.StatusesFor("p"))
}

func TestOrchestrator_MarkFailedToleratesMissingExecution(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	assert.NotPanics(t, func() {
		assert.Nil(t, h.orchestrator.markFailed(context.Background(), "no-event", "no-execution", errors.New("boom")))
		assert.Nil(t, h.orchestrator.markFailed(context.Background(), "", "", errors.New("boom")))
	})
}

func TestOrchestrator_MarkFailedKeepsTerminalOutcome(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	execution := &models.Execution{ID: "exec-1", WorkflowID: "wf", Status: models.ExecutionStatusRunning, EventID: "evt-1"}
	require.NoError(t, h.persistence.ExecutionRepository().Create(context.Background(), execution))

	failed := h.orchestrator.markFailed(context.Background(), "evt-1", "", errors.New("first"))
	require.NotNil(t, failed)
	assert.Equal(t, "first", failed.Error)

	again := h.orchestrator.markFailed(context.Background(), "evt-1", "", errors.New("second"))
	assert.Equal(t, "first", again.Error)
	assert.Equal(t, "first", h.stored(t, "exec-1").Error)
}

func TestOrchestrator_FoldGuardsPredecessors(t *testing.T) {
	h := newHarness(t, protocol.Dependencies{Logger: testutil.NopLogger()})

	a := testutil.CreateTestNode(testutil.WithID("a"))
	b := testutil.CreateTestNode(testutil.WithID("b"))

	plan := Plan{
		Nodes:       []*models.Node{b, a},
		Connections: []*models.Connection{testutil.CreateTestConnection("a", "b")},
	}

	_, err := h.orchestrator.fold(context.Background(), nil, "exec", "user", plan, models.SharedContext{})

	var ordering *OrderingError
	require.ErrorAs(t, err, &ordering)
	assert.Equal(t, "b", ordering.NodeID)
	assert.Equal(t, "a", ordering.PredecessorID)
}

func TestErrorStack(t *testing.T) {
	wrapped := errors.Join(errors.New("inner"))

	assert.Contains(t, errorStack(&PanicError{Stack: "goroutine 1"}), "goroutine 1")
	assert.Contains(t, errorStack(wrapped), "inner")
}
