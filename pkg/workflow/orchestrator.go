// Package workflow runs persisted workflow graphs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator step names.
const (
	StepPrepareWorkflow   = "prepare-workflow"
	StepFindUserID        = "find-user-id"
	StepFinalizeExecution = "finalize-execution"
)

// ExecutionIDKey is seeded into the shared context of every run.
const ExecutionIDKey = "_executionId"

// ErrWorkflowIDRequired is returned when a request names no workflow.
var ErrWorkflowIDRequired = errors.New("workflow id is required")

// Dispatcher resolves the executor of a node type. *registry.Registry implements it.
type Dispatcher interface {
	Dispatch(nodeType models.NodeType) (protocol.NodeExecutor, error)
}

// ExecuteRequest identifies the run to perform. ExecutionID resumes a known
// execution; otherwise EventID, then the latest unclaimed RUNNING execution of
// the workflow are tried before a new execution is created.
type ExecuteRequest struct {
	WorkflowID  string
	ExecutionID string
	EventID     string
	InitialData map[string]any
}

// Plan is the sorted graph snapshot an execution runs against.
type Plan struct {
	Nodes       []*models.Node       `json:"nodes"`
	Connections []*models.Connection `json:"connections"`
}

// PanicError is a panic recovered while running a workflow.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("workflow execution panicked: %v", e.Value)
	}

	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// NonRetriable marks the error as terminal for the execution.
func (e *PanicError) NonRetriable() bool { return true }

// OrderingError reports a node scheduled before one of its predecessors completed.
type OrderingError struct {
	NodeID        string
	PredecessorID string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("node %s scheduled before its predecessor %s completed", e.NodeID, e.PredecessorID)
}

// Orchestrator loads a workflow graph, orders it and folds the shared context
// through the node executors. Executions are independent; the orchestrator
// itself holds no per-execution state and is safe for concurrent use.
type Orchestrator struct {
	persistence persistence.Persistence
	dispatcher  Dispatcher
	steps       steps.Store
	status      protocol.StatusPublisher
	tracer      trace.Tracer
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the tracer for execution and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the time source of execution timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator. A nil stepStore records steps in
// the persistence layer.
func NewOrchestrator(
	p persistence.Persistence,
	dispatcher Dispatcher,
	stepStore steps.Store,
	status protocol.StatusPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if stepStore == nil {
		stepStore = p.StepRepository()
	}

	o := &Orchestrator{
		persistence: p,
		dispatcher:  dispatcher,
		steps:       stepStore,
		status:      status,
		tracer:      otel.Tracer("github.com/dukex/flowline/pkg/workflow"),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With("module", "orchestrator"),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Execute runs one execution of a workflow to its terminal state.
//
// An execution already recorded as SUCCESS or FAILED is returned as-is.
// Any failure marks the execution FAILED and is returned; the execution is
// never retried by the orchestrator.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (execution *models.Execution, err error) {
	if req.WorkflowID == "" {
		return nil, ErrWorkflowIDRequired
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.EventIDKey, req.EventID),
	)
	defer span.End()

	logger := o.logger.With("workflow_id", req.WorkflowID, "event_id", req.EventID)

	var executionID string

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}

		if err != nil {
			otelhelper.SetError(span, err)
			logger.ErrorContext(ctx, "Workflow execution failed", "execution_id", executionID, "error", err)

			if failed := o.markFailed(ctx, req.EventID, executionID, err); failed != nil {
				execution = failed
			}
		}
	}()

	execution, err = o.locate(ctx, req)
	if err != nil {
		return nil, err
	}

	executionID = execution.ID
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, executionID))
	logger = logger.With("execution_id", executionID)

	if execution.Status.IsTerminal() {
		logger.InfoContext(ctx, "Execution already finished", "status", execution.Status)

		return execution, nil
	}

	logger.InfoContext(ctx, "Starting workflow execution")

	runner := steps.NewRunner(o.steps, executionID, o.logger)

	plan, err := steps.Do(ctx, runner, StepPrepareWorkflow, func(ctx context.Context) (Plan, error) {
		return o.prepare(ctx, req.WorkflowID)
	})
	if err != nil {
		return execution, err
	}

	userID, err := steps.Do(ctx, runner, StepFindUserID, func(ctx context.Context) (string, error) {
		workflow, err := o.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
		if err != nil {
			return "", err
		}

		return workflow.UserID, nil
	})
	if err != nil {
		return execution, err
	}

	sc := models.NewSharedContext(req.InitialData).With(ExecutionIDKey, executionID)

	sc, err = o.fold(ctx, runner, executionID, userID, plan, sc)
	if err != nil {
		return execution, err
	}

	_, err = steps.Do(ctx, runner, StepFinalizeExecution, func(ctx context.Context) (bool, error) {
		execution.Succeed(sc, o.now())

		return true, o.persistence.ExecutionRepository().Update(ctx, execution)
	})
	if err != nil {
		return execution, fmt.Errorf("finalize execution: %w", err)
	}

	logger.InfoContext(ctx, "Workflow execution completed", "nodes", len(plan.Nodes))

	return execution, nil
}

// locate finds the execution for req or creates a RUNNING one.
func (o *Orchestrator) locate(ctx context.Context, req ExecuteRequest) (*models.Execution, error) {
	repo := o.persistence.ExecutionRepository()

	var (
		execution *models.Execution
		err       = persistence.ErrExecutionNotFound
	)

	switch {
	case req.ExecutionID != "":
		execution, err = repo.GetByID(ctx, req.ExecutionID)
	case req.EventID != "":
		execution, err = repo.GetByEventID(ctx, req.EventID)
		if persistence.IsExecutionNotFound(err) {
			execution, err = o.findUnclaimed(ctx, req.WorkflowID)
		}
	default:
		execution, err = o.findUnclaimed(ctx, req.WorkflowID)
	}

	switch {
	case err == nil:
		return o.claim(ctx, execution, req)
	case !persistence.IsExecutionNotFound(err):
		return nil, fmt.Errorf("locate execution: %w", err)
	}

	id := req.ExecutionID
	if id == "" {
		id = uuid.New().String()
	}

	execution = &models.Execution{
		ID:         id,
		WorkflowID: req.WorkflowID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  o.now(),
		EventID:    req.EventID,
	}

	if err := repo.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	return execution, nil
}

// findUnclaimed returns the latest RUNNING execution of the workflow that no
// event has claimed yet.
func (o *Orchestrator) findUnclaimed(ctx context.Context, workflowID string) (*models.Execution, error) {
	execution, err := o.persistence.ExecutionRepository().FindRunning(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if execution.EventID != "" {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution, nil
}

// claim checks a located execution belongs to the workflow and associates the event with it.
func (o *Orchestrator) claim(ctx context.Context, execution *models.Execution, req ExecuteRequest) (*models.Execution, error) {
	if execution.WorkflowID != req.WorkflowID {
		return nil, fmt.Errorf("execution %s belongs to workflow %s, not %s", execution.ID, execution.WorkflowID, req.WorkflowID)
	}

	if execution.Status.IsTerminal() || req.EventID == "" || execution.EventID == req.EventID {
		return execution, nil
	}

	execution.EventID = req.EventID
	if err := o.persistence.ExecutionRepository().Update(ctx, execution); err != nil {
		return nil, fmt.Errorf("associate event with execution: %w", err)
	}

	return execution, nil
}

// prepare loads the graph snapshot and sorts it.
func (o *Orchestrator) prepare(ctx context.Context, workflowID string) (Plan, error) {
	workflow, err := o.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return Plan{}, err
	}

	sorted, err := graph.Sort(workflow.Nodes, workflow.Connections)
	if err != nil {
		return Plan{}, err
	}

	return Plan{Nodes: sorted, Connections: workflow.Connections}, nil
}

// predecessors maps every node to the nodes with an edge into it.
func (p Plan) predecessors() map[string][]string {
	known := make(map[string]bool, len(p.Nodes))
	for _, node := range p.Nodes {
		known[node.ID] = true
	}

	preds := make(map[string][]string)

	for _, conn := range p.Connections {
		if conn.FromNodeID == conn.ToNodeID || !known[conn.FromNodeID] || !known[conn.ToNodeID] {
			continue
		}

		preds[conn.ToNodeID] = append(preds[conn.ToNodeID], conn.FromNodeID)
	}

	return preds
}

// fold runs the nodes strictly in plan order. The first failing node aborts the rest.
func (o *Orchestrator) fold(
	ctx context.Context,
	runner protocol.StepRunner,
	executionID, userID string,
	plan Plan,
	sc models.SharedContext,
) (models.SharedContext, error) {
	preds := plan.predecessors()
	completed := make(map[string]bool, len(plan.Nodes))

	for _, node := range plan.Nodes {
		for _, pred := range preds[node.ID] {
			if !completed[pred] {
				return sc, &OrderingError{NodeID: node.ID, PredecessorID: pred}
			}
		}

		next, err := o.runNode(ctx, runner, executionID, userID, node, sc)
		if err != nil {
			return sc, fmt.Errorf("node %s (%s): %w", node.ID, node.Type, err)
		}

		sc = next
		completed[node.ID] = true
	}

	return sc, nil
}

func (o *Orchestrator) runNode(
	ctx context.Context,
	runner protocol.StepRunner,
	executionID, userID string,
	node *models.Node,
	sc models.SharedContext,
) (out models.SharedContext, err error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{NodeID: node.ID, Value: r, Stack: string(debug.Stack())}
		}

		if err != nil {
			otelhelper.SetError(span, err)
		}
	}()

	executor, err := o.dispatcher.Dispatch(node.Type)
	if err != nil {
		return sc, err
	}

	o.logger.DebugContext(ctx, "Running node", "execution_id", executionID, "node_id", node.ID, "node_type", node.Type)

	return executor.Execute(ctx, protocol.Request{
		NodeID:      node.ID,
		UserID:      userID,
		ExecutionID: executionID,
		Data:        node.Data,
		Context:     sc,
		Steps:       runner,
		Status:      o.status,
	})
}

// markFailed records cause on the execution, found by event id first and
// execution id second. A missing execution is logged and tolerated.
func (o *Orchestrator) markFailed(ctx context.Context, eventID, executionID string, cause error) *models.Execution {
	ctx = context.WithoutCancel(ctx)
	repo := o.persistence.ExecutionRepository()

	var (
		execution *models.Execution
		err       = persistence.ErrExecutionNotFound
	)

	if eventID != "" {
		execution, err = repo.GetByEventID(ctx, eventID)
	}

	if err != nil && executionID != "" {
		execution, err = repo.GetByID(ctx, executionID)
	}

	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			o.logger.WarnContext(ctx, "No execution to mark as failed", "event_id", eventID, "execution_id", executionID)
		} else {
			o.logger.ErrorContext(ctx, "Failed to load execution to mark as failed", "execution_id", executionID, "error", err)
		}

		return nil
	}

	if execution.Status.IsTerminal() {
		return execution
	}

	execution.Fail(cause.Error(), errorStack(cause), o.now())

	if err := repo.Update(ctx, execution); err != nil {
		o.logger.ErrorContext(ctx, "Failed to mark execution as failed", "execution_id", execution.ID, "error", err)
	}

	return execution
}

// errorStack returns the goroutine stack of a recovered panic, or the chain
// of wrapped errors one per line.
func errorStack(err error) string {
	var p *PanicError
	if errors.As(err, &p) {
		return p.Stack
	}

	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T: %v\n", e, e)
	}

	return b.String()
}
