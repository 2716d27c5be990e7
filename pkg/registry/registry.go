// Package registry maps node type tags to their executors.
//
// A Registry is assembled once at process start through a Builder and is
// read-only afterwards, so it can be shared by concurrent executions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrEmptyRegistry is reported by HealthCheck when no executor is registered.
var ErrEmptyRegistry = errors.New("no node executors registered")

// DuplicateTypeError reports two factories registered for the same node type.
type DuplicateTypeError struct {
	Type models.NodeType
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("node type %q registered more than once", string(e.Type))
}

type entry struct {
	factory  protocol.ExecutorFactory
	executor protocol.NodeExecutor
	schema   *gojsonschema.Schema
}

// Registry is the immutable dispatch table of node executors.
type Registry struct {
	logger  *slog.Logger
	entries map[models.NodeType]entry
	types   []models.NodeType
}

// Builder collects factories before the registry is built.
type Builder struct {
	logger    *slog.Logger
	factories []protocol.ExecutorFactory
}

func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{
		logger: logger.With("module", "registry"),
	}
}

// Register adds factories to the builder.
func (b *Builder) Register(factories ...protocol.ExecutorFactory) *Builder {
	b.factories = append(b.factories, factories...)

	return b
}

// Build creates every executor with deps and compiles its schema.
func (b *Builder) Build(deps protocol.Dependencies) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = b.logger
	}

	r := &Registry{
		logger:  b.logger,
		entries: make(map[models.NodeType]entry, len(b.factories)),
		types:   make([]models.NodeType, 0, len(b.factories)),
	}

	for _, factory := range b.factories {
		nodeType := factory.Type()

		if _, exists := r.entries[nodeType]; exists {
			return nil, &DuplicateTypeError{Type: nodeType}
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
		if err != nil {
			return nil, fmt.Errorf("compile schema of %s: %w", nodeType, err)
		}

		executor, err := factory.Create(deps)
		if err != nil {
			return nil, fmt.Errorf("create executor for %s: %w", nodeType, err)
		}

		r.entries[nodeType] = entry{factory: factory, executor: executor, schema: schema}
		r.types = append(r.types, nodeType)

		b.logger.Debug("Registered node executor", "node_type", nodeType, "channel", factory.Channel())
	}

	b.logger.Info("Node registry built", "executors", len(r.types))

	return r, nil
}

// Dispatch returns the executor registered for nodeType.
func (r *Registry) Dispatch(nodeType models.NodeType) (protocol.NodeExecutor, error) {
	e, ok := r.entries[nodeType]
	if !ok {
		return nil, &protocol.UnknownNodeTypeError{Type: nodeType}
	}

	return e.executor, nil
}

// Factory returns the factory registered for nodeType.
func (r *Registry) Factory(nodeType models.NodeType) (protocol.ExecutorFactory, bool) {
	e, ok := r.entries[nodeType]

	return e.factory, ok
}

// Types returns the registered node types in registration order.
func (r *Registry) Types() []models.NodeType {
	return append([]models.NodeType(nil), r.types...)
}

// Factories returns the registered factories in registration order.
func (r *Registry) Factories() []protocol.ExecutorFactory {
	factories := make([]protocol.ExecutorFactory, 0, len(r.types))
	for _, t := range r.types {
		factories = append(factories, r.entries[t].factory)
	}

	return factories
}

// Validate checks the data of a node against the schema of its type and,
// when the factory implements protocol.ConfigValidator, its own rules.
func (r *Registry) Validate(node *models.Node) error {
	e, ok := r.entries[node.Type]
	if !ok {
		return &protocol.UnknownNodeTypeError{Type: node.Type}
	}

	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return protocol.WrapConfigurationError(node.ID, "node data is not valid JSON", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return protocol.NewConfigurationError(node.ID, "%s", strings.Join(messages, "; "))
	}

	if validator, ok := e.factory.(protocol.ConfigValidator); ok {
		return validator.ValidateConfig(node.ID, data)
	}

	return nil
}

// ValidateWorkflow validates every node of a workflow and joins the failures.
func (r *Registry) ValidateWorkflow(workflow *models.Workflow) error {
	var errs []error

	for _, node := range workflow.Nodes {
		if err := r.Validate(node); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// HealthCheck reports whether the registry can dispatch anything.
func (r *Registry) HealthCheck(_ context.Context) error {
	if len(r.entries) == 0 {
		return ErrEmptyRegistry
	}

	return nil
}
