// Package jsonreshape provides the node that renames the fields of an object
// in the shared context and optionally nests it under a new key.
package jsonreshape

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
)

// StepName is the durable step the transformation runs under.
const StepName = "json-reshape"

// FieldMapping renames SourceField to NewName.
type FieldMapping struct {
	SourceField string `json:"sourceField" validate:"required"`
	NewName     string `json:"newName"     validate:"required"`
}

// Config defines the data of a JSON_RESHAPE node.
type Config struct {
	VariableName   string         `json:"variableName"   validate:"required,varname"`
	SourceVariable string         `json:"sourceVariable" validate:"required"`
	NestingPath    string         `json:"nestingPath"`
	FieldMappings  []FieldMapping `json:"fieldMappings"  validate:"dive"`
}

// Execute implements nodes.Body.
func Execute(ctx context.Context, req protocol.Request) (models.SharedContext, error) {
	var cfg Config
	if err := nodes.Decode(req.NodeID, req.Data, &cfg); err != nil {
		return models.SharedContext{}, err
	}

	source, ok := Lookup(req.Context, cfg.SourceVariable)
	if !ok {
		return models.SharedContext{}, protocol.NewConfigurationError(req.NodeID,
			"source variable '%s' not found in context", cfg.SourceVariable)
	}

	object, ok := source.(map[string]any)
	if !ok {
		return models.SharedContext{}, protocol.NewConfigurationError(req.NodeID,
			"source variable must be an object, got %s", kindOf(source))
	}

	reshaped, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, StepName), func(context.Context) (map[string]any, error) {
		return Reshape(object, cfg.FieldMappings, cfg.NestingPath), nil
	})
	if err != nil {
		return models.SharedContext{}, err
	}

	return req.Context.With(cfg.VariableName, reshaped), nil
}

// Reshape applies the renames in order, then nests the result under
// nestingPath when it is not blank. The input is never modified.
func Reshape(object map[string]any, mappings []FieldMapping, nestingPath string) map[string]any {
	out := make(map[string]any, len(object))
	for k, v := range object {
		out[k] = v
	}

	for _, m := range mappings {
		value, ok := out[m.SourceField]
		if !ok {
			continue
		}

		delete(out, m.SourceField)
		out[m.NewName] = value
	}

	if strings.TrimSpace(nestingPath) != "" {
		return map[string]any{nestingPath: out}
	}

	return out
}

// Lookup finds name at the root of the context, then falls back to a dotted
// path through nested objects, e.g. "httpResult.data".
func Lookup(sc models.SharedContext, name string) (any, bool) {
	if value, ok := sc.Get(name); ok {
		return value, true
	}

	parts := strings.Split(name, ".")

	value, ok := sc.Get(parts[0])
	if !ok {
		return nil, false
	}

	for _, part := range parts[1:] {
		object, isObject := value.(map[string]any)
		if !isObject {
			return nil, false
		}

		value, ok = object[part]
		if !ok {
			return nil, false
		}
	}

	return value, true
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
