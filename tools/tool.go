// Package tools provides the tool contract, a named registry and an
// executor that validates arguments, enforces timeouts and routes
// calls through the approval gate.
package tools

import (
	"context"
	"encoding/json"

	"github.com/loopkit/loopkit/schema"
)

// Tool is the minimal tool interface. Execute returns the textual
// result handed back to the model; an error marks the call failed
// without aborting the run.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	ApprovalMode() schema.ApprovalMode
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// FuncTool wraps a function as a Tool.
type FuncTool struct {
	name        string
	description string
	schema      map[string]any
	approval    schema.ApprovalMode
	fn          func(ctx context.Context, args json.RawMessage) (string, error)
}

func NewFuncTool(name, description string, toolSchema map[string]any, fn func(ctx context.Context, args json.RawMessage) (string, error)) *FuncTool {
	return &FuncTool{
		name:        name,
		description: description,
		schema:      toolSchema,
		approval:    schema.ApprovalNever,
		fn:          fn,
	}
}

// WithApproval sets the approval mode.
func (t *FuncTool) WithApproval(mode schema.ApprovalMode) *FuncTool {
	t.approval = mode
	return t
}

func (t *FuncTool) Name() string                      { return t.name }
func (t *FuncTool) Description() string               { return t.description }
func (t *FuncTool) Schema() map[string]any            { return t.schema }
func (t *FuncTool) ApprovalMode() schema.ApprovalMode { return t.approval }
func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.fn(ctx, args)
}

// ObjectSchema builds a JSON schema for an object with the given
// properties. required lists the mandatory property names.
func ObjectSchema(description string, properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if description != "" {
		s["description"] = description
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// StringProperty builds a string property schema.
func StringProperty(description string, enum ...string) map[string]any {
	p := map[string]any{"type": "string", "description": description}
	if len(enum) > 0 {
		p["enum"] = enum
	}
	return p
}

// NumberProperty builds a number property schema.
func NumberProperty(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

// IntegerProperty builds an integer property schema.
func IntegerProperty(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

// BooleanProperty builds a boolean property schema.
func BooleanProperty(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}
