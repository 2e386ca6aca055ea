package schema

import (
	"errors"
	"fmt"
)

var (
	// Agent-related errors
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentAlreadyExists = errors.New("agent already exists")
	ErrMaxIterations      = errors.New("max iterations reached")

	// Tool-related errors
	ErrToolNotFound      = errors.New("tool not found")
	ErrToolAlreadyExists = errors.New("tool already exists")
	ErrToolTimeout       = errors.New("tool execution timeout")

	// Model-related errors
	ErrModelNotSupported = errors.New("model not supported")
	ErrModelAPIError     = errors.New("model API error")
	ErrRateLimited       = errors.New("rate limit exceeded")

	// Workflow-related errors
	ErrWorkflowCyclic   = errors.New("workflow has cyclic dependency")
	ErrWorkflowNoRoot   = errors.New("workflow has no root step")
	ErrStepNotFound     = errors.New("workflow step not found")
	ErrResumeRefused    = errors.New("checkpoint does not match workflow structure")
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// Serialization errors
	ErrNotSerializable  = errors.New("component is not serializable")
	ErrUnknownProvider  = errors.New("unknown component provider")

	// Common errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrTerminationReached = errors.New("termination condition reached")
)

// ConfigError reports invalid construction-time configuration.
type ConfigError struct {
	Component string
	Message   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Component, e.Message)
}

func NewConfigError(component, message string) *ConfigError {
	return &ConfigError{Component: component, Message: message}
}

// AgentError wraps failures inside an agent run.
type AgentError struct {
	AgentName string
	Op        string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.AgentName, e.Op, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

func NewAgentError(agentName, op string, err error) *AgentError {
	return &AgentError{AgentName: agentName, Op: op, Err: err}
}

// ToolError wraps failures around tool lookup and dispatch.
type ToolError struct {
	ToolName string
	Op       string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.ToolName, e.Op, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

func NewToolError(toolName, op string, err error) *ToolError {
	return &ToolError{ToolName: toolName, Op: op, Err: err}
}

// ModelError wraps provider failures.
type ModelError struct {
	Model string
	Op    string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %s: %v", e.Model, e.Op, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

func NewModelError(model, op string, err error) *ModelError {
	return &ModelError{Model: model, Op: op, Err: err}
}

// ValidationError reports a value that failed validation.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s (value: %v): %s", e.Field, e.Value, e.Message)
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// WorkflowError wraps failures inside a workflow run.
type WorkflowError struct {
	WorkflowName string
	Op           string
	Err          error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s: %s: %v", e.WorkflowName, e.Op, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

func NewWorkflowError(workflowName, op string, err error) *WorkflowError {
	return &WorkflowError{WorkflowName: workflowName, Op: op, Err: err}
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return true
	case errors.Is(err, ErrModelAPIError):
		return true
	case errors.Is(err, ErrToolTimeout):
		return true
	default:
		return false
	}
}
