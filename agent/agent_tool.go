package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

// AgentTool exposes an agent as a callable tool. Each invocation runs
// the nested agent on a fresh context and returns its final text, so
// nested runs never leak state into each other or the caller.
type AgentTool struct {
	agent    *Agent
	approval schema.ApprovalMode
}

var _ tools.Tool = (*AgentTool)(nil)

// NewAgentTool wraps an agent as a tool.
func NewAgentTool(a *Agent) *AgentTool {
	return &AgentTool{agent: a, approval: schema.ApprovalNever}
}

// WithApproval gates nested runs behind human approval.
func (t *AgentTool) WithApproval(mode schema.ApprovalMode) *AgentTool {
	t.approval = mode
	return t
}

func (t *AgentTool) Name() string { return t.agent.Name() }

func (t *AgentTool) Description() string {
	if d := t.agent.Description(); d != "" {
		return d
	}
	return fmt.Sprintf("Delegate a task to the %s agent", t.agent.Name())
}

func (t *AgentTool) Schema() map[string]any {
	return tools.ObjectSchema(
		"Task for the nested agent",
		map[string]any{
			"task": tools.StringProperty("The task to hand to the agent"),
		},
		"task",
	)
}

func (t *AgentTool) ApprovalMode() schema.ApprovalMode { return t.approval }

func (t *AgentTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	resp, err := t.agent.Run(ctx, params.Task)
	if err != nil {
		return "", err
	}
	switch resp.FinishReason {
	case FinishStop, FinishMaxIterations:
		return resp.Text(), nil
	case FinishNeedsApproval:
		return "", fmt.Errorf("nested agent %s paused for approval; approval-gated tools cannot run inside a tool call", t.agent.Name())
	default:
		return "", fmt.Errorf("nested agent %s finished with %s", t.agent.Name(), resp.FinishReason)
	}
}
