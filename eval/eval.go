// Package eval benchmarks models, agents and orchestrators against
// task cases scored by judges.
package eval

import (
	"context"

	"github.com/loopkit/loopkit/agent"
	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/orchestrator"
	"github.com/loopkit/loopkit/schema"
)

// Case is one evaluation task: the input to run and, for reference
// judges, the expected answer.
type Case struct {
	ID       string         `json:"id"`
	Task     string         `json:"task"`
	Expected string         `json:"expected,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Trajectory is everything a target produced for one case.
type Trajectory struct {
	Task     string           `json:"task"`
	Messages []schema.Message `json:"messages"`
	Usage    schema.Usage     `json:"usage"`
}

// Target runs a task and returns the resulting trajectory.
type Target interface {
	Name() string
	Run(ctx context.Context, task string) (*Trajectory, error)
}

// ModelTarget evaluates a bare chat model: one generation, no tools.
type ModelTarget struct {
	model        llm.ChatModel
	systemPrompt string
}

var _ Target = (*ModelTarget)(nil)

// NewModelTarget wraps a model for evaluation.
func NewModelTarget(model llm.ChatModel, systemPrompt string) (*ModelTarget, error) {
	if model == nil {
		return nil, schema.NewConfigError("eval", "model is required")
	}
	return &ModelTarget{model: model, systemPrompt: systemPrompt}, nil
}

func (t *ModelTarget) Name() string { return "model:" + t.model.Info().Name }

func (t *ModelTarget) Run(ctx context.Context, task string) (*Trajectory, error) {
	var messages []schema.Message
	if t.systemPrompt != "" {
		messages = append(messages, schema.NewSystemMessage(t.systemPrompt))
	}
	messages = append(messages, schema.NewUserMessage(task))

	resp, err := t.model.Generate(ctx, &llm.Request{Messages: messages})
	if err != nil {
		return nil, err
	}
	return &Trajectory{
		Task:     task,
		Messages: append(messages, resp.Message),
		Usage:    resp.Usage,
	}, nil
}

// AgentTarget evaluates a full agent run, tools included.
type AgentTarget struct {
	agent *agent.Agent
}

var _ Target = (*AgentTarget)(nil)

// NewAgentTarget wraps an agent for evaluation.
func NewAgentTarget(ag *agent.Agent) (*AgentTarget, error) {
	if ag == nil {
		return nil, schema.NewConfigError("eval", "agent is required")
	}
	return &AgentTarget{agent: ag}, nil
}

func (t *AgentTarget) Name() string { return "agent:" + t.agent.Name() }

func (t *AgentTarget) Run(ctx context.Context, task string) (*Trajectory, error) {
	resp, err := t.agent.Run(ctx, task)
	if err != nil {
		return nil, err
	}
	return &Trajectory{Task: task, Messages: resp.Messages, Usage: resp.Usage}, nil
}

// OrchestratorTarget evaluates a multi-agent run.
type OrchestratorTarget struct {
	orch *orchestrator.Orchestrator
}

var _ Target = (*OrchestratorTarget)(nil)

// NewOrchestratorTarget wraps an orchestrator for evaluation.
func NewOrchestratorTarget(o *orchestrator.Orchestrator) (*OrchestratorTarget, error) {
	if o == nil {
		return nil, schema.NewConfigError("eval", "orchestrator is required")
	}
	return &OrchestratorTarget{orch: o}, nil
}

func (t *OrchestratorTarget) Name() string { return "orchestrator:" + t.orch.Name() }

func (t *OrchestratorTarget) Run(ctx context.Context, task string) (*Trajectory, error) {
	resp, err := t.orch.Run(ctx, task)
	if err != nil {
		return nil, err
	}
	return &Trajectory{Task: task, Messages: resp.Messages, Usage: resp.Usage}, nil
}
