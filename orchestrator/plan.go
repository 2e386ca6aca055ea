package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
)

const defaultMaxStepRetries = 2

// PlanStep is one step of a generated execution plan.
type PlanStep struct {
	StepID    string `json:"step_id"`
	Task      string `json:"task"`
	AgentName string `json:"agent_name"`
	Reasoning string `json:"reasoning"`
}

// stepEvaluation is the structured output of per-step progress checks.
type stepEvaluation struct {
	StepCompleted         bool     `json:"step_completed"`
	Confidence            float64  `json:"confidence"`
	SuggestedImprovements []string `json:"suggested_improvements"`
}

// PlanSelector drives the conversation through a model-generated plan.
// The first selection produces the plan; after each turn the selector
// asks the model whether the current step completed, retrying a step up
// to MaxStepRetries times before moving on or replanning.
type PlanSelector struct {
	model          llm.ChatModel
	maxStepRetries int
	replan         bool

	mu        sync.Mutex
	plan      []PlanStep
	current   int
	retries   int
	completed int
	failed    int
}

var _ Selector = (*PlanSelector)(nil)

// PlanOption configures a PlanSelector.
type PlanOption func(*PlanSelector)

// WithMaxStepRetries bounds retries per plan step (default 2).
func WithMaxStepRetries(n int) PlanOption {
	return func(p *PlanSelector) {
		if n >= 0 {
			p.maxStepRetries = n
		}
	}
}

// WithReplanning regenerates the plan when a step exhausts its retries
// instead of skipping ahead.
func WithReplanning() PlanOption {
	return func(p *PlanSelector) { p.replan = true }
}

// NewPlanSelector creates a plan-based selector.
func NewPlanSelector(model llm.ChatModel, opts ...PlanOption) (*PlanSelector, error) {
	if model == nil {
		return nil, schema.NewConfigError("plan_selector", "model is required")
	}
	p := &PlanSelector{model: model, maxStepRetries: defaultMaxStepRetries}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Plan returns the current plan.
func (p *PlanSelector) Plan() []PlanStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlanStep(nil), p.plan...)
}

// Select advances the plan and returns the agent owning the current
// step. A fully completed plan returns ErrTerminationReached.
func (p *PlanSelector) Select(ctx context.Context, sel *Selection) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		if err := p.generatePlan(ctx, sel); err != nil {
			return "", err
		}
	} else if sel.LastSpeaker != "" && p.current < len(p.plan) {
		if err := p.advance(ctx, sel); err != nil {
			return "", err
		}
	}

	if p.current >= len(p.plan) {
		p.publish(sel)
		return "", schema.ErrTerminationReached
	}

	step := p.plan[p.current]
	p.publish(sel)
	return step.AgentName, nil
}

// advance evaluates the step the last turn worked on and moves the
// cursor or burns a retry.
func (p *PlanSelector) advance(ctx context.Context, sel *Selection) error {
	step := p.plan[p.current]
	eval, err := p.evaluateStep(ctx, sel, step)
	if err != nil {
		// treat an unevaluable turn as incomplete
		eval = &stepEvaluation{}
	}

	if sel.Metadata != nil {
		evals, _ := sel.Metadata["plan_evaluations"].([]map[string]any)
		evals = append(evals, map[string]any{
			"step_id":                step.StepID,
			"step_completed":         eval.StepCompleted,
			"confidence":             eval.Confidence,
			"suggested_improvements": eval.SuggestedImprovements,
		})
		sel.Metadata["plan_evaluations"] = evals
	}

	if eval.StepCompleted {
		p.current++
		p.retries = 0
		p.completed++
		return nil
	}

	p.retries++
	if p.retries <= p.maxStepRetries {
		return nil
	}
	if p.replan {
		return p.generatePlan(ctx, sel)
	}
	// out of retries, move on rather than loop forever
	p.current++
	p.retries = 0
	p.failed++
	return nil
}

func (p *PlanSelector) generatePlan(ctx context.Context, sel *Selection) error {
	req := &llm.Request{
		Messages:       []schema.Message{schema.NewUserMessage(p.planPrompt(sel))},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	}
	resp, err := p.model.Generate(ctx, req)
	if err != nil {
		return schema.NewAgentError("plan_selector", "generate plan", err)
	}

	var parsed struct {
		Steps []PlanStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &parsed); err != nil {
		return schema.NewAgentError("plan_selector", "parse plan", err)
	}
	if len(parsed.Steps) == 0 {
		return schema.NewAgentError("plan_selector", "parse plan", fmt.Errorf("empty plan"))
	}
	for i := range parsed.Steps {
		if parsed.Steps[i].StepID == "" {
			parsed.Steps[i].StepID = fmt.Sprintf("step_%d", i+1)
		}
		if !knownAgent(sel, parsed.Steps[i].AgentName) {
			return schema.NewAgentError("plan_selector", "validate plan",
				fmt.Errorf("step %s names unknown agent %q", parsed.Steps[i].StepID, parsed.Steps[i].AgentName))
		}
	}

	p.plan = parsed.Steps
	p.current = 0
	p.retries = 0
	p.completed = 0
	p.failed = 0
	return nil
}

func (p *PlanSelector) planPrompt(sel *Selection) string {
	var sb strings.Builder
	sb.WriteString("Break this task into an ordered plan of steps, each assigned to one agent.\n\nAgents:\n")
	for _, ag := range sel.Agents {
		desc := ag.Description()
		if desc == "" {
			desc = ag.Name()
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", ag.Name(), desc))
	}
	sb.WriteString("\nTask: ")
	sb.WriteString(sel.Task)
	sb.WriteString("\n\nRespond: {\"steps\": [{\"step_id\": \"<id>\", \"task\": \"<what to do>\", \"agent_name\": \"<name>\", \"reasoning\": \"<why this agent>\"}]}")
	return sb.String()
}

func (p *PlanSelector) evaluateStep(ctx context.Context, sel *Selection, step PlanStep) (*stepEvaluation, error) {
	var sb strings.Builder
	sb.WriteString("Evaluate whether this plan step is complete.\n\nStep: ")
	sb.WriteString(step.Task)
	sb.WriteString("\n\nRecent conversation:\n")
	recent := sel.Messages
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	for _, msg := range recent {
		speaker := msg.Source
		if speaker == "" {
			speaker = string(msg.Role)
		}
		content := msg.Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", speaker, content))
	}
	sb.WriteString("\nRespond: {\"step_completed\": <bool>, \"confidence\": <0..1>, \"suggested_improvements\": [\"<hint>\"]}")

	req := &llm.Request{
		Messages:       []schema.Message{schema.NewUserMessage(sb.String())},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	}
	resp, err := p.model.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	var eval stepEvaluation
	if err := json.Unmarshal([]byte(resp.Message.Content), &eval); err != nil {
		return nil, err
	}
	return &eval, nil
}

// publish mirrors the plan position into the orchestration metadata.
func (p *PlanSelector) publish(sel *Selection) {
	if sel.Metadata == nil {
		return
	}
	sel.Metadata["plan"] = append([]PlanStep(nil), p.plan...)
	if p.current < len(p.plan) {
		sel.Metadata["plan_step"] = p.plan[p.current].StepID
	}
	sel.Metadata["plan_retries"] = p.retries
	sel.Metadata["plan_steps_completed"] = p.completed
	sel.Metadata["plan_steps_failed"] = p.failed
}
