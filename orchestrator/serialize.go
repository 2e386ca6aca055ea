package orchestrator

import (
	"github.com/loopkit/loopkit/agent"
	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/termination"
)

// DumpComponent serializes the orchestrator, its agents, selector and
// termination condition.
func (o *Orchestrator) DumpComponent() (component.Model, error) {
	var agentConfigs []any
	for _, ag := range o.agents {
		c, err := component.DumpNested(ag)
		if err != nil {
			return component.Model{}, err
		}
		agentConfigs = append(agentConfigs, c)
	}

	selector, err := component.DumpNested(o.selector)
	if err != nil {
		return component.Model{}, err
	}

	config := map[string]any{
		"name":           o.name,
		"agents":         agentConfigs,
		"selector":       selector,
		"max_iterations": o.maxIterations,
	}
	if o.condition != nil {
		cond, err := component.DumpNested(o.condition)
		if err != nil {
			return component.Model{}, err
		}
		config["termination"] = cond
	}
	return component.Model{Provider: "orchestrator", Version: 1, Config: config}, nil
}

// DumpComponent serializes the round-robin selector. Cursor position is
// runtime state and is not carried.
func (r *RoundRobin) DumpComponent() (component.Model, error) {
	return component.Model{Provider: "orchestrator.round_robin", Version: 1}, nil
}

// DumpComponent serializes the AI selector with its nested model.
func (s *AISelector) DumpComponent() (component.Model, error) {
	model, err := component.DumpNested(s.model)
	if err != nil {
		return component.Model{}, err
	}
	return component.Model{
		Provider: "orchestrator.ai",
		Version:  1,
		Config:   map[string]any{"model": model},
	}, nil
}

// DumpComponent serializes the plan selector with its nested model and
// retry policy. The generated plan is runtime state and is not carried.
func (p *PlanSelector) DumpComponent() (component.Model, error) {
	model, err := component.DumpNested(p.model)
	if err != nil {
		return component.Model{}, err
	}
	return component.Model{
		Provider: "orchestrator.plan",
		Version:  1,
		Config: map[string]any{
			"model":            model,
			"max_step_retries": p.maxStepRetries,
			"replan":           p.replan,
		},
	}, nil
}

func loadModel(v any) (llm.ChatModel, error) {
	c, err := component.LoadNested(v)
	if err != nil {
		return nil, err
	}
	m, ok := c.(llm.ChatModel)
	if !ok {
		return nil, schema.NewConfigError("orchestrator", "model config did not produce a ChatModel")
	}
	return m, nil
}

func init() {
	component.Register("orchestrator.round_robin", func(component.Model) (any, error) {
		return NewRoundRobin(), nil
	})

	component.Register("orchestrator.ai", func(m component.Model) (any, error) {
		model, err := loadModel(m.Config["model"])
		if err != nil {
			return nil, err
		}
		return NewAISelector(model)
	})

	component.Register("orchestrator.plan", func(m component.Model) (any, error) {
		model, err := loadModel(m.Config["model"])
		if err != nil {
			return nil, err
		}
		var opts []PlanOption
		if v, ok := m.Config["max_step_retries"].(float64); ok {
			opts = append(opts, WithMaxStepRetries(int(v)))
		}
		if v, ok := m.Config["replan"].(bool); ok && v {
			opts = append(opts, WithReplanning())
		}
		return NewPlanSelector(model, opts...)
	})

	component.Register("orchestrator", func(m component.Model) (any, error) {
		name, _ := m.Config["name"].(string)
		if name == "" {
			return nil, schema.NewConfigError("orchestrator", "config missing name")
		}

		var opts []Option
		if raw, ok := m.Config["agents"].([]any); ok {
			for _, ac := range raw {
				c, err := component.LoadNested(ac)
				if err != nil {
					return nil, err
				}
				ag, ok := c.(*agent.Agent)
				if !ok {
					return nil, schema.NewConfigError("orchestrator", "agent config did not produce an Agent")
				}
				opts = append(opts, WithAgents(ag))
			}
		}

		if v, ok := m.Config["selector"]; ok && v != nil {
			c, err := component.LoadNested(v)
			if err != nil {
				return nil, err
			}
			sel, ok := c.(Selector)
			if !ok {
				return nil, schema.NewConfigError("orchestrator", "selector config did not produce a Selector")
			}
			opts = append(opts, WithSelector(sel))
		}

		if v, ok := m.Config["termination"]; ok && v != nil {
			c, err := component.LoadNested(v)
			if err != nil {
				return nil, err
			}
			cond, ok := c.(termination.Condition)
			if !ok {
				return nil, schema.NewConfigError("orchestrator", "termination config did not produce a Condition")
			}
			opts = append(opts, WithTermination(cond))
		}

		if v, ok := m.Config["max_iterations"].(float64); ok && v > 0 {
			opts = append(opts, WithMaxIterations(int(v)))
		}

		return New(name, opts...)
	})
}
