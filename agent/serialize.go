package agent

import (
	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/middleware"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

// DumpComponent serializes the agent when every part of it is
// serializable. FuncTools, agent-as-tool wrappers and writer-backed
// middlewares refuse, failing the whole dump.
func (a *Agent) DumpComponent() (component.Model, error) {
	model, err := component.DumpNested(a.model)
	if err != nil {
		return component.Model{}, err
	}

	var toolConfigs []any
	for _, t := range a.registry.List() {
		tc, err := component.DumpNested(t)
		if err != nil {
			return component.Model{}, err
		}
		toolConfigs = append(toolConfigs, tc)
	}

	var middlewareConfigs []any
	for _, m := range a.chain.Middlewares() {
		mc, err := component.DumpNested(m)
		if err != nil {
			return component.Model{}, err
		}
		middlewareConfigs = append(middlewareConfigs, mc)
	}

	config := map[string]any{
		"name":           a.name,
		"description":    a.description,
		"system_prompt":  a.systemPrompt,
		"max_iterations": a.maxIterations,
		"stream_tokens":  a.streamTokens,
		"model":          model,
	}
	if len(toolConfigs) > 0 {
		config["tools"] = toolConfigs
	}
	if len(middlewareConfigs) > 0 {
		config["middlewares"] = middlewareConfigs
	}
	if a.outputFormat != nil {
		config["output_format"] = map[string]any{
			"name":   a.outputFormat.Name,
			"schema": a.outputFormat.Schema,
		}
	}
	return component.Model{Provider: "agent", Version: 1, Config: config}, nil
}

func init() {
	component.Register("agent", func(m component.Model) (any, error) {
		name, _ := m.Config["name"].(string)
		if name == "" {
			return nil, schema.NewConfigError("agent", "config missing name")
		}

		modelComponent, err := component.LoadNested(m.Config["model"])
		if err != nil {
			return nil, err
		}
		chatModel, ok := modelComponent.(llm.ChatModel)
		if !ok {
			return nil, schema.NewConfigError("agent", "model config did not produce a ChatModel")
		}

		opts := []Option{WithModel(chatModel)}
		if v, ok := m.Config["description"].(string); ok && v != "" {
			opts = append(opts, WithDescription(v))
		}
		if v, ok := m.Config["system_prompt"].(string); ok && v != "" {
			opts = append(opts, WithSystemPrompt(v))
		}
		if v, ok := m.Config["max_iterations"].(float64); ok && v > 0 {
			opts = append(opts, WithMaxIterations(int(v)))
		}
		if v, ok := m.Config["stream_tokens"].(bool); ok && v {
			opts = append(opts, WithTokenStreaming())
		}

		if raw, ok := m.Config["tools"].([]any); ok {
			for _, tc := range raw {
				c, err := component.LoadNested(tc)
				if err != nil {
					return nil, err
				}
				tool, ok := c.(tools.Tool)
				if !ok {
					return nil, schema.NewConfigError("agent", "tool config did not produce a Tool")
				}
				opts = append(opts, WithTools(tool))
			}
		}

		if raw, ok := m.Config["middlewares"].([]any); ok {
			var ms []middleware.Middleware
			for _, mc := range raw {
				c, err := component.LoadNested(mc)
				if err != nil {
					return nil, err
				}
				mw, ok := c.(middleware.Middleware)
				if !ok {
					return nil, schema.NewConfigError("agent", "middleware config did not produce a Middleware")
				}
				ms = append(ms, mw)
			}
			opts = append(opts, WithMiddlewares(ms...))
		}

		if raw, ok := m.Config["output_format"].(map[string]any); ok {
			specName, _ := raw["name"].(string)
			schemaDef, _ := raw["schema"].(map[string]any)
			spec, err := llm.NewSchemaSpec(specName, schemaDef)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutputFormat(spec))
		}

		return New(name, opts...)
	})
}
