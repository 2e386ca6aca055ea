package llm

import (
	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/schema"
)

const liteLLMProvider = "llm.litellm"

// DumpComponent serializes the model configuration. The api key is
// excluded; Load rebuilds a client that must be given a key via
// SetAPIKey before use.
func (m *LiteLLM) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: liteLLMProvider,
		Version:  1,
		Config: map[string]any{
			"model":                 m.model,
			"provider":              m.info.Provider,
			"base_url":              m.base,
			"temperature":           m.config.Temperature,
			"top_p":                 m.config.TopP,
			"max_tokens":            m.config.MaxTokens,
			"input_price_per_mtok":  m.info.InputPricePerMTok,
			"output_price_per_mtok": m.info.OutputPricePerMTok,
		},
	}, nil
}

// SetAPIKey rebuilds the underlying client with a credential.
// Used after loading a serialized model config.
func (m *LiteLLM) SetAPIKey(apiKey string) {
	rebuilt := newLiteLLM(m.model, m.info.Provider, apiKey, m.base)
	rebuilt.config = m.config
	rebuilt.info.InputPricePerMTok = m.info.InputPricePerMTok
	rebuilt.info.OutputPricePerMTok = m.info.OutputPricePerMTok
	*m = *rebuilt
}

func init() {
	component.Register(liteLLMProvider, func(cm component.Model) (any, error) {
		model, _ := cm.Config["model"].(string)
		if model == "" {
			return nil, schema.NewConfigError("llm.litellm", "config missing model")
		}
		provider, _ := cm.Config["provider"].(string)
		baseURL, _ := cm.Config["base_url"].(string)

		m := newLiteLLM(model, provider, "", baseURL)
		config := *DefaultGenerationConfig
		if v, ok := cm.Config["temperature"].(float64); ok {
			config.Temperature = v
		}
		if v, ok := cm.Config["top_p"].(float64); ok {
			config.TopP = v
		}
		if v, ok := cm.Config["max_tokens"].(float64); ok {
			config.MaxTokens = int(v)
		}
		m.config = &config
		if v, ok := cm.Config["input_price_per_mtok"].(float64); ok {
			m.info.InputPricePerMTok = v
		}
		if v, ok := cm.Config["output_price_per_mtok"].(float64); ok {
			m.info.OutputPricePerMTok = v
		}
		return m, nil
	})
}
