// Package llm defines the unified model contract and the litellm-backed
// provider implementation.
package llm

import (
	"context"

	"github.com/loopkit/loopkit/schema"
)

// ChatModel is the unified model interface. One call produces exactly
// one assistant message; providers that split output are flattened at
// the adapter boundary.
type ChatModel interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	GenerateStream(ctx context.Context, req *Request) (<-chan schema.StreamEvent, error)
	SupportsTools() bool
	SupportsStreaming() bool
	Info() ModelInfo
}

// Request encapsulates a single generation request.
type Request struct {
	Messages       []schema.Message  `json:"messages"`
	Tools          []ToolSpec        `json:"tools,omitempty"`
	Config         *GenerationConfig `json:"config,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`
}

// Response encapsulates model output and metadata.
type Response struct {
	Message      schema.Message `json:"message"`
	Usage        schema.Usage   `json:"usage"`
	FinishReason string         `json:"finish_reason"`
	ModelInfo    ModelInfo      `json:"model_info"`
}

// ToolSpec describes a callable tool for the model (name + description +
// JSON schema parameters).
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ResponseFormat requests structured output.
// Type: text, json_object, json_schema.
type ResponseFormat struct {
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
	Strict     bool           `json:"strict,omitempty"`
}

// GenerationConfig holds sampling and length control.
type GenerationConfig struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	MaxTokens     int      `json:"max_tokens"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

var DefaultGenerationConfig = &GenerationConfig{
	Temperature: 0.7,
	TopP:        0.9,
	MaxTokens:   2000,
}

// ModelInfo is basic model metadata. Prices are USD per million tokens
// and zero when unknown.
type ModelInfo struct {
	Name               string   `json:"name"`
	Provider           string   `json:"provider"`
	ContextSize        int      `json:"context_size,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	InputPricePerMTok  float64  `json:"input_price_per_mtok,omitempty"`
	OutputPricePerMTok float64  `json:"output_price_per_mtok,omitempty"`
}

// ModelCapability identifies a model capability.
type ModelCapability string

const (
	CapabilityChat        ModelCapability = "chat"
	CapabilityToolCalling ModelCapability = "tool_calling"
	CapabilityStreaming   ModelCapability = "streaming"
)

// HasCapability reports whether the capability is listed.
func (i ModelInfo) HasCapability(c ModelCapability) bool {
	for _, have := range i.Capabilities {
		if have == string(c) {
			return true
		}
	}
	return false
}

// Cost computes the dollar cost of a usage at this model's prices.
func (i ModelInfo) Cost(u schema.Usage) float64 {
	return float64(u.InputTokens)*i.InputPricePerMTok/1e6 +
		float64(u.OutputTokens)*i.OutputPricePerMTok/1e6
}
