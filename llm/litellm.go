package llm

import (
	"context"
	"strings"
	"time"

	"github.com/voocel/litellm"

	"github.com/loopkit/loopkit/schema"
)

// LiteLLM adapts the litellm client to the ChatModel interface.
// One client covers OpenAI, Anthropic and Gemini model families.
type LiteLLM struct {
	client *litellm.Client
	model  string
	info   ModelInfo
	config *GenerationConfig
	apiKey string
	base   string
}

var _ ChatModel = (*LiteLLM)(nil)

// NewOpenAIModel creates a ChatModel for an OpenAI model.
// baseURL may be empty for the default endpoint.
func NewOpenAIModel(model, apiKey, baseURL string) *LiteLLM {
	return newLiteLLM(model, "openai", apiKey, baseURL)
}

// NewAnthropicModel creates a ChatModel for an Anthropic model.
func NewAnthropicModel(model, apiKey, baseURL string) *LiteLLM {
	return newLiteLLM(model, "anthropic", apiKey, baseURL)
}

// NewGeminiModel creates a ChatModel for a Google Gemini model.
func NewGeminiModel(model, apiKey, baseURL string) *LiteLLM {
	return newLiteLLM(model, "google", apiKey, baseURL)
}

// NewLiteLLM creates a ChatModel, inferring the provider from the
// model name. Unknown prefixes default to OpenAI-compatible.
func NewLiteLLM(model, apiKey, baseURL string) *LiteLLM {
	return newLiteLLM(model, inferProvider(model), apiKey, baseURL)
}

func newLiteLLM(model, provider, apiKey, baseURL string) *LiteLLM {
	config := *DefaultGenerationConfig

	var opt litellm.ClientOption
	switch provider {
	case "anthropic":
		if baseURL != "" {
			opt = litellm.WithAnthropic(apiKey, baseURL)
		} else {
			opt = litellm.WithAnthropic(apiKey)
		}
	case "google":
		if baseURL != "" {
			opt = litellm.WithGemini(apiKey, baseURL)
		} else {
			opt = litellm.WithGemini(apiKey)
		}
	default:
		if baseURL != "" {
			opt = litellm.WithOpenAI(apiKey, baseURL)
		} else {
			opt = litellm.WithOpenAI(apiKey)
		}
	}

	client := litellm.New(opt, litellm.WithDefaults(config.MaxTokens, config.Temperature))

	caps := []string{string(CapabilityChat)}
	if supportsToolCalling(model) {
		caps = append(caps, string(CapabilityToolCalling))
	}

	return &LiteLLM{
		client: client,
		model:  model,
		config: &config,
		apiKey: apiKey,
		base:   baseURL,
		info: ModelInfo{
			Name:         model,
			Provider:     provider,
			Capabilities: caps,
		},
	}
}

// WithConfig replaces the generation defaults.
func (m *LiteLLM) WithConfig(config *GenerationConfig) *LiteLLM {
	if config != nil {
		m.config = config
	}
	return m
}

// WithPricing sets per-million-token prices for cost accounting.
func (m *LiteLLM) WithPricing(inputPerMTok, outputPerMTok float64) *LiteLLM {
	m.info.InputPricePerMTok = inputPerMTok
	m.info.OutputPricePerMTok = outputPerMTok
	return m
}

func (m *LiteLLM) Info() ModelInfo    { return m.info }
func (m *LiteLLM) SupportsTools() bool { return m.info.HasCapability(CapabilityToolCalling) }

// SupportsStreaming reports false: responses arrive whole and the
// stream fallback emits a single token event before done.
func (m *LiteLLM) SupportsStreaming() bool { return false }

// Generate runs one completion.
func (m *LiteLLM) Generate(ctx context.Context, req *Request) (*Response, error) {
	config := req.Config
	if config == nil {
		config = m.config
	}

	messages := req.Messages
	if req.ResponseFormat != nil && req.ResponseFormat.Type != "" && req.ResponseFormat.Type != "text" {
		messages = appendFormatDirective(messages, req.ResponseFormat)
	}

	litellmReq := &litellm.Request{
		Model:    m.model,
		Messages: m.convertMessages(messages),
		Tools:    m.convertTools(req.Tools),
	}
	if config.Temperature != 0 {
		litellmReq.Temperature = litellm.Float64Ptr(config.Temperature)
	}
	if config.MaxTokens != 0 {
		litellmReq.MaxTokens = litellm.IntPtr(config.MaxTokens)
	}

	resp, err := m.client.Chat(ctx, litellmReq)
	if err != nil {
		return nil, schema.NewModelError(m.model, "complete", err)
	}

	msg, usage := m.convertResponse(resp)
	return &Response{
		Message:      msg,
		Usage:        usage,
		FinishReason: resp.FinishReason,
		ModelInfo:    m.info,
	}, nil
}

// GenerateStream emulates streaming over the completion API: the full
// content arrives as one token event followed by done.
func (m *LiteLLM) GenerateStream(ctx context.Context, req *Request) (<-chan schema.StreamEvent, error) {
	ch := make(chan schema.StreamEvent, 2)
	go func() {
		defer close(ch)
		resp, err := m.Generate(ctx, req)
		if err != nil {
			ch <- schema.NewErrorEvent(err)
			return
		}
		if resp.Message.Content != "" {
			ch <- schema.NewTokenEvent(resp.Message.Content)
		}
		usage := resp.Usage
		ch <- schema.NewDoneEvent(resp.Message, &usage)
	}()
	return ch, nil
}

func (m *LiteLLM) convertMessages(messages []schema.Message) []litellm.Message {
	result := make([]litellm.Message, 0, len(messages))
	for _, msg := range messages {
		lm := litellm.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == schema.RoleTool {
			lm.ToolCallID = msg.CallID()
		}
		if len(msg.ToolCalls) > 0 {
			lm.ToolCalls = make([]litellm.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				lm.ToolCalls[i] = litellm.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: litellm.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				}
			}
		}
		result = append(result, lm)
	}
	return result
}

func (m *LiteLLM) convertTools(tools []ToolSpec) []litellm.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]litellm.Tool, len(tools))
	for i, tool := range tools {
		result[i] = litellm.Tool{
			Type: "function",
			Function: litellm.FunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}

func (m *LiteLLM) convertResponse(resp *litellm.Response) (schema.Message, schema.Usage) {
	msg := schema.NewAssistantMessage(resp.Content)
	msg.Source = m.model
	if len(resp.ToolCalls) > 0 {
		msg.ToolCalls = make([]schema.ToolCall, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			msg.ToolCalls[i] = schema.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: []byte(tc.Function.Arguments),
			}
		}
	}
	usage := schema.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LLMCalls:     1,
	}
	usage.Cost = m.info.Cost(usage)
	return msg, usage
}

// appendFormatDirective injects the structured-output instruction as a
// trailing system message. Providers without a native response-format
// parameter follow the prompt contract instead.
func appendFormatDirective(messages []schema.Message, rf *ResponseFormat) []schema.Message {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else.")
	if len(rf.JSONSchema) > 0 {
		b.WriteString(" The object must conform to this JSON schema:\n")
		b.WriteString(marshalCompact(rf.JSONSchema))
	}
	directive := schema.Message{
		Role:      schema.RoleSystem,
		Content:   b.String(),
		Timestamp: time.Now(),
	}
	out := make([]schema.Message, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, directive)
}

// IsRetryable reports whether a provider error is transient. Wraps
// litellm's classifier so callers do not import it directly.
func IsRetryable(err error) bool {
	return err != nil && (litellm.IsRetryableError(err) || schema.IsRetryable(err))
}

// RetryAfter returns the provider-suggested backoff, or zero.
func RetryAfter(err error) time.Duration {
	if after := litellm.GetRetryAfter(err); after > 0 {
		return time.Duration(after) * time.Second
	}
	return 0
}

func inferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	default:
		return "openai"
	}
}

// supportsToolCalling recognizes model families with function calling.
func supportsToolCalling(model string) bool {
	prefixes := []string{"gpt-4", "gpt-5", "o1", "o3", "claude", "gemini"}
	for _, p := range prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
