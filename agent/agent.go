// Package agent implements the model-call / tool-execution iteration
// loop with streaming events, middleware interception and human
// approval gates.
package agent

import (
	"time"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/middleware"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

const (
	defaultMaxIterations = 10
	eventBufferSize      = 128
)

// Agent runs the iteration loop: call the model, execute requested
// tools, feed results back, repeat until the model stops or a limit
// is hit. Agents are stateless between runs; conversational state
// lives in the Context passed to Run.
type Agent struct {
	name          string
	description   string
	systemPrompt  string
	model         llm.ChatModel
	registry      *tools.Registry
	executor      *tools.Executor
	chain         *middleware.Chain
	maxIterations int
	outputFormat  *llm.SchemaSpec
	streamTokens  bool
	toolTimeout   time.Duration
	toolParallel  int

	pendingTools []tools.Tool
}

// Option configures an Agent.
type Option func(*Agent)

// WithDescription sets the agent description used by orchestrators.
func WithDescription(d string) Option {
	return func(a *Agent) { a.description = d }
}

// WithModel sets the chat model.
func WithModel(m llm.ChatModel) Option {
	return func(a *Agent) { a.model = m }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(p string) Option {
	return func(a *Agent) { a.systemPrompt = p }
}

// WithTools registers tools. Duplicate names surface as an error from
// New.
func WithTools(ts ...tools.Tool) Option {
	return func(a *Agent) {
		for _, t := range ts {
			a.pendingTools = append(a.pendingTools, t)
		}
	}
}

// WithMiddlewares sets the interception chain, outermost first.
func WithMiddlewares(ms ...middleware.Middleware) Option {
	return func(a *Agent) { a.chain = middleware.NewChain(ms...) }
}

// WithMaxIterations bounds loop iterations (default 10).
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithOutputFormat requires the final reply to conform to spec.
func WithOutputFormat(spec *llm.SchemaSpec) Option {
	return func(a *Agent) { a.outputFormat = spec }
}

// WithTokenStreaming forwards provider token deltas as events.
func WithTokenStreaming() Option {
	return func(a *Agent) { a.streamTokens = true }
}

// WithToolTimeout bounds each tool execution.
func WithToolTimeout(d time.Duration) Option {
	return func(a *Agent) { a.toolTimeout = d }
}

// WithToolConcurrency bounds parallel tool execution within one
// iteration (default 4).
func WithToolConcurrency(n int) Option {
	return func(a *Agent) { a.toolParallel = n }
}

// New creates an agent. A model is required.
func New(name string, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, schema.NewConfigError("agent", "name is required")
	}
	a := &Agent{
		name:          name,
		maxIterations: defaultMaxIterations,
		chain:         middleware.NewChain(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.model == nil {
		return nil, schema.NewConfigError("agent", "model is required")
	}

	registry, err := tools.NewRegistry(a.pendingTools...)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	a.pendingTools = nil

	execOpts := []tools.ExecutorOption{}
	if a.toolTimeout > 0 {
		execOpts = append(execOpts, tools.WithTimeout(a.toolTimeout))
	}
	if a.toolParallel > 0 {
		execOpts = append(execOpts, tools.WithConcurrency(a.toolParallel))
	}
	a.executor = tools.NewExecutor(registry, execOpts...)
	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.description }

// Model returns the configured chat model.
func (a *Agent) Model() llm.ChatModel { return a.model }

// Tools returns the registered tools sorted by name.
func (a *Agent) Tools() []tools.Tool { return a.registry.List() }

// RegisterTool adds a tool after construction.
func (a *Agent) RegisterTool(t tools.Tool) error { return a.registry.Register(t) }
