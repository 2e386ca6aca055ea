// Package middleware provides interceptors around model and tool
// calls. A middleware sees the request before the operation, the
// result after it, and errors on the way out; it can mutate, replace
// the result entirely, or recover from a failure.
package middleware

import (
	"context"

	"github.com/loopkit/loopkit/schema"
)

// Operation identifies what a middleware invocation wraps.
type Operation string

const (
	OpModelCall Operation = "model_call"
	OpToolCall  Operation = "tool_call"
)

// Context is the mutable payload flowing through a chain for one
// operation. For model calls Messages holds the outbound transcript;
// for tool calls ToolCall holds the pending call. Setting Result in
// ProcessRequest short-circuits: inner middlewares and the operation
// itself are skipped, and the response phase unwinds from the
// middleware that produced it.
type Context struct {
	Operation Operation
	AgentName string

	Messages []schema.Message
	ToolCall *schema.ToolCall

	// Result is the operation output: *llm.Response for model calls,
	// *schema.ToolResult for tool calls.
	Result any

	// Usage points at the run's cumulative usage when the caller
	// tracks one. Read-only for middlewares except token tracking.
	Usage *schema.Usage

	Meta map[string]any
}

// Middleware intercepts one operation with three hooks. Each hook may
// mutate the Context. ProcessError recovers by setting a Result and
// returning nil; returning an error propagates it outward.
type Middleware interface {
	Name() string
	ProcessRequest(ctx context.Context, mc *Context) error
	ProcessResponse(ctx context.Context, mc *Context) error
	ProcessError(ctx context.Context, mc *Context, err error) error
}

// NopMiddleware implements Middleware with no-op hooks for embedding.
type NopMiddleware struct{}

func (NopMiddleware) ProcessRequest(context.Context, *Context) error  { return nil }
func (NopMiddleware) ProcessResponse(context.Context, *Context) error { return nil }
func (NopMiddleware) ProcessError(_ context.Context, _ *Context, err error) error {
	return err
}

// Chain applies middlewares in declaration order: requests run
// first-to-last, responses unwind last-to-first.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain. Order is the interception order.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Append adds middlewares at the inner end of the chain.
func (c *Chain) Append(middlewares ...Middleware) {
	c.middlewares = append(c.middlewares, middlewares...)
}

// Len returns the number of middlewares.
func (c *Chain) Len() int { return len(c.middlewares) }

// Middlewares returns the chain contents in order.
func (c *Chain) Middlewares() []Middleware { return c.middlewares }

// Run executes op wrapped by the chain. op must set mc.Result on
// success. A middleware that sets mc.Result during ProcessRequest
// bypasses everything inside it. Operation errors travel outward
// through ProcessError hooks of the already-entered middlewares; the
// first hook that returns nil (after setting a Result) recovers the
// run and the response phase continues from there.
func (c *Chain) Run(ctx context.Context, mc *Context, op func(context.Context, *Context) error) error {
	var entered int
	var opErr error

	for _, m := range c.middlewares {
		if err := m.ProcessRequest(ctx, mc); err != nil {
			opErr = err
			break
		}
		entered++
		if mc.Result != nil {
			break
		}
	}

	if opErr == nil && mc.Result == nil {
		opErr = op(ctx, mc)
	}

	if opErr != nil {
		mc.Result = nil
		for i := entered - 1; i >= 0; i-- {
			opErr = c.middlewares[i].ProcessError(ctx, mc, opErr)
			if opErr == nil && mc.Result != nil {
				// recovered; unwind responses from here
				entered = i
				break
			}
			if opErr == nil {
				opErr = schema.NewConfigError(c.middlewares[i].Name(), "ProcessError returned nil without a result")
			}
		}
		if opErr != nil {
			return opErr
		}
	}

	for i := entered - 1; i >= 0; i-- {
		if err := c.middlewares[i].ProcessResponse(ctx, mc); err != nil {
			return err
		}
	}
	return nil
}
