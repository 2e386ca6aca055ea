package middleware

import (
	"context"
	"sync"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tokens"
)

// TokenTracking accumulates token usage across model calls. When a
// provider omits usage, counts are estimated from the transcript and
// written back onto the response so downstream accounting sees them.
type TokenTracking struct {
	NopMiddleware
	estimator *tokens.Estimator

	mu    sync.Mutex
	total schema.Usage
}

var _ Middleware = (*TokenTracking)(nil)

// NewTokenTracking creates a token tracking middleware.
func NewTokenTracking(estimator *tokens.Estimator) *TokenTracking {
	if estimator == nil {
		estimator = tokens.NewEstimator("")
	}
	return &TokenTracking{estimator: estimator}
}

func (t *TokenTracking) Name() string { return "token_tracking" }

func (t *TokenTracking) ProcessResponse(_ context.Context, mc *Context) error {
	if mc.Operation != OpModelCall {
		return nil
	}
	resp, ok := mc.Result.(*llm.Response)
	if !ok || resp == nil {
		return nil
	}

	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		resp.Usage.InputTokens = t.estimator.CountMessages(mc.Messages)
		resp.Usage.OutputTokens = t.estimator.CountMessage(resp.Message)
	}

	t.mu.Lock()
	t.total.Add(resp.Usage)
	t.mu.Unlock()
	return nil
}

// Total returns the usage accumulated so far.
func (t *TokenTracking) Total() schema.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
