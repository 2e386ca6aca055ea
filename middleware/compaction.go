package middleware

import (
	"context"

	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tokens"
)

// ContextCompaction trims the outbound transcript of model calls when
// it exceeds a token budget. System messages always survive; the rest
// is cut at turn boundaries, oldest first, so a user message is never
// separated from the assistant reply and tool round-trips it produced.
type ContextCompaction struct {
	NopMiddleware
	budget    int
	keepTurns int
	estimator *tokens.Estimator
}

var _ Middleware = (*ContextCompaction)(nil)

// NewContextCompaction creates a compaction middleware. budget is the
// token ceiling; keepTurns is the minimum number of recent turns
// retained even when over budget.
func NewContextCompaction(budget, keepTurns int, estimator *tokens.Estimator) *ContextCompaction {
	if estimator == nil {
		estimator = tokens.NewEstimator("")
	}
	if keepTurns < 1 {
		keepTurns = 1
	}
	return &ContextCompaction{budget: budget, keepTurns: keepTurns, estimator: estimator}
}

func (c *ContextCompaction) Name() string { return "context_compaction" }

func (c *ContextCompaction) ProcessRequest(_ context.Context, mc *Context) error {
	if mc.Operation != OpModelCall {
		return nil
	}
	if c.estimator.CountMessages(mc.Messages) <= c.budget {
		return nil
	}

	var system []schema.Message
	var rest []schema.Message
	for _, m := range mc.Messages {
		if m.Role == schema.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	turns := splitTurns(rest)
	kept := turns
	for len(kept) > c.keepTurns {
		candidate := kept[1:]
		if c.estimate(system, candidate) <= c.budget {
			kept = candidate
			break
		}
		kept = candidate
	}

	compacted := append([]schema.Message{}, system...)
	for _, turn := range kept {
		compacted = append(compacted, turn...)
	}
	mc.Messages = compacted
	return nil
}

func (c *ContextCompaction) estimate(system []schema.Message, turns [][]schema.Message) int {
	n := c.estimator.CountMessages(system)
	for _, turn := range turns {
		n += c.estimator.CountMessages(turn)
	}
	return n
}

// splitTurns groups messages into turns. A turn starts at each user
// message and carries everything up to the next one.
func splitTurns(msgs []schema.Message) [][]schema.Message {
	var turns [][]schema.Message
	var current []schema.Message
	for _, m := range msgs {
		if m.Role == schema.RoleUser && len(current) > 0 {
			turns = append(turns, current)
			current = nil
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		turns = append(turns, current)
	}
	return turns
}
