package orchestrator

import (
	"context"
	"sync"

	"github.com/loopkit/loopkit/schema"
)

// RoundRobin cycles through the agents in registration order, starting
// from the first.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

var _ Selector = (*RoundRobin)(nil)

// NewRoundRobin creates a round-robin selector.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select returns the next agent in the cycle.
func (r *RoundRobin) Select(_ context.Context, sel *Selection) (string, error) {
	if len(sel.Agents) == 0 {
		return "", schema.ErrAgentNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := sel.Agents[r.next%len(sel.Agents)].Name()
	r.next++
	return name, nil
}

// Reset rewinds the cycle to the first agent.
func (r *RoundRobin) Reset() {
	r.mu.Lock()
	r.next = 0
	r.mu.Unlock()
}
