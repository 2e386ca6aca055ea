package agent

import (
	"sync"

	"github.com/google/uuid"

	"github.com/loopkit/loopkit/schema"
)

// Context is the conversational state owned by one execution at a
// time. It survives across Run calls so a conversation (and a pause
// for tool approval) can continue where it left off.
type Context struct {
	mu        sync.RWMutex
	id        string
	messages  []schema.Message
	pending   []schema.ApprovalRequest
	responses map[string]schema.ApprovalResponse
	usage     schema.Usage
	metadata  map[string]any
}

// NewContext creates an empty run context.
func NewContext() *Context {
	return &Context{
		id:        uuid.NewString(),
		responses: make(map[string]schema.ApprovalResponse),
		metadata:  make(map[string]any),
	}
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// Messages returns a copy of the transcript.
func (c *Context) Messages() []schema.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// AddMessage appends a message to the transcript.
func (c *Context) AddMessage(msg schema.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// AddMessages appends messages atomically.
func (c *Context) AddMessages(msgs ...schema.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Len returns the transcript length.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// WaitingForApproval reports whether any tool call awaits a decision.
func (c *Context) WaitingForApproval() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, req := range c.pending {
		if _, decided := c.responses[req.RequestID]; !decided {
			return true
		}
	}
	return false
}

// PendingApprovals returns the approval requests without a decision.
func (c *Context) PendingApprovals() []schema.ApprovalRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []schema.ApprovalRequest
	for _, req := range c.pending {
		if _, decided := c.responses[req.RequestID]; !decided {
			out = append(out, req)
		}
	}
	return out
}

// ProvideApproval records a decision. The first decision for a request
// wins; repeats are ignored.
func (c *Context) ProvideApproval(resp schema.ApprovalResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.responses[resp.RequestID]; exists {
		return
	}
	for _, req := range c.pending {
		if req.RequestID == resp.RequestID {
			c.responses[resp.RequestID] = resp
			return
		}
	}
}

// Approve is shorthand for an approving decision.
func (c *Context) Approve(requestID string) {
	c.ProvideApproval(schema.ApprovalResponse{RequestID: requestID, Approved: true})
}

// Reject is shorthand for a rejecting decision.
func (c *Context) Reject(requestID, reason string) {
	c.ProvideApproval(schema.ApprovalResponse{RequestID: requestID, Approved: false, Reason: reason})
}

// Usage returns the cumulative usage.
func (c *Context) Usage() schema.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// AddUsage merges usage into the cumulative counters.
func (c *Context) AddUsage(u schema.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(u)
}

// SetMetadata stores a metadata value.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns a copy of the metadata map.
func (c *Context) Metadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// addApprovals records new approval requests.
func (c *Context) addApprovals(reqs ...schema.ApprovalRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, reqs...)
}

// decidedApprovals returns pending requests that have a decision.
func (c *Context) decidedApprovals() []decidedApproval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []decidedApproval
	for _, req := range c.pending {
		if resp, ok := c.responses[req.RequestID]; ok {
			out = append(out, decidedApproval{Request: req, Response: resp})
		}
	}
	return out
}

// clearApproval removes a settled request from the pending list.
func (c *Context) clearApproval(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, req := range c.pending {
		if req.RequestID != requestID {
			kept = append(kept, req)
		}
	}
	c.pending = kept
	delete(c.responses, requestID)
}

type decidedApproval struct {
	Request  schema.ApprovalRequest
	Response schema.ApprovalResponse
}
