package agent

import "github.com/loopkit/loopkit/schema"

// FinishReason describes how a run ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishMaxIterations FinishReason = "max_iterations"
	FinishNeedsApproval FinishReason = "needs_approval"
	FinishCancelled     FinishReason = "cancelled"
	FinishError         FinishReason = "error"
)

// EventType identifies agent lifecycle event types.
type EventType string

const (
	EventStart            EventType = "agent_start"
	EventIterationStart   EventType = "iteration_start"
	EventToken            EventType = "token"
	EventMessage          EventType = "message"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallEnd      EventType = "tool_call_end"
	EventApprovalRequired EventType = "approval_required"
	EventError            EventType = "error"
	EventEnd              EventType = "agent_end"
)

// Event is a lifecycle event emitted during a run. The terminal
// agent_end event carries the Response; everything else is progress.
type Event struct {
	Type      EventType                `json:"type"`
	AgentName string                   `json:"agent_name,omitempty"`
	Iteration int                      `json:"iteration,omitempty"`
	Delta     string                   `json:"delta,omitempty"`
	Message   *schema.Message          `json:"message,omitempty"`
	ToolCall  *schema.ToolCall         `json:"tool_call,omitempty"`
	Result    *schema.ToolResult       `json:"result,omitempty"`
	Approvals []schema.ApprovalRequest `json:"approvals,omitempty"`
	Response  *Response                `json:"response,omitempty"`
	Err       error                    `json:"-"`
}

// Response is the terminal outcome of a run.
type Response struct {
	Messages     []schema.Message         `json:"messages"`
	FinishReason FinishReason             `json:"finish_reason"`
	Usage        schema.Usage             `json:"usage"`
	Approvals    []schema.ApprovalRequest `json:"approvals,omitempty"`
	Err          error                    `json:"-"`
}

// FinalMessage returns the last assistant message of the run, or nil.
func (r *Response) FinalMessage() *schema.Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == schema.RoleAssistant {
			return &r.Messages[i]
		}
	}
	return nil
}

// Text returns the content of the final assistant message.
func (r *Response) Text() string {
	if msg := r.FinalMessage(); msg != nil {
		return msg.Content
	}
	return ""
}
