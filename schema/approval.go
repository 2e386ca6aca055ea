package schema

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ApprovalMode controls whether a tool requires human approval before execution.
type ApprovalMode string

const (
	ApprovalNever  ApprovalMode = "never"
	ApprovalAlways ApprovalMode = "always"
)

// ApprovalRequest records a tool call that is waiting for a human decision.
type ApprovalRequest struct {
	RequestID string          `json:"request_id"`
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Args      json.RawMessage `json:"args"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewApprovalRequest creates an approval request for a tool call.
func NewApprovalRequest(call ToolCall) ApprovalRequest {
	return ApprovalRequest{
		RequestID: uuid.NewString(),
		CallID:    call.ID,
		ToolName:  call.Name,
		Args:      call.Args,
		CreatedAt: time.Now(),
	}
}

// ApprovalResponse is a human decision for a pending approval request.
type ApprovalResponse struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}
