package schema

import (
	"errors"
	"testing"
	"time"
)

func TestNewToolMessageCarriesCallID(t *testing.T) {
	m := NewToolMessage("call_1", "42", true)
	if m.Role != RoleTool {
		t.Fatalf("expected tool role, got %s", m.Role)
	}
	if m.CallID() != "call_1" {
		t.Fatalf("expected call_1, got %q", m.CallID())
	}
}

func TestToolResultMessageFailure(t *testing.T) {
	r := ToolResult{CallID: "call_2", Success: false, Error: "boom"}
	m := r.Message()
	if m.Content != "boom" {
		t.Fatalf("expected error as content, got %q", m.Content)
	}
	if ok, _ := m.Metadata["success"].(bool); ok {
		t.Fatalf("expected success=false metadata")
	}
}

func TestMessageIDsUnique(t *testing.T) {
	a := NewUserMessage("hi")
	b := NewUserMessage("hi")
	if a.ID == b.ID {
		t.Fatalf("expected distinct message ids")
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 10, OutputTokens: 5, LLMCalls: 1, Duration: time.Second})
	u.Add(Usage{InputTokens: 2, OutputTokens: 3, ToolCalls: 4, Cost: 0.5})
	if u.InputTokens != 12 || u.OutputTokens != 8 {
		t.Fatalf("unexpected token totals: %+v", u)
	}
	if u.TotalTokens() != 20 {
		t.Fatalf("expected 20 total tokens, got %d", u.TotalTokens())
	}
	if u.LLMCalls != 1 || u.ToolCalls != 4 {
		t.Fatalf("unexpected call counts: %+v", u)
	}
}

func TestErrorWrappersUnwrap(t *testing.T) {
	err := NewToolError("calc", "execute", ErrToolTimeout)
	if !errors.Is(err, ErrToolTimeout) {
		t.Fatalf("expected errors.Is to see the sentinel")
	}

	agentErr := NewAgentError("helper", "model call", NewModelError("gpt-4o", "generate", ErrRateLimited))
	if !errors.Is(agentErr, ErrRateLimited) {
		t.Fatalf("expected nested sentinel to surface")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrRateLimited) {
		t.Fatalf("rate limited should be retryable")
	}
	if IsRetryable(ErrToolNotFound) {
		t.Fatalf("missing tool should not be retryable")
	}
}

func TestApprovalRequestFromCall(t *testing.T) {
	call := ToolCall{ID: "call_9", Name: "deploy", Args: []byte(`{"env":"prod"}`)}
	req := NewApprovalRequest(call)
	if req.RequestID == "" {
		t.Fatalf("expected generated request id")
	}
	if req.CallID != "call_9" || req.ToolName != "deploy" {
		t.Fatalf("unexpected request: %+v", req)
	}
}
