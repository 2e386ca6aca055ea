package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/loopkit/loopkit/schema"
)

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := NewRegistry()
	e := NewExecutor(r)
	res := e.Execute(context.Background(), schema.ToolCall{ID: "c1", Name: "missing"})
	if res.Success {
		t.Fatalf("expected failure for unknown tool")
	}
	if !strings.Contains(res.Error, "not found") {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestExecuteValidatesArgs(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))
	e := NewExecutor(r)

	res := e.Execute(context.Background(), schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{}`)})
	if res.Success {
		t.Fatalf("expected failure for missing required property")
	}
	if !strings.Contains(res.Error, "invalid arguments") {
		t.Fatalf("unexpected error: %q", res.Error)
	}

	res = e.Execute(context.Background(), schema.ToolCall{ID: "c2", Name: "echo", Args: []byte(`{"text":"hi"}`)})
	if !res.Success || res.Content != "hi" {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	slow := NewFuncTool("slow", "sleeps", nil, func(ctx context.Context, _ json.RawMessage) (string, error) {
		select {
		case <-time.After(time.Second):
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	r, _ := NewRegistry(slow)
	e := NewExecutor(r, WithTimeout(10*time.Millisecond))

	res := e.Execute(context.Background(), schema.ToolCall{ID: "c1", Name: "slow"})
	if res.Success {
		t.Fatalf("expected timeout failure")
	}
	if !strings.Contains(res.Error, schema.ErrToolTimeout.Error()) {
		t.Fatalf("expected timeout error, got %q", res.Error)
	}
}

func TestExecuteContainsPanic(t *testing.T) {
	boom := NewFuncTool("boom", "panics", nil, func(context.Context, json.RawMessage) (string, error) {
		panic("kaboom")
	})
	r, _ := NewRegistry(boom)
	e := NewExecutor(r)

	res := e.Execute(context.Background(), schema.ToolCall{ID: "c1", Name: "boom"})
	if res.Success {
		t.Fatalf("expected panic to become a failed result")
	}
	if !strings.Contains(res.Error, "panicked") {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))
	e := NewExecutor(r, WithConcurrency(2))

	calls := make([]schema.ToolCall, 5)
	for i := range calls {
		calls[i] = schema.ToolCall{
			ID:   fmt.Sprintf("c%d", i),
			Name: "echo",
			Args: []byte(fmt.Sprintf(`{"text":"v%d"}`, i)),
		}
	}
	results := e.ExecuteAll(context.Background(), calls)
	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, res := range results {
		if res.CallID != calls[i].ID {
			t.Fatalf("result %d out of order: %s", i, res.CallID)
		}
		if res.Content != fmt.Sprintf("v%d", i) {
			t.Fatalf("result %d has wrong content: %q", i, res.Content)
		}
	}
}

func TestNeedsApproval(t *testing.T) {
	gated := echoTool("gated").WithApproval(schema.ApprovalAlways)
	r, _ := NewRegistry(echoTool("free"), gated)
	e := NewExecutor(r)

	if e.NeedsApproval("free") {
		t.Fatalf("free tool should not need approval")
	}
	if !e.NeedsApproval("gated") {
		t.Fatalf("gated tool should need approval")
	}
	if e.NeedsApproval("unknown") {
		t.Fatalf("unknown tool should not need approval")
	}
}
