package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

// scriptModel replays a fixed sequence of responses.
type scriptModel struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func (m *scriptModel) Generate(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("script exhausted after %d calls", m.calls)
	}
	resp := m.responses[m.calls]
	m.calls++
	if resp.Usage.LLMCalls == 0 {
		resp.Usage.LLMCalls = 1
	}
	return &resp, nil
}

func (m *scriptModel) GenerateStream(context.Context, *llm.Request) (<-chan schema.StreamEvent, error) {
	return nil, fmt.Errorf("streaming not scripted")
}

func (m *scriptModel) SupportsTools() bool     { return true }
func (m *scriptModel) SupportsStreaming() bool { return false }
func (m *scriptModel) Info() llm.ModelInfo {
	return llm.ModelInfo{Name: "script", Provider: "test"}
}

func textResponse(content string) llm.Response {
	return llm.Response{Message: schema.NewAssistantMessage(content), FinishReason: "stop"}
}

func toolResponse(calls ...schema.ToolCall) llm.Response {
	msg := schema.NewAssistantMessage("")
	msg.ToolCalls = calls
	return llm.Response{Message: msg, FinishReason: "tool_calls"}
}

func echoTool() tools.Tool {
	return tools.NewFuncTool("echo", "echoes text", tools.ObjectSchema("", map[string]any{
		"text": tools.StringProperty("text to echo"),
	}, "text"), func(_ context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		return in.Text, nil
	})
}

func gatedTool() tools.Tool {
	return tools.NewFuncTool("deploy", "deploys things", nil,
		func(context.Context, json.RawMessage) (string, error) {
			return "deployed", nil
		}).WithApproval(schema.ApprovalAlways)
}

func TestRunSimpleStop(t *testing.T) {
	model := &scriptModel{responses: []llm.Response{textResponse("hello there")}}
	ag, err := New("helper", WithModel(model))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	resp, err := ag.Run(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("expected stop, got %s", resp.FinishReason)
	}
	if resp.Text() != "hello there" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
	if resp.Usage.LLMCalls != 1 {
		t.Fatalf("expected 1 llm call, got %d", resp.Usage.LLMCalls)
	}
}

func TestRunToolLoop(t *testing.T) {
	model := &scriptModel{responses: []llm.Response{
		toolResponse(schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{"text":"pong"}`)}),
		textResponse("the tool said pong"),
	}}
	ag, err := New("helper", WithModel(model), WithTools(echoTool()))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	resp, err := ag.Run(context.Background(), "ping the tool")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("expected stop, got %s", resp.FinishReason)
	}

	var toolMsg *schema.Message
	for i := range resp.Messages {
		if resp.Messages[i].Role == schema.RoleTool {
			toolMsg = &resp.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatalf("expected a tool message in the transcript")
	}
	if toolMsg.CallID() != "c1" || toolMsg.Content != "pong" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
	if resp.Usage.ToolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", resp.Usage.ToolCalls)
	}
}

func TestRunRenamesDuplicateCallIDs(t *testing.T) {
	model := &scriptModel{responses: []llm.Response{
		toolResponse(
			schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{"text":"first"}`)},
			schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{"text":"second"}`)},
		),
		textResponse("done"),
	}}
	ag, _ := New("helper", WithModel(model), WithTools(echoTool()))

	resp, err := ag.Run(context.Background(), "run twice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var ids []string
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleTool {
			ids = append(ids, msg.CallID())
		}
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c1_2" {
		t.Fatalf("expected renamed ids [c1 c1_2], got %v", ids)
	}
}

func TestRunRenamesCallIDsAcrossIterations(t *testing.T) {
	// the model reuses the same call id in two consecutive turns
	model := &scriptModel{responses: []llm.Response{
		toolResponse(schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{"text":"first"}`)}),
		toolResponse(schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{"text":"second"}`)}),
		textResponse("done"),
	}}
	ag, _ := New("helper", WithModel(model), WithTools(echoTool()))

	resp, err := ag.Run(context.Background(), "run twice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byCallID := make(map[string]int)
	var ids []string
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleTool {
			byCallID[msg.CallID()]++
			ids = append(ids, msg.CallID())
		}
	}
	for id, n := range byCallID {
		if n > 1 {
			t.Fatalf("call id %q appears on %d tool messages", id, n)
		}
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c1_2" {
		t.Fatalf("expected conversation-unique ids [c1 c1_2], got %v", ids)
	}
}

func TestRunMaxIterations(t *testing.T) {
	loop := toolResponse(schema.ToolCall{ID: "c1", Name: "echo", Args: []byte(`{"text":"again"}`)})
	model := &scriptModel{responses: []llm.Response{loop, loop, loop}}
	ag, _ := New("helper", WithModel(model), WithTools(echoTool()), WithMaxIterations(2))

	resp, err := ag.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.FinishReason != FinishMaxIterations {
		t.Fatalf("expected max_iterations, got %s", resp.FinishReason)
	}
}

func TestRunPausesForApproval(t *testing.T) {
	model := &scriptModel{responses: []llm.Response{
		toolResponse(schema.ToolCall{ID: "c1", Name: "deploy", Args: []byte(`{}`)}),
		textResponse("deployment finished"),
	}}
	ag, _ := New("helper", WithModel(model), WithTools(gatedTool()))

	rc := NewContext()
	resp, err := ag.Run(context.Background(), "deploy to prod", WithContext(rc))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if resp.FinishReason != FinishNeedsApproval {
		t.Fatalf("expected needs_approval, got %s", resp.FinishReason)
	}
	if len(resp.Approvals) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(resp.Approvals))
	}

	rc.Approve(resp.Approvals[0].RequestID)

	resp, err = ag.Run(context.Background(), "", WithContext(rc))
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("expected stop after approval, got %s", resp.FinishReason)
	}

	found := false
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleTool && msg.Content == "deployed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the approved tool to have run")
	}
}

func TestRunRejectionRecordsToolMessage(t *testing.T) {
	model := &scriptModel{responses: []llm.Response{
		toolResponse(schema.ToolCall{ID: "c1", Name: "deploy", Args: []byte(`{}`)}),
		textResponse("understood, not deploying"),
	}}
	ag, _ := New("helper", WithModel(model), WithTools(gatedTool()))

	rc := NewContext()
	resp, _ := ag.Run(context.Background(), "deploy to prod", WithContext(rc))
	if resp.FinishReason != FinishNeedsApproval {
		t.Fatalf("expected needs_approval, got %s", resp.FinishReason)
	}

	rc.Reject(resp.Approvals[0].RequestID, "too risky")

	resp, err := ag.Run(context.Background(), "", WithContext(rc))
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}

	var rejection string
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleTool {
			rejection = msg.Content
		}
	}
	if rejection != "rejected by user: too risky" {
		t.Fatalf("unexpected rejection message: %q", rejection)
	}
}

func TestApprovalDecisionIsIdempotent(t *testing.T) {
	rc := NewContext()
	call := schema.ToolCall{ID: "c1", Name: "deploy"}
	req := schema.NewApprovalRequest(call)
	rc.addApprovals(req)

	rc.Approve(req.RequestID)
	rc.Reject(req.RequestID, "changed my mind")

	decided := rc.decidedApprovals()
	if len(decided) != 1 {
		t.Fatalf("expected 1 decided approval, got %d", len(decided))
	}
	if !decided[0].Response.Approved {
		t.Fatalf("first decision should win")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptModel{responses: []llm.Response{textResponse("never sent")}}
	ag, _ := New("helper", WithModel(model))

	resp, err := ag.Run(ctx, "anything")
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if resp.FinishReason != FinishCancelled {
		t.Fatalf("expected cancelled, got %s", resp.FinishReason)
	}
}

func TestRunStructuredOutput(t *testing.T) {
	spec, err := llm.NewSchemaSpec("answer", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{"type": "string"},
		},
		"required": []any{"answer"},
	})
	if err != nil {
		t.Fatalf("schema spec: %v", err)
	}

	model := &scriptModel{responses: []llm.Response{textResponse(`{"answer":"42"}`)}}
	ag, _ := New("helper", WithModel(model), WithOutputFormat(spec))

	resp, err := ag.Run(context.Background(), "the question")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	final := resp.FinalMessage()
	if final == nil || len(final.StructuredContent) == 0 {
		t.Fatalf("expected structured content on the final message")
	}
}

func TestRunStructuredOutputInvalid(t *testing.T) {
	spec, err := llm.NewSchemaSpec("answer", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{"type": "string"},
		},
		"required": []any{"answer"},
	})
	if err != nil {
		t.Fatalf("schema spec: %v", err)
	}

	model := &scriptModel{responses: []llm.Response{textResponse("not json at all")}}
	ag, _ := New("helper", WithModel(model), WithOutputFormat(spec))

	resp, runErr := ag.Run(context.Background(), "the question")
	if runErr == nil {
		t.Fatalf("expected validation failure")
	}
	if resp.FinishReason != FinishError {
		t.Fatalf("expected error finish, got %s", resp.FinishReason)
	}
	// the raw reply stays in the transcript for debugging
	if resp.Text() != "not json at all" {
		t.Fatalf("expected raw reply kept, got %q", resp.Text())
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("helper"); err == nil {
		t.Fatalf("expected error without a model")
	}
	if _, err := New("", WithModel(&scriptModel{})); err == nil {
		t.Fatalf("expected error without a name")
	}
}

func TestRunStreamEmitsLifecycleEvents(t *testing.T) {
	model := &scriptModel{responses: []llm.Response{textResponse("hi")}}
	ag, _ := New("helper", WithModel(model))

	var types []EventType
	for ev := range ag.RunStream(context.Background(), "hello") {
		types = append(types, ev.Type)
	}

	joined := ""
	for _, ty := range types {
		joined += string(ty) + " "
	}
	for _, want := range []EventType{EventStart, EventIterationStart, EventMessage, EventEnd} {
		if !strings.Contains(joined, string(want)) {
			t.Fatalf("missing %s in %s", want, joined)
		}
	}
}
