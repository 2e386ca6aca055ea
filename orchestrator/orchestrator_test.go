package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/loopkit/loopkit/agent"
	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/termination"
)

// fixedModel always answers with the same content.
type fixedModel struct {
	content string
}

func (m *fixedModel) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Message: schema.NewAssistantMessage(m.content),
		Usage:   schema.Usage{LLMCalls: 1},
	}, nil
}

func (m *fixedModel) GenerateStream(context.Context, *llm.Request) (<-chan schema.StreamEvent, error) {
	return nil, fmt.Errorf("streaming not supported")
}

func (m *fixedModel) SupportsTools() bool     { return false }
func (m *fixedModel) SupportsStreaming() bool { return false }
func (m *fixedModel) Info() llm.ModelInfo     { return llm.ModelInfo{Name: "fixed", Provider: "test"} }

// scriptedModel replays a sequence of contents.
type scriptedModel struct {
	mu       sync.Mutex
	contents []string
	calls    int
}

func (m *scriptedModel) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls >= len(m.contents) {
		return nil, fmt.Errorf("script exhausted after %d calls", m.calls)
	}
	content := m.contents[m.calls]
	m.calls++
	return &llm.Response{
		Message: schema.NewAssistantMessage(content),
		Usage:   schema.Usage{LLMCalls: 1},
	}, nil
}

func (m *scriptedModel) GenerateStream(context.Context, *llm.Request) (<-chan schema.StreamEvent, error) {
	return nil, fmt.Errorf("streaming not supported")
}

func (m *scriptedModel) SupportsTools() bool     { return false }
func (m *scriptedModel) SupportsStreaming() bool { return false }
func (m *scriptedModel) Info() llm.ModelInfo {
	return llm.ModelInfo{Name: "scripted", Provider: "test"}
}

func mustAgent(t *testing.T, name, reply string) *agent.Agent {
	t.Helper()
	ag, err := agent.New(name,
		agent.WithDescription(name+" speaks"),
		agent.WithModel(&fixedModel{content: reply}))
	if err != nil {
		t.Fatalf("agent %s: %v", name, err)
	}
	return ag
}

func TestRoundRobinDeterministic(t *testing.T) {
	alice := mustAgent(t, "alice", "from alice")
	bob := mustAgent(t, "bob", "from bob")

	rr := NewRoundRobin()
	sel := &Selection{Agents: []*agent.Agent{alice, bob}}

	var picks []string
	for i := 0; i < 5; i++ {
		name, err := rr.Select(context.Background(), sel)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		picks = append(picks, name)
	}
	want := []string{"alice", "bob", "alice", "bob", "alice"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("pick %d = %s, want %s", i, picks[i], want[i])
		}
	}
}

func TestOrchestratorAlternatesUntilTermination(t *testing.T) {
	alice := mustAgent(t, "alice", "from alice")
	bob := mustAgent(t, "bob", "from bob")

	o, err := New("team",
		WithAgents(alice, bob),
		WithTermination(termination.NewMaxMessages(4)))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	resp, err := o.Run(context.Background(), "discuss")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.StopReason != StopTermination {
		t.Fatalf("expected termination stop, got %s", resp.StopReason)
	}

	var sources []string
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleAssistant {
			sources = append(sources, msg.Source)
		}
	}
	want := []string{"alice", "bob", "alice"}
	if len(sources) != len(want) {
		t.Fatalf("expected %d turns, got %v", len(want), sources)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Fatalf("turn %d by %s, want %s", i, sources[i], want[i])
		}
	}
	if resp.FinalResult != "from alice" {
		t.Fatalf("unexpected final result: %q", resp.FinalResult)
	}
}

func TestOrchestratorMaxIterations(t *testing.T) {
	alice := mustAgent(t, "alice", "still talking")
	o, err := New("solo", WithAgents(alice), WithMaxIterations(3))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	resp, err := o.Run(context.Background(), "ramble")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.StopReason != StopMaxIterations {
		t.Fatalf("expected max_iterations, got %s", resp.StopReason)
	}
	if resp.Usage.LLMCalls != 3 {
		t.Fatalf("expected 3 llm calls, got %d", resp.Usage.LLMCalls)
	}
}

func TestOrchestratorRejectsDuplicateNames(t *testing.T) {
	a1 := mustAgent(t, "alice", "one")
	a2 := mustAgent(t, "alice", "two")
	if _, err := New("team", WithAgents(a1, a2)); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestAISelectorPicksNamedAgent(t *testing.T) {
	alice := mustAgent(t, "alice", "from alice")
	bob := mustAgent(t, "bob", "from bob")

	chooser := &fixedModel{content: `{"next_agent":"bob","confidence":0.9,"rationale":"bob knows"}`}
	sel, err := NewAISelector(chooser)
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}

	selection := &Selection{
		Task:     "ask bob",
		Agents:   []*agent.Agent{alice, bob},
		Metadata: map[string]any{},
	}
	name, err := sel.Select(context.Background(), selection)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "bob" {
		t.Fatalf("expected bob, got %s", name)
	}
	if mc, _ := selection.Metadata["mean_confidence"].(float64); mc != 0.9 {
		t.Fatalf("expected mean confidence 0.9, got %v", selection.Metadata["mean_confidence"])
	}
}

func TestAISelectorFallsBackOnGarbage(t *testing.T) {
	alice := mustAgent(t, "alice", "from alice")
	bob := mustAgent(t, "bob", "from bob")

	chooser := &fixedModel{content: "certainly not json"}
	sel, err := NewAISelector(chooser)
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}

	selection := &Selection{
		Agents:   []*agent.Agent{alice, bob},
		Metadata: map[string]any{},
	}
	name, err := sel.Select(context.Background(), selection)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "alice" {
		t.Fatalf("expected round-robin fallback to alice, got %s", name)
	}

	name, _ = sel.Select(context.Background(), selection)
	if name != "bob" {
		t.Fatalf("expected fallback to advance to bob, got %s", name)
	}

	history, _ := selection.Metadata["selection_history"].([]string)
	if len(history) != 2 {
		t.Fatalf("expected 2 recorded selections, got %v", history)
	}
}

func TestAISelectorRejectsUnknownAgent(t *testing.T) {
	alice := mustAgent(t, "alice", "from alice")
	bob := mustAgent(t, "bob", "from bob")

	chooser := &fixedModel{content: `{"next_agent":"mallory","confidence":1.0}`}
	sel, _ := NewAISelector(chooser)

	selection := &Selection{Agents: []*agent.Agent{alice, bob}}
	name, err := sel.Select(context.Background(), selection)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "alice" {
		t.Fatalf("expected fallback for unknown agent, got %s", name)
	}
}

func TestPlanSelectorRunsPlanToCompletion(t *testing.T) {
	alice := mustAgent(t, "alice", "research done")
	bob := mustAgent(t, "bob", "summary written")

	planner := &scriptedModel{contents: []string{
		`{"steps":[
			{"step_id":"s1","task":"research the topic","agent_name":"alice","reasoning":"alice researches"},
			{"step_id":"s2","task":"summarize findings","agent_name":"bob","reasoning":"bob writes"}
		]}`,
		`{"step_completed":true,"confidence":0.8,"suggested_improvements":[]}`,
		`{"step_completed":true,"confidence":0.9,"suggested_improvements":[]}`,
	}}
	sel, err := NewPlanSelector(planner)
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}

	o, err := New("planned", WithAgents(alice, bob), WithSelector(sel))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	resp, err := o.Run(context.Background(), "research then summarize")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.StopReason != StopTermination {
		t.Fatalf("expected plan completion stop, got %s (%v)", resp.StopReason, resp.Err)
	}

	var sources []string
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleAssistant {
			sources = append(sources, msg.Source)
		}
	}
	want := []string{"alice", "bob"}
	if len(sources) != 2 || sources[0] != want[0] || sources[1] != want[1] {
		t.Fatalf("expected turns %v, got %v", want, sources)
	}

	plan := sel.Plan()
	if len(plan) != 2 || plan[0].StepID != "s1" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanSelectorRetriesIncompleteStep(t *testing.T) {
	alice := mustAgent(t, "alice", "still researching")

	planner := &scriptedModel{contents: []string{
		`{"steps":[{"step_id":"s1","task":"research","agent_name":"alice","reasoning":"only agent"}]}`,
		`{"step_completed":false,"confidence":0.3,"suggested_improvements":["dig deeper"]}`,
		`{"step_completed":true,"confidence":0.8,"suggested_improvements":[]}`,
	}}
	sel, err := NewPlanSelector(planner, WithMaxStepRetries(1))
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}

	o, _ := New("retrying", WithAgents(alice), WithSelector(sel))
	resp, err := o.Run(context.Background(), "research")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.StopReason != StopTermination {
		t.Fatalf("expected plan completion, got %s", resp.StopReason)
	}

	turns := 0
	for _, msg := range resp.Messages {
		if msg.Role == schema.RoleAssistant {
			turns++
		}
	}
	if turns != 2 {
		t.Fatalf("expected the step to run twice, got %d turns", turns)
	}
}

func TestPlanSelectorRejectsUnknownAgentInPlan(t *testing.T) {
	alice := mustAgent(t, "alice", "hi")
	planner := &fixedModel{content: `{"steps":[{"step_id":"s1","task":"x","agent_name":"mallory"}]}`}
	sel, _ := NewPlanSelector(planner)

	selection := &Selection{Agents: []*agent.Agent{alice}}
	if _, err := sel.Select(context.Background(), selection); err == nil {
		t.Fatalf("expected error for unknown agent in plan")
	}
}
