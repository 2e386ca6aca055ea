package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
)

// aiChoice is the structured output for model-driven speaker selection.
type aiChoice struct {
	NextAgent  string  `json:"next_agent"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// AISelector asks a model to pick the next speaker from the recent
// transcript. Invalid or failed selections fall back to round-robin.
type AISelector struct {
	model    llm.ChatModel
	fallback *RoundRobin

	mu          sync.Mutex
	history     []string
	confidences []float64
}

var _ Selector = (*AISelector)(nil)

// NewAISelector creates a selector driven by the given model.
func NewAISelector(model llm.ChatModel) (*AISelector, error) {
	if model == nil {
		return nil, schema.NewConfigError("ai_selector", "model is required")
	}
	return &AISelector{model: model, fallback: NewRoundRobin()}, nil
}

// Select asks the model for {next_agent, confidence, rationale} and
// records selection statistics in the orchestration metadata.
func (s *AISelector) Select(ctx context.Context, sel *Selection) (string, error) {
	if len(sel.Agents) == 0 {
		return "", schema.ErrAgentNotFound
	}
	if len(sel.Agents) == 1 {
		return s.record(sel, sel.Agents[0].Name(), 1.0), nil
	}

	name, confidence, err := s.selectViaModel(ctx, sel)
	if err != nil || !knownAgent(sel, name) {
		fb, fbErr := s.fallback.Select(ctx, sel)
		if fbErr != nil {
			return "", fbErr
		}
		return s.record(sel, fb, 0), nil
	}
	return s.record(sel, name, confidence), nil
}

func knownAgent(sel *Selection, name string) bool {
	for _, ag := range sel.Agents {
		if ag.Name() == name {
			return true
		}
	}
	return false
}

func (s *AISelector) selectViaModel(ctx context.Context, sel *Selection) (string, float64, error) {
	req := &llm.Request{
		Messages:       []schema.Message{schema.NewUserMessage(s.buildPrompt(sel))},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	}
	resp, err := s.model.Generate(ctx, req)
	if err != nil {
		return "", 0, err
	}

	var choice aiChoice
	if err := json.Unmarshal([]byte(resp.Message.Content), &choice); err != nil {
		return "", 0, err
	}
	if choice.NextAgent == "" {
		return "", 0, fmt.Errorf("empty next_agent in response")
	}
	return choice.NextAgent, choice.Confidence, nil
}

func (s *AISelector) buildPrompt(sel *Selection) string {
	var sb strings.Builder
	sb.WriteString("Select the agent best suited to speak next.\n\nAgents:\n")

	names := make([]string, 0, len(sel.Agents))
	descs := make(map[string]string, len(sel.Agents))
	for _, ag := range sel.Agents {
		names = append(names, ag.Name())
		desc := ag.Description()
		if desc == "" {
			desc = ag.Name()
		}
		descs[ag.Name()] = desc
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", name, descs[name]))
	}

	sb.WriteString("\nTask: ")
	sb.WriteString(sel.Task)
	sb.WriteString("\n\nRecent conversation:\n")
	recent := sel.Messages
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	for _, msg := range recent {
		speaker := msg.Source
		if speaker == "" {
			speaker = string(msg.Role)
		}
		content := msg.Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", speaker, content))
	}
	if sel.LastSpeaker != "" {
		sb.WriteString("\nPrevious speaker: " + sel.LastSpeaker + "\n")
	}

	sb.WriteString("\nRespond: {\"next_agent\": \"<name>\", \"confidence\": <0..1>, \"rationale\": \"<why>\"}")
	return sb.String()
}

// record appends the pick to the selection history and refreshes the
// stats exposed through the orchestration metadata.
func (s *AISelector) record(sel *Selection, name string, confidence float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, name)
	s.confidences = append(s.confidences, confidence)

	if sel.Metadata != nil {
		unique := make(map[string]struct{}, len(s.history))
		var sum float64
		for _, h := range s.history {
			unique[h] = struct{}{}
		}
		for _, c := range s.confidences {
			sum += c
		}
		sel.Metadata["selection_history"] = append([]string(nil), s.history...)
		sel.Metadata["selection_diversity"] = float64(len(unique)) / float64(len(s.history))
		sel.Metadata["mean_confidence"] = sum / float64(len(s.confidences))
	}
	return name
}
