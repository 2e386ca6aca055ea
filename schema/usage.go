package schema

import "time"

// Usage accumulates resource counters for a run.
// Counters only grow; Add merges another usage into this one.
type Usage struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	LLMCalls     int           `json:"llm_calls"`
	ToolCalls    int           `json:"tool_calls"`
	Duration     time.Duration `json:"duration"`
	Cost         float64       `json:"cost"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// Add merges other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.LLMCalls += other.LLMCalls
	u.ToolCalls += other.ToolCalls
	u.Duration += other.Duration
	u.Cost += other.Cost
}
