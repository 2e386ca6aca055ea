package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/schema"
)

// LLMJudge scores trajectories with a model against free-form criteria.
type LLMJudge struct {
	model      llm.ChatModel
	criteria   string
	extraction Extraction
}

var _ Judge = (*LLMJudge)(nil)

// NewLLMJudge creates a model-backed judge. Criteria describes what a
// good answer looks like.
func NewLLMJudge(model llm.ChatModel, criteria string) (*LLMJudge, error) {
	if model == nil {
		return nil, schema.NewConfigError("eval", "judge model is required")
	}
	if criteria == "" {
		criteria = "Correctness, completeness and clarity of the answer."
	}
	return &LLMJudge{model: model, criteria: criteria, extraction: ExtractAllAssistant}, nil
}

func (j *LLMJudge) Name() string { return "llm_judge" }

// judgeVerdict is the structured output the judge model returns.
type judgeVerdict struct {
	Score      float64            `json:"score"`
	Dimensions map[string]float64 `json:"dimensions"`
	Reasoning  string             `json:"reasoning"`
}

func (j *LLMJudge) Judge(ctx context.Context, c *Case, t *Trajectory) (*Score, error) {
	var sb strings.Builder
	sb.WriteString("Score the answer to a task from 0 to 10.\n\nCriteria: ")
	sb.WriteString(j.criteria)
	sb.WriteString("\n\nTask: ")
	sb.WriteString(c.Task)
	if c.Expected != "" {
		sb.WriteString("\n\nReference answer: ")
		sb.WriteString(c.Expected)
	}
	sb.WriteString("\n\nAnswer:\n")
	sb.WriteString(Extract(t, j.extraction))
	sb.WriteString("\n\nRespond: {\"score\": <0..10>, \"dimensions\": {\"<aspect>\": <0..10>}, \"reasoning\": \"<why>\"}")

	req := &llm.Request{
		Messages:       []schema.Message{schema.NewUserMessage(sb.String())},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	}
	resp, err := j.model.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(resp.Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("parse judge verdict: %w", err)
	}
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > MaxScore {
		verdict.Score = MaxScore
	}
	score := &Score{
		Value:      verdict.Score,
		Dimensions: verdict.Dimensions,
	}
	if verdict.Reasoning != "" {
		score.Reasoning = map[string]string{j.Name(): verdict.Reasoning}
	}
	return score, nil
}

// Composite combines judges into one weighted score. Each member's
// score lands in the Dimensions map under the judge's name.
type Composite struct {
	judges  []Judge
	weights []float64
}

var _ Judge = (*Composite)(nil)

// Weighted pairs a judge with its weight.
type Weighted struct {
	Judge  Judge
	Weight float64
}

// NewComposite creates a weighted composite judge. Weights must be
// positive.
func NewComposite(members ...Weighted) (*Composite, error) {
	if len(members) == 0 {
		return nil, schema.NewConfigError("eval", "composite judge needs at least one member")
	}
	c := &Composite{}
	for _, m := range members {
		if m.Judge == nil || m.Weight <= 0 {
			return nil, schema.NewConfigError("eval", "composite member needs a judge and a positive weight")
		}
		c.judges = append(c.judges, m.Judge)
		c.weights = append(c.weights, m.Weight)
	}
	return c, nil
}

func (c *Composite) Name() string { return "composite" }

func (c *Composite) Judge(ctx context.Context, cs *Case, t *Trajectory) (*Score, error) {
	var weighted, total float64
	dimensions := make(map[string]float64, len(c.judges))
	reasons := make(map[string]string)

	for i, j := range c.judges {
		s, err := j.Judge(ctx, cs, t)
		if err != nil {
			return nil, fmt.Errorf("judge %s: %w", j.Name(), err)
		}
		weighted += s.Value * c.weights[i]
		total += c.weights[i]
		dimensions[j.Name()] = s.Value
		for name, reason := range s.Reasoning {
			key := name
			if name != j.Name() {
				key = j.Name() + "." + name
			}
			reasons[key] = reason
		}
	}

	score := &Score{
		Value:      weighted / total,
		Dimensions: dimensions,
	}
	if len(reasons) > 0 {
		score.Reasoning = reasons
	}
	return score, nil
}
