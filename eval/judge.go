package eval

import (
	"context"
	"strings"

	"github.com/loopkit/loopkit/schema"
)

// MaxScore is the top of the scoring scale.
const MaxScore = 10.0

// Score is a judge's verdict on one trajectory, 0 to 10. Reasoning is
// keyed by the judge (or dimension) that produced each explanation, so
// composite verdicts stay attributable.
type Score struct {
	Value      float64            `json:"value"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	Reasoning  map[string]string  `json:"reasoning,omitempty"`
}

// Judge scores a trajectory against a case.
type Judge interface {
	Name() string
	Judge(ctx context.Context, c *Case, t *Trajectory) (*Score, error)
}

// Extraction names the answer-extraction strategy a reference judge
// applies to a trajectory before comparing.
type Extraction string

const (
	// ExtractLastContent takes the content of the final message,
	// whatever its role.
	ExtractLastContent Extraction = "last_content"
	// ExtractLastAssistant takes the content of the final assistant
	// message.
	ExtractLastAssistant Extraction = "last_assistant"
	// ExtractAllAssistant joins every assistant message with newlines.
	ExtractAllAssistant Extraction = "all_assistant"
	// ExtractLastNonEmpty takes the final message with non-empty
	// content.
	ExtractLastNonEmpty Extraction = "last_non_empty"
)

// Extract applies the strategy to a trajectory.
func Extract(t *Trajectory, strategy Extraction) string {
	msgs := t.Messages
	switch strategy {
	case ExtractLastAssistant:
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == schema.RoleAssistant {
				return msgs[i].Content
			}
		}
		return ""
	case ExtractAllAssistant:
		var parts []string
		for _, m := range msgs {
			if m.Role == schema.RoleAssistant && m.Content != "" {
				parts = append(parts, m.Content)
			}
		}
		return strings.Join(parts, "\n")
	case ExtractLastNonEmpty:
		for i := len(msgs) - 1; i >= 0; i-- {
			if strings.TrimSpace(msgs[i].Content) != "" {
				return msgs[i].Content
			}
		}
		return ""
	default:
		if len(msgs) == 0 {
			return ""
		}
		return msgs[len(msgs)-1].Content
	}
}

// ExactMatch scores 10 when the extracted answer equals the expected
// string after trimming, 0 otherwise.
type ExactMatch struct {
	Extraction Extraction
}

var _ Judge = (*ExactMatch)(nil)

// NewExactMatch creates an exact-match judge over the final assistant
// message.
func NewExactMatch() *ExactMatch {
	return &ExactMatch{Extraction: ExtractLastAssistant}
}

func (j *ExactMatch) Name() string { return "exact_match" }

func (j *ExactMatch) Judge(_ context.Context, c *Case, t *Trajectory) (*Score, error) {
	got := strings.TrimSpace(Extract(t, j.Extraction))
	want := strings.TrimSpace(c.Expected)
	if got == want {
		return &Score{Value: MaxScore, Reasoning: map[string]string{j.Name(): "answer matches expected exactly"}}, nil
	}
	return &Score{Value: 0, Reasoning: map[string]string{j.Name(): "answer differs from expected"}}, nil
}

// Contains scores 10 when the extracted answer contains the expected
// string, case-insensitively, 0 otherwise.
type Contains struct {
	Extraction Extraction
}

var _ Judge = (*Contains)(nil)

// NewContains creates a substring judge over the final assistant
// message.
func NewContains() *Contains {
	return &Contains{Extraction: ExtractLastAssistant}
}

func (j *Contains) Name() string { return "contains" }

func (j *Contains) Judge(_ context.Context, c *Case, t *Trajectory) (*Score, error) {
	got := strings.ToLower(Extract(t, j.Extraction))
	want := strings.ToLower(strings.TrimSpace(c.Expected))
	if want != "" && strings.Contains(got, want) {
		return &Score{Value: MaxScore, Reasoning: map[string]string{j.Name(): "answer contains expected"}}, nil
	}
	return &Score{Value: 0, Reasoning: map[string]string{j.Name(): "answer does not contain expected"}}, nil
}

// FuzzyMatch scores by normalized edit distance: identical strings get
// 10, entirely different strings get 0. A non-zero Threshold turns it
// into pass/fail: similarity below the threshold scores 0.
type FuzzyMatch struct {
	Extraction Extraction
	Threshold  float64
}

var _ Judge = (*FuzzyMatch)(nil)

// NewFuzzyMatch creates a fuzzy judge over the final assistant message.
// threshold is the minimum similarity (0..1) that earns a score; pass
// 0 to score proportionally.
func NewFuzzyMatch(threshold float64) *FuzzyMatch {
	return &FuzzyMatch{Extraction: ExtractLastAssistant, Threshold: threshold}
}

func (j *FuzzyMatch) Name() string { return "fuzzy_match" }

func (j *FuzzyMatch) Judge(_ context.Context, c *Case, t *Trajectory) (*Score, error) {
	got := strings.TrimSpace(Extract(t, j.Extraction))
	want := strings.TrimSpace(c.Expected)
	if got == "" && want == "" {
		return &Score{Value: MaxScore}, nil
	}
	longest := max(len([]rune(got)), len([]rune(want)))
	if longest == 0 {
		return &Score{Value: MaxScore}, nil
	}
	dist := levenshtein([]rune(got), []rune(want))
	similarity := 1 - float64(dist)/float64(longest)
	value := MaxScore * similarity
	if j.Threshold > 0 && similarity < j.Threshold {
		value = 0
	}
	return &Score{
		Value:      value,
		Dimensions: map[string]float64{"similarity": similarity},
	}, nil
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
