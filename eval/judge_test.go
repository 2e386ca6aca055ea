package eval

import (
	"context"
	"testing"

	"github.com/loopkit/loopkit/schema"
)

func trajectoryWith(contents ...string) *Trajectory {
	t := &Trajectory{Task: "task"}
	for i, c := range contents {
		if i%2 == 0 {
			t.Messages = append(t.Messages, schema.NewUserMessage(c))
		} else {
			t.Messages = append(t.Messages, schema.NewAssistantMessage(c))
		}
	}
	return t
}

func TestExtractStrategies(t *testing.T) {
	traj := &Trajectory{Messages: []schema.Message{
		schema.NewUserMessage("question"),
		schema.NewAssistantMessage("partial"),
		schema.NewAssistantMessage("final answer"),
		schema.NewToolMessage("c1", "", true),
	}}

	if got := Extract(traj, ExtractLastContent); got != "" {
		t.Fatalf("last_content should take the empty tool message, got %q", got)
	}
	if got := Extract(traj, ExtractLastAssistant); got != "final answer" {
		t.Fatalf("last_assistant = %q", got)
	}
	if got := Extract(traj, ExtractAllAssistant); got != "partial\nfinal answer" {
		t.Fatalf("all_assistant = %q", got)
	}
	if got := Extract(traj, ExtractLastNonEmpty); got != "final answer" {
		t.Fatalf("last_non_empty = %q", got)
	}
}

func TestExactMatch(t *testing.T) {
	j := NewExactMatch()
	c := &Case{Task: "q", Expected: "42"}

	s, err := j.Judge(context.Background(), c, trajectoryWith("q", "  42  "))
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if s.Value != MaxScore {
		t.Fatalf("trimmed exact match should score %v, got %v", MaxScore, s.Value)
	}

	s, _ = j.Judge(context.Background(), c, trajectoryWith("q", "43"))
	if s.Value != 0 {
		t.Fatalf("mismatch should score 0, got %v", s.Value)
	}
}

func TestContains(t *testing.T) {
	j := NewContains()
	c := &Case{Task: "q", Expected: "Paris"}

	s, _ := j.Judge(context.Background(), c, trajectoryWith("q", "The capital is paris, of course."))
	if s.Value != MaxScore {
		t.Fatalf("case-insensitive contains should score %v, got %v", MaxScore, s.Value)
	}

	s, _ = j.Judge(context.Background(), c, trajectoryWith("q", "The capital is Lyon."))
	if s.Value != 0 {
		t.Fatalf("missing substring should score 0, got %v", s.Value)
	}
}

func TestFuzzyMatch(t *testing.T) {
	j := NewFuzzyMatch(0)

	s, err := j.Judge(context.Background(), &Case{Expected: "hello"}, trajectoryWith("q", "hello"))
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if s.Value != MaxScore {
		t.Fatalf("identical strings should score %v, got %v", MaxScore, s.Value)
	}

	s, _ = j.Judge(context.Background(), &Case{Expected: "hello"}, trajectoryWith("q", "hallo"))
	if s.Value <= 0 || s.Value >= MaxScore {
		t.Fatalf("near match should score between 0 and %v, got %v", MaxScore, s.Value)
	}

	far, _ := j.Judge(context.Background(), &Case{Expected: "hello"}, trajectoryWith("q", "zzzzz"))
	if far.Value >= s.Value {
		t.Fatalf("farther string should score lower: %v >= %v", far.Value, s.Value)
	}
}

func TestFuzzyMatchThreshold(t *testing.T) {
	j := NewFuzzyMatch(0.9)

	s, err := j.Judge(context.Background(), &Case{Expected: "hello"}, trajectoryWith("q", "hallo"))
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if s.Value != 0 {
		t.Fatalf("similarity below threshold should score 0, got %v", s.Value)
	}
	if s.Dimensions["similarity"] <= 0 {
		t.Fatalf("similarity dimension should still be reported")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
	}
	for _, c := range cases {
		if got := levenshtein([]rune(c.a), []rune(c.b)); got != c.want {
			t.Fatalf("levenshtein(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompositeWeights(t *testing.T) {
	exact := NewExactMatch()
	contains := NewContains()
	j, err := NewComposite(
		Weighted{Judge: exact, Weight: 3},
		Weighted{Judge: contains, Weight: 1},
	)
	if err != nil {
		t.Fatalf("new composite: %v", err)
	}

	// contains hits, exact misses: (0*3 + 10*1) / 4 = 2.5
	c := &Case{Expected: "Paris"}
	s, err := j.Judge(context.Background(), c, trajectoryWith("q", "It is Paris indeed"))
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if s.Value != 2.5 {
		t.Fatalf("expected weighted 2.5, got %v", s.Value)
	}
	if s.Dimensions["exact_match"] != 0 || s.Dimensions["contains"] != MaxScore {
		t.Fatalf("unexpected dimensions: %v", s.Dimensions)
	}
	// reasoning stays attributable per member judge
	if s.Reasoning["exact_match"] == "" || s.Reasoning["contains"] == "" {
		t.Fatalf("expected per-judge reasoning entries, got %v", s.Reasoning)
	}
}

func TestCompositeRejectsBadMembers(t *testing.T) {
	if _, err := NewComposite(); err == nil {
		t.Fatalf("expected error for empty composite")
	}
	if _, err := NewComposite(Weighted{Judge: NewExactMatch(), Weight: 0}); err == nil {
		t.Fatalf("expected error for zero weight")
	}
}
