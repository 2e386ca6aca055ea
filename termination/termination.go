// Package termination provides stop conditions for multi-agent runs.
package termination

import (
	"fmt"
	"strings"

	"github.com/loopkit/loopkit/schema"
)

// Condition decides whether a conversation should stop. Evaluate
// inspects the whole transcript and returns the stop reason when met.
type Condition interface {
	Evaluate(msgs []schema.Message) (bool, string)
}

// MaxMessages stops once the transcript reaches n messages.
type MaxMessages struct {
	n int
}

var _ Condition = (*MaxMessages)(nil)

func NewMaxMessages(n int) *MaxMessages { return &MaxMessages{n: n} }

func (c *MaxMessages) Evaluate(msgs []schema.Message) (bool, string) {
	if len(msgs) >= c.n {
		return true, fmt.Sprintf("message limit reached (%d)", c.n)
	}
	return false, ""
}

// TextMention stops when an assistant message in the latest turn
// contains the marker text. The scan walks backwards and stops at the
// preceding user message, so a mention in an earlier turn is
// superseded by the turns after it. Matching is case-insensitive
// unless configured otherwise.
type TextMention struct {
	text          string
	caseSensitive bool
}

var _ Condition = (*TextMention)(nil)

func NewTextMention(text string) *TextMention { return &TextMention{text: text} }

// CaseSensitive makes matching exact-case.
func (c *TextMention) CaseSensitive() *TextMention {
	c.caseSensitive = true
	return c
}

func (c *TextMention) Evaluate(msgs []schema.Message) (bool, string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.RoleUser {
			return false, ""
		}
		if msgs[i].Role != schema.RoleAssistant {
			continue
		}
		content, marker := msgs[i].Content, c.text
		if !c.caseSensitive {
			content, marker = strings.ToLower(content), strings.ToLower(marker)
		}
		if strings.Contains(content, marker) {
			return true, fmt.Sprintf("text mention %q", c.text)
		}
	}
	return false, ""
}

// AnyOf stops when any child condition is met.
type AnyOf struct {
	conditions []Condition
}

var _ Condition = (*AnyOf)(nil)

func Any(conditions ...Condition) *AnyOf { return &AnyOf{conditions: conditions} }

func (c *AnyOf) Evaluate(msgs []schema.Message) (bool, string) {
	for _, cond := range c.conditions {
		if done, reason := cond.Evaluate(msgs); done {
			return true, reason
		}
	}
	return false, ""
}

// AllOf stops only when every child condition is met.
type AllOf struct {
	conditions []Condition
}

var _ Condition = (*AllOf)(nil)

func All(conditions ...Condition) *AllOf { return &AllOf{conditions: conditions} }

func (c *AllOf) Evaluate(msgs []schema.Message) (bool, string) {
	var reasons []string
	for _, cond := range c.conditions {
		done, reason := cond.Evaluate(msgs)
		if !done {
			return false, ""
		}
		reasons = append(reasons, reason)
	}
	return true, strings.Join(reasons, "; ")
}

// Or combines two conditions into AnyOf.
func Or(a, b Condition) *AnyOf { return Any(a, b) }

// And combines two conditions into AllOf.
func And(a, b Condition) *AllOf { return All(a, b) }
