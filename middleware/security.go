package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/loopkit/loopkit/schema"
)

var defaultBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
}

// Security aborts operations whose payload matches a blocked pattern.
// Model calls are checked against the latest user message, tool calls
// against their arguments.
type Security struct {
	NopMiddleware
	blocked []*regexp.Regexp
}

var _ Middleware = (*Security)(nil)

// NewSecurity creates a security filter with the default pattern set.
func NewSecurity(extra ...*regexp.Regexp) *Security {
	return &Security{blocked: append(append([]*regexp.Regexp{}, defaultBlockedPatterns...), extra...)}
}

func (s *Security) Name() string { return "security" }

func (s *Security) ProcessRequest(_ context.Context, mc *Context) error {
	switch mc.Operation {
	case OpModelCall:
		for i := len(mc.Messages) - 1; i >= 0; i-- {
			if mc.Messages[i].Role == schema.RoleUser {
				return s.check(mc.Messages[i].Content)
			}
		}
	case OpToolCall:
		if mc.ToolCall != nil {
			return s.check(string(mc.ToolCall.Args))
		}
	}
	return nil
}

func (s *Security) check(payload string) error {
	for _, re := range s.blocked {
		if re.MatchString(payload) {
			return fmt.Errorf("%w: payload matches blocked pattern %q", schema.ErrInvalidInput, re.String())
		}
	}
	return nil
}
