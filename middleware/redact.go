package middleware

import (
	"context"
	"regexp"

	"github.com/loopkit/loopkit/schema"
)

var defaultPIIPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`\+?\d[\d\s\-()]{8,}\d`),
	"credit_card": regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
}

// PIIRedaction masks personal data in outbound message content and
// tool arguments before they reach a provider or tool.
type PIIRedaction struct {
	NopMiddleware
	patterns    map[string]*regexp.Regexp
	replacement string
}

var _ Middleware = (*PIIRedaction)(nil)

// NewPIIRedaction creates a redaction middleware with the default
// pattern set (emails, phone numbers, card numbers, SSNs).
func NewPIIRedaction() *PIIRedaction {
	return &PIIRedaction{
		patterns:    defaultPIIPatterns,
		replacement: "[REDACTED]",
	}
}

// WithPattern adds or replaces a named pattern.
func (p *PIIRedaction) WithPattern(name string, re *regexp.Regexp) *PIIRedaction {
	patterns := make(map[string]*regexp.Regexp, len(p.patterns)+1)
	for k, v := range p.patterns {
		patterns[k] = v
	}
	patterns[name] = re
	p.patterns = patterns
	return p
}

func (p *PIIRedaction) Name() string { return "pii_redaction" }

func (p *PIIRedaction) ProcessRequest(_ context.Context, mc *Context) error {
	switch mc.Operation {
	case OpModelCall:
		redacted := make([]schema.Message, len(mc.Messages))
		copy(redacted, mc.Messages)
		for i := range redacted {
			redacted[i].Content = p.redact(redacted[i].Content)
		}
		mc.Messages = redacted
	case OpToolCall:
		if mc.ToolCall != nil {
			call := *mc.ToolCall
			call.Args = []byte(p.redact(string(call.Args)))
			mc.ToolCall = &call
		}
	}
	return nil
}

func (p *PIIRedaction) redact(s string) string {
	for _, re := range p.patterns {
		s = re.ReplaceAllString(s, p.replacement)
	}
	return s
}
