package middleware

import (
	"regexp"

	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/tokens"
)

// Config-backed middlewares round-trip through the component registry.
// Logging is excluded: it holds an opaque writer.

func (r *RateLimit) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "middleware.rate_limit",
		Version:  1,
		Config: map[string]any{
			"per_minute": r.perMinute,
			"block":      r.block,
		},
	}, nil
}

func (s *Security) DumpComponent() (component.Model, error) {
	patterns := make([]string, len(s.blocked))
	for i, re := range s.blocked {
		patterns[i] = re.String()
	}
	return component.Model{
		Provider: "middleware.security",
		Version:  1,
		Config:   map[string]any{"patterns": patterns},
	}, nil
}

func (p *PIIRedaction) DumpComponent() (component.Model, error) {
	patterns := make(map[string]any, len(p.patterns))
	for name, re := range p.patterns {
		patterns[name] = re.String()
	}
	return component.Model{
		Provider: "middleware.pii_redaction",
		Version:  1,
		Config: map[string]any{
			"patterns":    patterns,
			"replacement": p.replacement,
		},
	}, nil
}

func (c *ContextCompaction) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "middleware.context_compaction",
		Version:  1,
		Config: map[string]any{
			"budget":     c.budget,
			"keep_turns": c.keepTurns,
		},
	}, nil
}

func init() {
	component.Register("middleware.rate_limit", func(m component.Model) (any, error) {
		perMinute, _ := m.Config["per_minute"].(float64)
		block, _ := m.Config["block"].(bool)
		return NewRateLimit(int(perMinute), block), nil
	})

	component.Register("middleware.security", func(m component.Model) (any, error) {
		s := &Security{}
		if raw, ok := m.Config["patterns"].([]any); ok {
			for _, p := range raw {
				str, ok := p.(string)
				if !ok {
					continue
				}
				re, err := regexp.Compile(str)
				if err != nil {
					return nil, err
				}
				s.blocked = append(s.blocked, re)
			}
		}
		return s, nil
	})

	component.Register("middleware.pii_redaction", func(m component.Model) (any, error) {
		p := &PIIRedaction{
			patterns:    make(map[string]*regexp.Regexp),
			replacement: "[REDACTED]",
		}
		if v, ok := m.Config["replacement"].(string); ok && v != "" {
			p.replacement = v
		}
		if raw, ok := m.Config["patterns"].(map[string]any); ok {
			for name, pattern := range raw {
				str, ok := pattern.(string)
				if !ok {
					continue
				}
				re, err := regexp.Compile(str)
				if err != nil {
					return nil, err
				}
				p.patterns[name] = re
			}
		}
		return p, nil
	})

	component.Register("middleware.context_compaction", func(m component.Model) (any, error) {
		budget, _ := m.Config["budget"].(float64)
		keepTurns, _ := m.Config["keep_turns"].(float64)
		return NewContextCompaction(int(budget), int(keepTurns), tokens.NewEstimator("")), nil
	})
}
