package builtin

import (
	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/schema"
)

// The builtins carry no opaque state, so they round-trip through the
// component registry.

func (c *Calculator) DumpComponent() (component.Model, error) {
	return component.Model{Provider: "tools.calculator", Version: 1}, nil
}

func (d *DateTime) DumpComponent() (component.Model, error) {
	return component.Model{Provider: "tools.datetime", Version: 1}, nil
}

func (t *Fetch) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "tools.fetch",
		Version:  1,
		Config: map[string]any{
			"max_body_size": t.maxBodySize,
			"approval":      string(t.approval),
		},
	}, nil
}

func init() {
	component.Register("tools.calculator", func(component.Model) (any, error) {
		return NewCalculator(), nil
	})
	component.Register("tools.datetime", func(component.Model) (any, error) {
		return NewDateTime(), nil
	})
	component.Register("tools.fetch", func(m component.Model) (any, error) {
		var size int64
		if v, ok := m.Config["max_body_size"].(float64); ok {
			size = int64(v)
		}
		f := NewFetch(size)
		if v, ok := m.Config["approval"].(string); ok && v != "" {
			f.approval = schema.ApprovalMode(v)
		}
		return f, nil
	})
}
