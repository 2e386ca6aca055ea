package termination

import (
	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/schema"
)

func (c *MaxMessages) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "termination.max_messages",
		Version:  1,
		Config:   map[string]any{"n": c.n},
	}, nil
}

func (c *TextMention) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "termination.text_mention",
		Version:  1,
		Config: map[string]any{
			"text":           c.text,
			"case_sensitive": c.caseSensitive,
		},
	}, nil
}

func (c *AnyOf) DumpComponent() (component.Model, error) {
	return dumpComposite("termination.any", c.conditions)
}

func (c *AllOf) DumpComponent() (component.Model, error) {
	return dumpComposite("termination.all", c.conditions)
}

func dumpComposite(provider string, conditions []Condition) (component.Model, error) {
	children := make([]any, 0, len(conditions))
	for _, cond := range conditions {
		child, err := component.DumpNested(cond)
		if err != nil {
			return component.Model{}, err
		}
		children = append(children, child)
	}
	return component.Model{
		Provider: provider,
		Version:  1,
		Config:   map[string]any{"conditions": children},
	}, nil
}

func loadComposite(m component.Model) ([]Condition, error) {
	raw, ok := m.Config["conditions"].([]any)
	if !ok {
		return nil, schema.NewConfigError(m.Provider, "config missing conditions")
	}
	conditions := make([]Condition, 0, len(raw))
	for _, child := range raw {
		c, err := component.LoadNested(child)
		if err != nil {
			return nil, err
		}
		cond, ok := c.(Condition)
		if !ok {
			return nil, schema.NewConfigError(m.Provider, "nested component is not a termination condition")
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func init() {
	component.Register("termination.max_messages", func(m component.Model) (any, error) {
		n, _ := m.Config["n"].(float64)
		return NewMaxMessages(int(n)), nil
	})

	component.Register("termination.text_mention", func(m component.Model) (any, error) {
		text, _ := m.Config["text"].(string)
		c := NewTextMention(text)
		if cs, _ := m.Config["case_sensitive"].(bool); cs {
			c.CaseSensitive()
		}
		return c, nil
	})

	component.Register("termination.any", func(m component.Model) (any, error) {
		conditions, err := loadComposite(m)
		if err != nil {
			return nil, err
		}
		return Any(conditions...), nil
	})

	component.Register("termination.all", func(m component.Model) (any, error) {
		conditions, err := loadComposite(m)
		if err != nil {
			return nil, err
		}
		return All(conditions...), nil
	})
}
