package eval

import (
	"github.com/loopkit/loopkit/component"
)

// Reference judges are pure configuration and round-trip through the
// component layer. Model-backed and composite judges hold live models
// or arbitrary members and stay runtime-only.

func (j *ExactMatch) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "eval.exact_match",
		Version:  1,
		Config:   map[string]any{"extraction": string(j.Extraction)},
	}, nil
}

func (j *Contains) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "eval.contains",
		Version:  1,
		Config:   map[string]any{"extraction": string(j.Extraction)},
	}, nil
}

func (j *FuzzyMatch) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "eval.fuzzy_match",
		Version:  1,
		Config: map[string]any{
			"extraction": string(j.Extraction),
			"threshold":  j.Threshold,
		},
	}, nil
}

func extractionFrom(m component.Model) Extraction {
	if v, ok := m.Config["extraction"].(string); ok && v != "" {
		return Extraction(v)
	}
	return ExtractLastAssistant
}

func init() {
	component.Register("eval.exact_match", func(m component.Model) (any, error) {
		return &ExactMatch{Extraction: extractionFrom(m)}, nil
	})
	component.Register("eval.contains", func(m component.Model) (any, error) {
		return &Contains{Extraction: extractionFrom(m)}, nil
	})
	component.Register("eval.fuzzy_match", func(m component.Model) (any, error) {
		threshold, _ := m.Config["threshold"].(float64)
		return &FuzzyMatch{Extraction: extractionFrom(m), Threshold: threshold}, nil
	})
}
