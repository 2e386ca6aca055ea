package checkpoint

import (
	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/schema"
)

// Memory and file stores round-trip through the component registry.
// A loaded memory store starts empty; a loaded file store sees
// whatever is on disk under its base directory. Redis and SQLite
// stores hold live connections and are not serializable.

func (s *MemoryStore) DumpComponent() (component.Model, error) {
	return component.Model{Provider: "checkpoint.memory", Version: 1}, nil
}

func (s *FileStore) DumpComponent() (component.Model, error) {
	return component.Model{
		Provider: "checkpoint.file",
		Version:  1,
		Config:   map[string]any{"base": s.base},
	}, nil
}

func init() {
	component.Register("checkpoint.memory", func(component.Model) (any, error) {
		return NewMemoryStore(), nil
	})
	component.Register("checkpoint.file", func(m component.Model) (any, error) {
		base, _ := m.Config["base"].(string)
		if base == "" {
			return nil, schema.NewConfigError("checkpoint.file", "config missing base")
		}
		return NewFileStore(base)
	})
}
