// Package component provides declarative serialization for framework
// components. A component that can describe itself as pure configuration
// implements Dumper; a package that can rebuild components from that
// configuration registers a LoaderFunc under its provider key.
package component

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loopkit/loopkit/schema"
)

// Model is the portable representation of a component: a provider key
// and a JSON-representable config. Nested components appear as nested
// Models inside Config.
type Model struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config,omitempty"`
	Version  int            `json:"version"`
}

// Dumper is implemented by components that can be serialized.
type Dumper interface {
	DumpComponent() (Model, error)
}

// LoaderFunc rebuilds a component from its Model.
type LoaderFunc func(Model) (any, error)

var (
	mu      sync.RWMutex
	loaders = make(map[string]LoaderFunc)
)

// Register binds a provider key to a loader. Re-registering a key
// replaces the previous loader.
func Register(provider string, fn LoaderFunc) {
	mu.Lock()
	defer mu.Unlock()
	loaders[provider] = fn
}

// Dump serializes a component. Components that hold opaque callables
// return schema.ErrNotSerializable.
func Dump(c any) (Model, error) {
	d, ok := c.(Dumper)
	if !ok {
		return Model{}, fmt.Errorf("%w: %T", schema.ErrNotSerializable, c)
	}
	return d.DumpComponent()
}

// Load rebuilds a component from its Model.
func Load(m Model) (any, error) {
	mu.RLock()
	fn, ok := loaders[m.Provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownProvider, m.Provider)
	}
	return fn(m)
}

// LoadAs rebuilds a component and asserts its type.
func LoadAs[T any](m Model) (T, error) {
	var zero T
	c, err := Load(m)
	if err != nil {
		return zero, err
	}
	t, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("component %q: loaded %T, want %T", m.Provider, c, zero)
	}
	return t, nil
}

// DumpNested serializes a nested component into a config value.
func DumpNested(c any) (map[string]any, error) {
	m, err := Dump(c)
	if err != nil {
		return nil, err
	}
	return modelToMap(m)
}

// LoadNested rebuilds a nested component from a config value produced
// by DumpNested.
func LoadNested(v any) (any, error) {
	m, err := ModelFromConfig(v)
	if err != nil {
		return nil, err
	}
	return Load(m)
}

// ModelFromConfig decodes a Model embedded in a config value.
func ModelFromConfig(v any) (Model, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Model{}, err
	}
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return Model{}, err
	}
	if m.Provider == "" {
		return Model{}, schema.NewConfigError("component", "nested config has no provider")
	}
	return m, nil
}

func modelToMap(m Model) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
