package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Context is the shared key/value state visible to every step of one
// execution. Writes to the same key serialize; Update gives a step a
// read-modify-write without races against concurrent writers.
type Context struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	values map[string]any
}

// NewContext creates empty shared state.
func NewContext() *Context {
	return &Context{
		locks:  make(map[string]*sync.Mutex),
		values: make(map[string]any),
	}
}

func (c *Context) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key.
func (c *Context) Set(key string, value any) {
	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Update applies fn to the current value of key and stores the result
// atomically with respect to other writers of the same key.
func (c *Context) Update(key string, fn func(old any, exists bool) any) {
	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()
	c.mu.Lock()
	old, ok := c.values[key]
	c.mu.Unlock()
	next := fn(old, ok)
	c.mu.Lock()
	c.values[key] = next
	c.mu.Unlock()
}

// Keys returns the stored key set.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	return out
}

// Snapshot serializes every value to JSON for checkpointing. Values
// that do not marshal fail the snapshot.
func (c *Context) Snapshot() (map[string]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.values))
	for k, v := range c.values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("snapshot key %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Restore replaces the state with a snapshot. Values come back as raw
// JSON; typed readers decode through Key.Get.
func (c *Context) Restore(snapshot map[string]json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]any, len(snapshot))
	for k, raw := range snapshot {
		c.values[k] = json.RawMessage(append([]byte(nil), raw...))
	}
}

// Key is a typed handle into the shared state.
type Key[T any] struct {
	Name string
}

// NewKey creates a typed key.
func NewKey[T any](name string) Key[T] { return Key[T]{Name: name} }

// Get reads and type-asserts the value. Raw JSON left by a checkpoint
// restore is decoded into T transparently.
func (k Key[T]) Get(wc *Context) (T, bool) {
	var zero T
	v, ok := wc.Get(k.Name)
	if !ok {
		return zero, false
	}
	if typed, ok := v.(T); ok {
		return typed, true
	}
	if raw, ok := v.(json.RawMessage); ok {
		var decoded T
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded, true
		}
	}
	return zero, false
}

// Set stores the value.
func (k Key[T]) Set(wc *Context, value T) { wc.Set(k.Name, value) }

// Update applies fn atomically. Missing or undecodable values start
// from the zero value.
func (k Key[T]) Update(wc *Context, fn func(old T) T) {
	wc.Update(k.Name, func(old any, exists bool) any {
		var typed T
		if exists {
			if t, ok := old.(T); ok {
				typed = t
			} else if raw, ok := old.(json.RawMessage); ok {
				_ = json.Unmarshal(raw, &typed)
			}
		}
		return fn(typed)
	})
}
