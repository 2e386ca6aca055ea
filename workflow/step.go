// Package workflow executes typed step graphs: acyclic, edge-type
// checked, with fan-out/fan-in, shared state and checkpoint/resume.
package workflow

import (
	"context"
	"reflect"
)

// Step is one unit of work in a graph. InputType and OutputType drive
// edge compatibility checks at build time and output decoding on
// resume.
type Step interface {
	ID() string
	InputType() reflect.Type
	OutputType() reflect.Type
	Metadata() map[string]any
	Execute(ctx context.Context, input any, wc *Context) (any, error)
}

// TypedStep wraps a function as a Step with static in/out types.
type TypedStep[In, Out any] struct {
	id       string
	metadata map[string]any
	fn       func(ctx context.Context, input In, wc *Context) (Out, error)
}

// NewStep creates a typed step from a function.
func NewStep[In, Out any](id string, fn func(ctx context.Context, input In, wc *Context) (Out, error)) *TypedStep[In, Out] {
	return &TypedStep[In, Out]{id: id, fn: fn}
}

// WithMetadata attaches descriptive metadata.
func (s *TypedStep[In, Out]) WithMetadata(md map[string]any) *TypedStep[In, Out] {
	s.metadata = md
	return s
}

func (s *TypedStep[In, Out]) ID() string               { return s.id }
func (s *TypedStep[In, Out]) Metadata() map[string]any { return s.metadata }

func (s *TypedStep[In, Out]) InputType() reflect.Type {
	return reflect.TypeOf((*In)(nil)).Elem()
}

func (s *TypedStep[In, Out]) OutputType() reflect.Type {
	return reflect.TypeOf((*Out)(nil)).Elem()
}

func (s *TypedStep[In, Out]) Execute(ctx context.Context, input any, wc *Context) (any, error) {
	typed, err := coerceInput[In](input)
	if err != nil {
		return nil, err
	}
	return s.fn(ctx, typed, wc)
}
