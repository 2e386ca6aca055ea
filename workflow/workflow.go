package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/loopkit/loopkit/schema"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()
var anySliceType = reflect.TypeOf([]any(nil))

// Workflow is a directed acyclic graph of typed steps. Build it with
// AddStep/AddEdge or Chain, then Validate before running.
type Workflow struct {
	name  string
	id    string
	steps map[string]Step
	order []string
	// succs and preds keep declaration order; fan-in input order
	// follows preds.
	succs map[string][]string
	preds map[string][]string
}

// New creates an empty workflow.
func New(name string) *Workflow {
	return &Workflow{
		name:  name,
		id:    name + "-" + uuid.NewString()[:8],
		steps: make(map[string]Step),
		succs: make(map[string][]string),
		preds: make(map[string][]string),
	}
}

// WithID overrides the generated workflow id. Checkpoints key on it,
// so resuming requires a stable id.
func (w *Workflow) WithID(id string) *Workflow {
	w.id = id
	return w
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Step returns the step by id.
func (w *Workflow) Step(id string) (Step, bool) {
	s, ok := w.steps[id]
	return s, ok
}

// AddStep registers a step. Duplicate ids are rejected.
func (w *Workflow) AddStep(s Step) error {
	if s == nil || s.ID() == "" {
		return schema.NewConfigError("workflow", "step is nil or has empty id")
	}
	if _, exists := w.steps[s.ID()]; exists {
		return schema.NewConfigError("workflow", fmt.Sprintf("duplicate step id %q", s.ID()))
	}
	w.steps[s.ID()] = s
	w.order = append(w.order, s.ID())
	return nil
}

// AddEdge connects from's output to to's input. Output and input
// types must be assignable; a fan-in target must accept []any (or
// any) since predecessor outputs arrive as a slice.
func (w *Workflow) AddEdge(from, to string) error {
	src, ok := w.steps[from]
	if !ok {
		return schema.NewConfigError("workflow", fmt.Sprintf("edge source %q not found", from))
	}
	dst, ok := w.steps[to]
	if !ok {
		return schema.NewConfigError("workflow", fmt.Sprintf("edge target %q not found", to))
	}
	for _, existing := range w.succs[from] {
		if existing == to {
			return schema.NewConfigError("workflow", fmt.Sprintf("duplicate edge %s -> %s", from, to))
		}
	}

	// check before recording: a rejected edge must leave the graph
	// (and its StructureHash) untouched
	if err := w.checkEdgeTypes(src, dst); err != nil {
		return err
	}

	w.succs[from] = append(w.succs[from], to)
	w.preds[to] = append(w.preds[to], from)
	return nil
}

// checkEdgeTypes validates the edge about to be added, so the
// prospective predecessor count is the recorded count plus one.
func (w *Workflow) checkEdgeTypes(src, dst Step) error {
	in := dst.InputType()
	if in == anyType {
		return nil
	}
	if in == anySliceType {
		// fan-in target: inputs arrive as []any in declared
		// predecessor order
		return nil
	}
	if len(w.preds[dst.ID()])+1 > 1 {
		return schema.NewConfigError("workflow",
			fmt.Sprintf("step %q has multiple predecessors and must accept []any, has %s", dst.ID(), in))
	}
	out := src.OutputType()
	if out.AssignableTo(in) {
		return nil
	}
	return schema.NewConfigError("workflow",
		fmt.Sprintf("edge %s -> %s: output %s not assignable to input %s", src.ID(), dst.ID(), out, in))
}

// Chain adds steps and connects them linearly.
func (w *Workflow) Chain(steps ...Step) error {
	for _, s := range steps {
		if err := w.AddStep(s); err != nil {
			return err
		}
	}
	for i := 1; i < len(steps); i++ {
		if err := w.AddEdge(steps[i-1].ID(), steps[i].ID()); err != nil {
			return err
		}
	}
	return nil
}

// Roots returns step ids with no predecessors, in declaration order.
func (w *Workflow) Roots() []string {
	var out []string
	for _, id := range w.order {
		if len(w.preds[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Terminals returns step ids with no successors, in declaration order.
func (w *Workflow) Terminals() []string {
	var out []string
	for _, id := range w.order {
		if len(w.succs[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks the graph: at least one step, at least one root and
// terminal, and no cycles.
func (w *Workflow) Validate() error {
	if len(w.steps) == 0 {
		return schema.NewConfigError("workflow", "no steps")
	}
	if len(w.Roots()) == 0 {
		return schema.NewWorkflowError(w.name, "validate", schema.ErrWorkflowNoRoot)
	}

	// Kahn's algorithm; leftover nodes mean a cycle.
	indegree := make(map[string]int, len(w.steps))
	for _, id := range w.order {
		indegree[id] = len(w.preds[id])
	}
	queue := w.Roots()
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range w.succs[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if visited != len(w.steps) {
		return schema.NewWorkflowError(w.name, "validate", schema.ErrWorkflowCyclic)
	}
	return nil
}

// StructureHash fingerprints the step ids and edges. A checkpoint
// resumes only into a workflow with the same hash.
func (w *Workflow) StructureHash() string {
	var lines []string
	for id := range w.steps {
		lines = append(lines, "step:"+id)
	}
	for from, tos := range w.succs {
		for _, to := range tos {
			lines = append(lines, "edge:"+from+"->"+to)
		}
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// coerceInput converts a scheduled input value to the step's static
// type. Raw JSON recorded by a checkpoint decodes here.
func coerceInput[In any](input any) (In, error) {
	var zero In
	if input == nil {
		return zero, nil
	}
	if typed, ok := input.(In); ok {
		return typed, nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		var decoded In
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return zero, fmt.Errorf("decode step input: %w", err)
		}
		return decoded, nil
	}
	return zero, fmt.Errorf("step input is %T, want %s", input, reflect.TypeOf((*In)(nil)).Elem())
}
