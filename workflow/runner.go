package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/loopkit/loopkit/checkpoint"
	"github.com/loopkit/loopkit/schema"
)

const eventBufferSize = 128

// CheckpointConfig controls automatic checkpointing.
type CheckpointConfig struct {
	Store             checkpoint.Store
	AutoSave          bool
	SaveIntervalSteps int
	AutoCleanup       bool
	KeepLastN         int
}

// Runner executes a workflow with bounded step concurrency.
type Runner struct {
	wf          *Workflow
	concurrency int64
	ckpt        *CheckpointConfig
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds parallel step execution. Zero means
// unbounded (every ready step runs).
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = int64(n)
		}
	}
}

// WithCheckpointConfig enables checkpointing.
func WithCheckpointConfig(cfg CheckpointConfig) RunnerOption {
	return func(r *Runner) {
		if cfg.SaveIntervalSteps <= 0 {
			cfg.SaveIntervalSteps = 1
		}
		r.ckpt = &cfg
	}
}

// NewRunner creates a runner after validating the workflow.
func NewRunner(wf *Workflow, opts ...RunnerOption) (*Runner, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{wf: wf}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes to completion and returns terminal outputs.
func (r *Runner) Run(ctx context.Context, input any) (*Result, error) {
	return collect(ctx, r.RunStream(ctx, input))
}

// RunStream executes in a goroutine and returns the event channel.
func (r *Runner) RunStream(ctx context.Context, input any) <-chan Event {
	ch := make(chan Event, eventBufferSize)
	go r.execute(ctx, newExecState(r.wf, input), ch, false)
	return ch
}

// Resume loads the latest checkpoint and continues the run. A
// checkpoint recorded for a structurally different workflow is
// refused with schema.ErrResumeRefused.
func (r *Runner) Resume(ctx context.Context) (*Result, error) {
	return collect(ctx, r.ResumeStream(ctx))
}

// ResumeStream is the streaming form of Resume.
func (r *Runner) ResumeStream(ctx context.Context) <-chan Event {
	ch := make(chan Event, eventBufferSize)
	go func() {
		state, err := r.loadResumeState(ctx)
		if err != nil {
			r.emitEvent(ctx, ch, Event{Type: EventWorkflowFailed, WorkflowID: r.wf.id, Err: err})
			close(ch)
			return
		}
		r.execute(ctx, state, ch, true)
	}()
	return ch
}

func collect(ctx context.Context, events <-chan Event) (*Result, error) {
	var result *Result
	var failure error
	for ev := range events {
		switch ev.Type {
		case EventWorkflowCompleted:
			result = ev.Result
		case EventWorkflowFailed:
			failure = ev.Err
		}
	}
	if failure != nil {
		return nil, failure
	}
	if result == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run ended without a result")
	}
	return result, nil
}

// execState tracks one execution's progress.
type execState struct {
	wc        *Context
	input     any
	outputs   map[string]any
	completed map[string]bool
	indegree  map[string]int
}

func newExecState(wf *Workflow, input any) *execState {
	st := &execState{
		wc:        NewContext(),
		input:     input,
		outputs:   make(map[string]any),
		completed: make(map[string]bool),
		indegree:  make(map[string]int, len(wf.steps)),
	}
	for _, id := range wf.order {
		st.indegree[id] = len(wf.preds[id])
	}
	return st
}

func (r *Runner) loadResumeState(ctx context.Context) (*execState, error) {
	if r.ckpt == nil || r.ckpt.Store == nil {
		return nil, schema.NewConfigError("workflow.runner", "resume requires a checkpoint store")
	}
	cp, err := r.ckpt.Store.LoadLatest(ctx, r.wf.id)
	if err != nil {
		return nil, err
	}
	if cp.StructureHash != r.wf.StructureHash() {
		return nil, schema.NewWorkflowError(r.wf.name, "resume", schema.ErrResumeRefused)
	}

	st := newExecState(r.wf, nil)
	st.wc.Restore(cp.SharedState)
	if raw, ok := cp.Metadata["input"]; ok {
		if rawStr, ok := raw.(string); ok {
			st.input = json.RawMessage(rawStr)
		}
	}
	for _, id := range cp.CompletedStepIDs {
		step, ok := r.wf.steps[id]
		if !ok {
			return nil, schema.NewWorkflowError(r.wf.name, "resume", schema.ErrResumeRefused)
		}
		output, err := decodeValue(step.OutputType(), cp.StepOutputs[id])
		if err != nil {
			return nil, fmt.Errorf("decode output of step %q: %w", id, err)
		}
		st.outputs[id] = output
		st.completed[id] = true
	}
	for _, id := range r.wf.order {
		remaining := 0
		for _, pred := range r.wf.preds[id] {
			if !st.completed[pred] {
				remaining++
			}
		}
		st.indegree[id] = remaining
	}
	return st, nil
}

func (r *Runner) execute(ctx context.Context, st *execState, ch chan<- Event, resumed bool) {
	defer close(ch)
	start := time.Now()

	startEvent := EventWorkflowStarted
	if resumed {
		startEvent = EventWorkflowResumed
	}
	r.emitEvent(ctx, ch, Event{Type: startEvent, WorkflowID: r.wf.id})

	type stepDone struct {
		id     string
		output any
		err    error
	}
	done := make(chan stepDone)

	var sem *semaphore.Weighted
	if r.concurrency > 0 {
		sem = semaphore.NewWeighted(r.concurrency)
	}

	var mu sync.Mutex // guards st during concurrent completions
	running := 0

	launch := func(id string) {
		step := r.wf.steps[id]
		input := r.stepInput(st, id)
		running++
		r.emitEvent(ctx, ch, Event{Type: EventStepStarted, WorkflowID: r.wf.id, StepID: id})
		go func() {
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					done <- stepDone{id: id, err: err}
					return
				}
				defer sem.Release(1)
			}
			output, err := step.Execute(ctx, input, st.wc)
			done <- stepDone{id: id, output: output, err: err}
		}()
	}

	// seed the frontier
	for _, id := range r.wf.order {
		if !st.completed[id] && st.indegree[id] == 0 {
			launch(id)
		}
	}
	if running == 0 {
		r.finish(ctx, st, ch, start)
		return
	}

	sinceSave := 0
	for running > 0 {
		select {
		case <-ctx.Done():
			// drain in-flight steps, then stop
			for running > 0 {
				<-done
				running--
			}
			r.saveCheckpoint(context.WithoutCancel(ctx), st, ch)
			r.emitEvent(ctx, ch, Event{Type: EventWorkflowFailed, WorkflowID: r.wf.id, Err: ctx.Err()})
			return

		case d := <-done:
			running--
			if d.err != nil {
				for running > 0 {
					<-done
					running--
				}
				r.saveCheckpoint(context.WithoutCancel(ctx), st, ch)
				err := schema.NewWorkflowError(r.wf.name, fmt.Sprintf("step %s", d.id), d.err)
				r.emitEvent(ctx, ch, Event{Type: EventWorkflowFailed, WorkflowID: r.wf.id, StepID: d.id, Err: err})
				return
			}

			mu.Lock()
			st.outputs[d.id] = d.output
			st.completed[d.id] = true
			mu.Unlock()
			r.emitEvent(ctx, ch, Event{Type: EventStepCompleted, WorkflowID: r.wf.id, StepID: d.id, Output: d.output})

			sinceSave++
			if r.ckpt != nil && r.ckpt.AutoSave && sinceSave >= r.ckpt.SaveIntervalSteps {
				r.saveCheckpoint(ctx, st, ch)
				sinceSave = 0
			}

			for _, succ := range r.wf.succs[d.id] {
				st.indegree[succ]--
				if st.indegree[succ] == 0 && !st.completed[succ] {
					launch(succ)
				}
			}
		}
	}

	if r.ckpt != nil && r.ckpt.AutoSave && sinceSave > 0 {
		r.saveCheckpoint(ctx, st, ch)
	}
	r.finish(ctx, st, ch, start)
}

func (r *Runner) finish(ctx context.Context, st *execState, ch chan<- Event, start time.Time) {
	outputs := make(map[string]any)
	for _, id := range r.wf.Terminals() {
		outputs[id] = st.outputs[id]
	}
	result := &Result{
		WorkflowID: r.wf.id,
		Outputs:    outputs,
		Duration:   time.Since(start),
	}
	r.emitEvent(ctx, ch, Event{Type: EventWorkflowCompleted, WorkflowID: r.wf.id, Result: result})
}

// stepInput composes a step's input: the workflow input for roots,
// the predecessor's output for single-pred steps, and a []any in
// declared predecessor order for fan-in.
func (r *Runner) stepInput(st *execState, id string) any {
	preds := r.wf.preds[id]
	switch len(preds) {
	case 0:
		return st.input
	case 1:
		if r.wf.steps[id].InputType() == anySliceType {
			// a []any input always receives a slice, even with a
			// single predecessor wired so far
			return []any{st.outputs[preds[0]]}
		}
		return st.outputs[preds[0]]
	default:
		inputs := make([]any, len(preds))
		for i, pred := range preds {
			inputs[i] = st.outputs[pred]
		}
		return inputs
	}
}

func (r *Runner) saveCheckpoint(ctx context.Context, st *execState, ch chan<- Event) {
	if r.ckpt == nil || r.ckpt.Store == nil {
		return
	}

	cp := checkpoint.New(r.wf.id, r.wf.StructureHash())
	shared, err := st.wc.Snapshot()
	if err != nil {
		r.emitEvent(ctx, ch, Event{Type: EventWorkflowFailed, WorkflowID: r.wf.id, Err: err})
		return
	}
	cp.SharedState = shared

	for _, id := range r.wf.order {
		if st.completed[id] {
			raw, err := json.Marshal(st.outputs[id])
			if err != nil {
				r.emitEvent(ctx, ch, Event{Type: EventWorkflowFailed, WorkflowID: r.wf.id, Err: fmt.Errorf("marshal output of step %q: %w", id, err)})
				return
			}
			cp.CompletedStepIDs = append(cp.CompletedStepIDs, id)
			cp.StepOutputs[id] = raw
		} else {
			cp.PendingStepIDs = append(cp.PendingStepIDs, id)
		}
	}
	sort.Strings(cp.CompletedStepIDs)
	sort.Strings(cp.PendingStepIDs)

	if raw, err := json.Marshal(st.input); err == nil {
		cp.Metadata = map[string]any{"input": string(raw)}
	}

	if err := r.ckpt.Store.Save(ctx, cp); err != nil {
		r.emitEvent(ctx, ch, Event{Type: EventWorkflowFailed, WorkflowID: r.wf.id, Err: err})
		return
	}
	r.emitEvent(ctx, ch, Event{Type: EventCheckpointSaved, WorkflowID: r.wf.id, CheckpointID: cp.ID})

	if r.ckpt.AutoCleanup {
		_ = checkpoint.Cleanup(ctx, r.ckpt.Store, r.wf.id, r.ckpt.KeepLastN)
	}
}

// emitEvent never blocks forever: it drops the send once ctx is done
// and the buffer is full.
func (r *Runner) emitEvent(ctx context.Context, ch chan<- Event, ev Event) {
	ev.Timestamp = time.Now()
	select {
	case ch <- ev:
	case <-ctx.Done():
		select {
		case ch <- ev:
		default:
		}
	}
}

func decodeValue(t reflect.Type, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if t == anyType {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
