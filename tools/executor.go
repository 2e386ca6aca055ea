package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/semaphore"

	"github.com/loopkit/loopkit/schema"
)

const defaultConcurrency = 4

// Executor validates arguments against each tool's JSON schema and
// runs calls with timeout and panic containment. Failures become
// failed ToolResults, never returned errors; only a cancelled parent
// context aborts execution.
type Executor struct {
	registry    *Registry
	timeout     time.Duration
	concurrency int64

	mu        sync.Mutex
	validators map[string]*jsonschema.Schema
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithConcurrency bounds parallel execution in ExecuteAll.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = int64(n)
		}
	}
}

// NewExecutor creates an executor over a registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		concurrency: defaultConcurrency,
		validators:  make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the underlying registry.
func (e *Executor) Registry() *Registry { return e.registry }

// NeedsApproval reports whether the named tool requires human approval.
// Unknown tools never need approval; they fail at execution instead.
func (e *Executor) NeedsApproval(name string) bool {
	tool, ok := e.registry.Get(name)
	return ok && tool.ApprovalMode() == schema.ApprovalAlways
}

// Execute runs one tool call to completion.
func (e *Executor) Execute(ctx context.Context, call schema.ToolCall) schema.ToolResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return failed(call.ID, fmt.Sprintf("tool %q not found", call.Name))
	}

	if err := e.validateArgs(tool, call.Args); err != nil {
		return failed(call.ID, fmt.Sprintf("invalid arguments: %v", err))
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	content, err := e.run(runCtx, tool, call.Args)
	if err != nil {
		return failed(call.ID, err.Error())
	}
	return schema.ToolResult{CallID: call.ID, Content: content, Success: true}
}

// ExecuteAll runs calls in parallel, bounded by the configured
// concurrency. Results come back in request order. A cancelled context
// stops launching new calls; launched calls observe it via runCtx.
func (e *Executor) ExecuteAll(ctx context.Context, calls []schema.ToolCall) []schema.ToolResult {
	if len(calls) == 1 {
		return []schema.ToolResult{e.Execute(ctx, calls[0])}
	}

	results := make([]schema.ToolResult, len(calls))
	sem := semaphore.NewWeighted(e.concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = failed(call.ID, "cancelled before execution")
			continue
		}
		wg.Add(1)
		go func(i int, call schema.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) run(ctx context.Context, tool Tool, args json.RawMessage) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		c, err := tool.Execute(ctx, args)
		done <- outcome{content: c, err: err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", schema.NewToolError(tool.Name(), "execute", schema.ErrToolTimeout)
		}
		return "", ctx.Err()
	case out := <-done:
		return out.content, out.err
	}
}

func (e *Executor) validateArgs(tool Tool, args json.RawMessage) error {
	toolSchema := tool.Schema()
	if len(toolSchema) == 0 {
		return nil
	}
	validator, err := e.validator(tool.Name(), toolSchema)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		args = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return validator.Validate(doc)
}

// validator compiles and caches the tool's schema.
func (e *Executor) validator(name string, toolSchema map[string]any) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.validators[name]; ok {
		return v, nil
	}
	raw, err := json.Marshal(toolSchema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	v, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	e.validators[name] = v
	return v, nil
}

func failed(callID, msg string) schema.ToolResult {
	return schema.ToolResult{CallID: callID, Success: false, Error: msg}
}
