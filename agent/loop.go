package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/loopkit/loopkit/llm"
	"github.com/loopkit/loopkit/middleware"
	"github.com/loopkit/loopkit/schema"
)

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	rc *Context
}

// WithContext reuses an existing run context, continuing its
// conversation and settling its pending approvals.
func WithContext(rc *Context) RunOption {
	return func(o *runOptions) { o.rc = rc }
}

// Run executes the loop to completion and returns the terminal
// response. The returned error mirrors Response.Err.
func (a *Agent) Run(ctx context.Context, task string, opts ...RunOption) (*Response, error) {
	var resp *Response
	for ev := range a.RunStream(ctx, task, opts...) {
		if ev.Type == EventEnd {
			resp = ev.Response
		}
	}
	if resp == nil {
		resp = &Response{FinishReason: FinishCancelled, Err: ctx.Err()}
	}
	return resp, resp.Err
}

// RunStream executes the loop in a goroutine and returns its event
// channel. The channel closes after the terminal agent_end event; a
// cancelled context closes it early.
func (a *Agent) RunStream(ctx context.Context, task string, opts ...RunOption) <-chan Event {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	rc := o.rc
	if rc == nil {
		rc = NewContext()
	}

	ch := make(chan Event, eventBufferSize)
	go a.runLoop(ctx, task, rc, ch)
	return ch
}

// emit sends an event, abandoning the send if the run is cancelled.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) runLoop(ctx context.Context, task string, rc *Context, ch chan<- Event) {
	defer close(ch)
	start := time.Now()

	var newMessages []schema.Message
	record := func(msg schema.Message) {
		rc.AddMessage(msg)
		newMessages = append(newMessages, msg)
	}

	finish := func(reason FinishReason, err error) {
		rc.AddUsage(schema.Usage{Duration: time.Since(start)})
		resp := &Response{
			Messages:     newMessages,
			FinishReason: reason,
			Usage:        rc.Usage(),
			Approvals:    rc.PendingApprovals(),
			Err:          err,
		}
		emit(ctx, ch, Event{Type: EventEnd, AgentName: a.name, Response: resp})
	}

	emit(ctx, ch, Event{Type: EventStart, AgentName: a.name})

	// call ids must stay unique across the whole conversation,
	// including messages carried over by a reused context
	seenCallIDs := make(map[string]int)
	for _, m := range rc.Messages() {
		for _, tc := range m.ToolCalls {
			seenCallIDs[tc.ID]++
		}
	}

	if task != "" {
		record(schema.NewUserMessage(task))
	}

	// Settle approval decisions recorded since the last run.
	a.settleApprovals(ctx, rc, record, ch)
	if ctx.Err() != nil {
		finish(FinishCancelled, ctx.Err())
		return
	}
	if rc.WaitingForApproval() {
		emit(ctx, ch, Event{Type: EventApprovalRequired, AgentName: a.name, Approvals: rc.PendingApprovals()})
		finish(FinishNeedsApproval, nil)
		return
	}

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		if ctx.Err() != nil {
			finish(FinishCancelled, ctx.Err())
			return
		}
		emit(ctx, ch, Event{Type: EventIterationStart, AgentName: a.name, Iteration: iteration})

		resp, err := a.callModel(ctx, rc, ch)
		if err != nil {
			if ctx.Err() != nil {
				finish(FinishCancelled, ctx.Err())
				return
			}
			emit(ctx, ch, Event{Type: EventError, AgentName: a.name, Err: err})
			finish(FinishError, schema.NewAgentError(a.name, "model call", err))
			return
		}

		msg := resp.Message
		renameDuplicateCallIDs(&msg, seenCallIDs)
		rc.AddUsage(resp.Usage)

		if !msg.HasToolCalls() {
			if a.outputFormat != nil {
				structured, verr := a.outputFormat.Validate([]byte(msg.Content))
				if verr != nil {
					// keep the raw reply in the transcript
					record(msg)
					emit(ctx, ch, Event{Type: EventError, AgentName: a.name, Err: verr})
					finish(FinishError, schema.NewAgentError(a.name, "structured output", verr))
					return
				}
				msg.StructuredContent = structured
			}
			record(msg)
			emit(ctx, ch, Event{Type: EventMessage, AgentName: a.name, Message: &msg})
			finish(FinishStop, nil)
			return
		}

		record(msg)
		emit(ctx, ch, Event{Type: EventMessage, AgentName: a.name, Message: &msg})

		a.dispatchToolCalls(ctx, rc, msg.ToolCalls, record, ch)
		if ctx.Err() != nil {
			finish(FinishCancelled, ctx.Err())
			return
		}
		if rc.WaitingForApproval() {
			emit(ctx, ch, Event{Type: EventApprovalRequired, AgentName: a.name, Approvals: rc.PendingApprovals()})
			finish(FinishNeedsApproval, nil)
			return
		}
	}

	finish(FinishMaxIterations, nil)
}

// callModel runs one model call through the middleware chain.
func (a *Agent) callModel(ctx context.Context, rc *Context, ch chan<- Event) (*llm.Response, error) {
	messages := rc.Messages()
	if a.systemPrompt != "" {
		messages = append([]schema.Message{schema.NewSystemMessage(a.systemPrompt)}, messages...)
	}

	usage := rc.Usage()
	mc := &middleware.Context{
		Operation: middleware.OpModelCall,
		AgentName: a.name,
		Messages:  messages,
		Usage:     &usage,
	}

	err := a.chain.Run(ctx, mc, func(ctx context.Context, mc *middleware.Context) error {
		req := &llm.Request{
			Messages: mc.Messages,
			Tools:    a.toolSpecs(),
		}
		if a.outputFormat != nil {
			req.ResponseFormat = a.outputFormat.ResponseFormat()
		}

		resp, err := a.generate(ctx, req, ch)
		if err != nil {
			return err
		}
		mc.Result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp, ok := mc.Result.(*llm.Response)
	if !ok || resp == nil {
		return nil, schema.NewAgentError(a.name, "model call", fmt.Errorf("middleware produced %T, want *llm.Response", mc.Result))
	}
	return resp, nil
}

// generate calls the model, streaming token deltas when enabled and
// supported. Usage is committed only once the stream closes.
func (a *Agent) generate(ctx context.Context, req *llm.Request, ch chan<- Event) (*llm.Response, error) {
	if !a.streamTokens || !a.model.SupportsStreaming() {
		return a.model.Generate(ctx, req)
	}

	stream, err := a.model.GenerateStream(ctx, req)
	if err != nil {
		return a.model.Generate(ctx, req)
	}

	var final *llm.Response
	for ev := range stream {
		switch ev.Type {
		case schema.StreamEventToken:
			emit(ctx, ch, Event{Type: EventToken, AgentName: a.name, Delta: ev.Delta})
		case schema.StreamEventDone:
			final = &llm.Response{Message: ev.Message, ModelInfo: a.model.Info()}
			if ev.Usage != nil {
				final.Usage = *ev.Usage
			}
		case schema.StreamEventError:
			return nil, ev.Err
		}
	}
	if final == nil {
		return nil, schema.NewModelError(a.model.Info().Name, "stream", fmt.Errorf("stream closed without final message"))
	}
	if final.Usage.LLMCalls == 0 {
		final.Usage.LLMCalls = 1
	}
	return final, nil
}

// dispatchToolCalls executes calls that need no approval and records
// approval requests for the rest.
func (a *Agent) dispatchToolCalls(ctx context.Context, rc *Context, calls []schema.ToolCall, record func(schema.Message), ch chan<- Event) {
	var autoCalls []schema.ToolCall
	var approvals []schema.ApprovalRequest
	for _, call := range calls {
		if a.executor.NeedsApproval(call.Name) {
			approvals = append(approvals, schema.NewApprovalRequest(call))
		} else {
			autoCalls = append(autoCalls, call)
		}
	}

	results := a.runToolCalls(ctx, autoCalls, ch)
	for _, result := range results {
		record(result.Message())
	}
	rc.AddUsage(schema.Usage{ToolCalls: len(results)})

	if len(approvals) > 0 {
		rc.addApprovals(approvals...)
	}
}

// runToolCalls executes calls in parallel, bounded by the executor's
// concurrency. Results come back in request order.
func (a *Agent) runToolCalls(ctx context.Context, calls []schema.ToolCall, ch chan<- Event) []schema.ToolResult {
	if len(calls) == 0 {
		return nil
	}
	parallel := int64(a.toolParallel)
	if parallel <= 0 {
		parallel = 4
	}

	results := make([]schema.ToolResult, len(calls))
	sem := semaphore.NewWeighted(parallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = schema.ToolResult{CallID: call.ID, Success: false, Error: "cancelled before execution"}
			continue
		}
		wg.Add(1)
		go func(i int, call schema.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = a.runToolCall(ctx, call, ch)
		}(i, call)
	}
	wg.Wait()
	return results
}

// runToolCall executes one call through the middleware chain. Chain
// errors become failed results so the loop keeps going.
func (a *Agent) runToolCall(ctx context.Context, call schema.ToolCall, ch chan<- Event) schema.ToolResult {
	emit(ctx, ch, Event{Type: EventToolCallStart, AgentName: a.name, ToolCall: &call})

	mc := &middleware.Context{
		Operation: middleware.OpToolCall,
		AgentName: a.name,
		ToolCall:  &call,
	}
	err := a.chain.Run(ctx, mc, func(ctx context.Context, mc *middleware.Context) error {
		result := a.executor.Execute(ctx, *mc.ToolCall)
		mc.Result = &result
		return nil
	})

	var result schema.ToolResult
	if err != nil {
		result = schema.ToolResult{CallID: call.ID, Success: false, Error: err.Error()}
	} else if r, ok := mc.Result.(*schema.ToolResult); ok && r != nil {
		result = *r
		if result.CallID == "" {
			result.CallID = call.ID
		}
	} else {
		result = schema.ToolResult{CallID: call.ID, Success: false, Error: fmt.Sprintf("middleware produced %T, want *schema.ToolResult", mc.Result)}
	}

	emit(ctx, ch, Event{Type: EventToolCallEnd, AgentName: a.name, ToolCall: &call, Result: &result})
	return result
}

// settleApprovals executes approved calls and records rejections.
func (a *Agent) settleApprovals(ctx context.Context, rc *Context, record func(schema.Message), ch chan<- Event) {
	for _, decided := range rc.decidedApprovals() {
		if ctx.Err() != nil {
			return
		}
		call := schema.ToolCall{
			ID:   decided.Request.CallID,
			Name: decided.Request.ToolName,
			Args: decided.Request.Args,
		}
		var result schema.ToolResult
		if decided.Response.Approved {
			result = a.runToolCall(ctx, call, ch)
			rc.AddUsage(schema.Usage{ToolCalls: 1})
		} else {
			reason := "rejected by user"
			if decided.Response.Reason != "" {
				reason = fmt.Sprintf("rejected by user: %s", decided.Response.Reason)
			}
			result = schema.ToolResult{CallID: call.ID, Success: false, Error: reason}
		}
		record(result.Message())
		rc.clearApproval(decided.Request.RequestID)
	}
}

// toolSpecs builds the tool declarations for the model.
func (a *Agent) toolSpecs() []llm.ToolSpec {
	list := a.registry.List()
	if len(list) == 0 {
		return nil
	}
	specs := make([]llm.ToolSpec, len(list))
	for i, t := range list {
		specs[i] = llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		}
	}
	return specs
}

// renameDuplicateCallIDs gives repeated call ids a _2, _3 suffix so
// results correlate unambiguously. seen spans the whole run, so an id
// reused in a later iteration is renamed too.
func renameDuplicateCallIDs(msg *schema.Message, seen map[string]int) {
	for i, call := range msg.ToolCalls {
		seen[call.ID]++
		if n := seen[call.ID]; n > 1 {
			renamed := fmt.Sprintf("%s_%d", call.ID, n)
			msg.ToolCalls[i].ID = renamed
			// reserve the new id against a later literal collision
			seen[renamed]++
		}
	}
}
