// Package orchestrator coordinates multiple agents over one shared
// conversation, delegating speaker choice to a Selector.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/loopkit/loopkit/agent"
	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/termination"
)

const (
	defaultMaxIterations = 20
	eventBufferSize      = 128
)

// Selection describes what a Selector sees when choosing the next
// speaker: the task, the agents in registration order, the shared
// transcript so far, and the previous speaker ("" on the first turn).
type Selection struct {
	Task        string
	Agents      []*agent.Agent
	Messages    []schema.Message
	LastSpeaker string
	Metadata    map[string]any
}

// Selector picks the next agent by name.
type Selector interface {
	Select(ctx context.Context, sel *Selection) (string, error)
}

// StopReason describes why an orchestration run ended.
type StopReason string

const (
	StopTermination   StopReason = "termination"
	StopMaxIterations StopReason = "max_iterations"
	StopCancelled     StopReason = "cancelled"
	StopError         StopReason = "error"
)

// EventType identifies orchestration event types.
type EventType string

const (
	EventStart     EventType = "orchestration_start"
	EventTurnStart EventType = "turn_start"
	EventAgent     EventType = "agent_event"
	EventTurnEnd   EventType = "turn_end"
	EventEnd       EventType = "orchestration_end"
)

// Event is an orchestration lifecycle event. Agent progress passes
// through as Inner, tagged with the speaking agent's name.
type Event struct {
	Type      EventType    `json:"type"`
	AgentName string       `json:"agent_name,omitempty"`
	Iteration int          `json:"iteration,omitempty"`
	Inner     *agent.Event `json:"inner,omitempty"`
	Response  *Response    `json:"response,omitempty"`
	Err       error        `json:"-"`
}

// Response is the terminal outcome of an orchestration run.
type Response struct {
	Messages    []schema.Message `json:"messages"`
	FinalResult string           `json:"final_result"`
	StopReason  StopReason       `json:"stop_reason"`
	StopDetail  string           `json:"stop_detail,omitempty"`
	Usage       schema.Usage     `json:"usage"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Err         error            `json:"-"`
}

// Orchestrator runs a team of agents against one task.
type Orchestrator struct {
	name          string
	agents        []*agent.Agent
	byName        map[string]*agent.Agent
	selector      Selector
	condition     termination.Condition
	maxIterations int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAgents registers participants. Order is the round-robin order.
func WithAgents(agents ...*agent.Agent) Option {
	return func(o *Orchestrator) { o.agents = append(o.agents, agents...) }
}

// WithSelector sets the speaker selection strategy (default
// round-robin).
func WithSelector(s Selector) Option {
	return func(o *Orchestrator) { o.selector = s }
}

// WithTermination sets the stop condition.
func WithTermination(c termination.Condition) Option {
	return func(o *Orchestrator) { o.condition = c }
}

// WithMaxIterations bounds the number of turns (default 20).
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// New creates an orchestrator. At least one agent is required; agent
// names must be unique.
func New(name string, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		name:          name,
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.agents) == 0 {
		return nil, schema.NewConfigError("orchestrator", "at least one agent is required")
	}
	o.byName = make(map[string]*agent.Agent, len(o.agents))
	for _, ag := range o.agents {
		if _, dup := o.byName[ag.Name()]; dup {
			return nil, schema.NewConfigError("orchestrator", "duplicate agent name "+ag.Name())
		}
		o.byName[ag.Name()] = ag
	}
	if o.selector == nil {
		o.selector = NewRoundRobin()
	}
	return o, nil
}

// Name returns the orchestrator name.
func (o *Orchestrator) Name() string { return o.name }

// Agents returns the participants in registration order.
func (o *Orchestrator) Agents() []*agent.Agent { return o.agents }

// Run executes to completion and returns the terminal response.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Response, error) {
	var resp *Response
	for ev := range o.RunStream(ctx, task) {
		if ev.Type == EventEnd {
			resp = ev.Response
		}
	}
	if resp == nil {
		resp = &Response{StopReason: StopCancelled, Err: ctx.Err()}
	}
	return resp, resp.Err
}

// RunStream executes in a goroutine and returns the event channel.
func (o *Orchestrator) RunStream(ctx context.Context, task string) <-chan Event {
	ch := make(chan Event, eventBufferSize)
	go o.runLoop(ctx, task, ch)
	return ch
}

func emit(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, task string, ch chan<- Event) {
	defer close(ch)
	start := time.Now()

	transcript := []schema.Message{schema.NewUserMessage(task)}
	metadata := map[string]any{}
	var usage schema.Usage
	lastSpeaker := ""

	finish := func(reason StopReason, detail string, err error) {
		usage.Duration = time.Since(start)
		resp := &Response{
			Messages:   transcript,
			StopReason: reason,
			StopDetail: detail,
			Usage:      usage,
			Metadata:   metadata,
			Err:        err,
		}
		for i := len(transcript) - 1; i >= 0; i-- {
			if transcript[i].Role == schema.RoleAssistant {
				resp.FinalResult = transcript[i].Content
				break
			}
		}
		emit(ctx, ch, Event{Type: EventEnd, Response: resp})
	}

	emit(ctx, ch, Event{Type: EventStart})

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		if ctx.Err() != nil {
			finish(StopCancelled, "", ctx.Err())
			return
		}
		if o.condition != nil {
			if done, reason := o.condition.Evaluate(transcript); done {
				finish(StopTermination, reason, nil)
				return
			}
		}

		sel := &Selection{
			Task:        task,
			Agents:      o.agents,
			Messages:    transcript,
			LastSpeaker: lastSpeaker,
			Metadata:    metadata,
		}
		name, err := o.selector.Select(ctx, sel)
		if errors.Is(err, schema.ErrTerminationReached) {
			finish(StopTermination, "plan complete", nil)
			return
		}
		if err != nil {
			finish(StopError, "", schema.NewAgentError(o.name, "select speaker", err))
			return
		}
		speaker, ok := o.byName[name]
		if !ok {
			finish(StopError, "", schema.NewAgentError(o.name, "select speaker", schema.ErrAgentNotFound))
			return
		}

		emit(ctx, ch, Event{Type: EventTurnStart, AgentName: name, Iteration: iteration})

		turn, err := o.runTurn(ctx, speaker, transcript, ch, iteration)
		if err != nil {
			if ctx.Err() != nil {
				finish(StopCancelled, "", ctx.Err())
				return
			}
			finish(StopError, "", err)
			return
		}

		// the turn's messages land on the shared transcript atomically
		transcript = append(transcript, turn.messages...)
		usage.Add(turn.usage)
		lastSpeaker = name

		emit(ctx, ch, Event{Type: EventTurnEnd, AgentName: name, Iteration: iteration})
	}

	finish(StopMaxIterations, "", nil)
}

type turnResult struct {
	messages []schema.Message
	usage    schema.Usage
}

// runTurn runs one agent over a copy of the shared transcript and
// collects the messages it adds.
func (o *Orchestrator) runTurn(ctx context.Context, speaker *agent.Agent, transcript []schema.Message, ch chan<- Event, iteration int) (*turnResult, error) {
	rc := agent.NewContext()
	rc.AddMessages(transcript...)

	var resp *agent.Response
	for ev := range speaker.RunStream(ctx, "", agent.WithContext(rc)) {
		if ev.Type == agent.EventEnd {
			resp = ev.Response
			continue
		}
		inner := ev
		emit(ctx, ch, Event{Type: EventAgent, AgentName: speaker.Name(), Iteration: iteration, Inner: &inner})
	}
	if resp == nil {
		return nil, ctx.Err()
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	messages := make([]schema.Message, len(resp.Messages))
	copy(messages, resp.Messages)
	for i := range messages {
		if messages[i].Source == "" {
			messages[i].Source = speaker.Name()
		}
	}
	return &turnResult{messages: messages, usage: resp.Usage}, nil
}
