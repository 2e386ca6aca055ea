package schema

import "time"

// StreamEventType identifies model streaming event types.
type StreamEventType string

const (
	StreamEventToken StreamEventType = "token"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a streaming event from a model provider.
// Token events carry Delta; the done event carries the final Message
// and, when the provider reports it, the Usage for the whole call.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Delta     string          `json:"delta,omitempty"`
	Message   Message         `json:"message,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Err       error           `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTokenEvent creates a token event.
func NewTokenEvent(delta string) StreamEvent {
	return StreamEvent{Type: StreamEventToken, Delta: delta, Timestamp: time.Now()}
}

// NewDoneEvent creates a done event carrying the final message.
func NewDoneEvent(msg Message, usage *Usage) StreamEvent {
	return StreamEvent{Type: StreamEventDone, Message: msg, Usage: usage, Timestamp: time.Now()}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: StreamEventError, Err: err, Timestamp: time.Now()}
}
