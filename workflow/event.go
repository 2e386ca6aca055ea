package workflow

import "time"

// EventType identifies workflow lifecycle event types.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowResumed   EventType = "workflow_resumed"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventCheckpointSaved   EventType = "checkpoint_saved"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// Event is a lifecycle event emitted during execution.
type Event struct {
	Type         EventType `json:"type"`
	WorkflowID   string    `json:"workflow_id"`
	StepID       string    `json:"step_id,omitempty"`
	Output       any       `json:"output,omitempty"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Result       *Result   `json:"result,omitempty"`
	Err          error     `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}

// Result is the terminal outcome of a run: every terminal step's
// output, keyed by step id.
type Result struct {
	WorkflowID string         `json:"workflow_id"`
	Outputs    map[string]any `json:"outputs"`
	Duration   time.Duration  `json:"duration"`
}

// Output returns the single terminal output when the graph has
// exactly one terminal step.
func (r *Result) Output() any {
	if len(r.Outputs) == 1 {
		for _, v := range r.Outputs {
			return v
		}
	}
	return nil
}
