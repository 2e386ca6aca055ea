// Package checkpoint persists workflow execution state so interrupted
// runs can resume without repeating completed steps.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is a snapshot of one workflow execution. StepOutputs
// holds each completed step's output as JSON; SharedState carries the
// workflow's key/value store.
type Checkpoint struct {
	ID               string                     `json:"checkpoint_id"`
	WorkflowID       string                     `json:"workflow_id"`
	StructureHash    string                     `json:"structure_hash"`
	Timestamp        time.Time                  `json:"timestamp"`
	CompletedStepIDs []string                   `json:"completed_step_ids"`
	PendingStepIDs   []string                   `json:"pending_step_ids"`
	StepOutputs      map[string]json.RawMessage `json:"step_outputs"`
	SharedState      map[string]json.RawMessage `json:"shared_state"`
	Metadata         map[string]any             `json:"metadata,omitempty"`
}

// New creates an empty checkpoint for a workflow.
func New(workflowID, structureHash string) *Checkpoint {
	return &Checkpoint{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		StructureHash: structureHash,
		Timestamp:     time.Now(),
		StepOutputs:   make(map[string]json.RawMessage),
		SharedState:   make(map[string]json.RawMessage),
	}
}

// Store persists checkpoints per workflow id, newest-first.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	LoadLatest(ctx context.Context, workflowID string) (*Checkpoint, error)
	Load(ctx context.Context, workflowID, checkpointID string) (*Checkpoint, error)
	List(ctx context.Context, workflowID string) ([]*Checkpoint, error)
	Delete(ctx context.Context, workflowID, checkpointID string) error
	Close() error
}

// Cleanup deletes all but the newest keep checkpoints of a workflow.
func Cleanup(ctx context.Context, store Store, workflowID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	list, err := store.List(ctx, workflowID)
	if err != nil {
		return err
	}
	for i := keep; i < len(list); i++ {
		if err := store.Delete(ctx, workflowID, list[i].ID); err != nil {
			return err
		}
	}
	return nil
}
