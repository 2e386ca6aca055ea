package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/loopkit/loopkit/schema"
)

// MemoryStore keeps checkpoints in process memory. Snapshots are
// deep-copied on both save and load so callers cannot mutate stored
// state.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]*Checkpoint
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string][]*Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	clone, err := clone(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.WorkflowID] = append(s.checkpoints[cp.WorkflowID], clone)
	return nil
}

func (s *MemoryStore) LoadLatest(_ context.Context, workflowID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.checkpoints[workflowID]
	if len(list) == 0 {
		return nil, schema.ErrCheckpointNotFound
	}
	return clone(newestFirst(list)[0])
}

func (s *MemoryStore) Load(_ context.Context, workflowID, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.checkpoints[workflowID] {
		if cp.ID == checkpointID {
			return clone(cp)
		}
	}
	return nil, schema.ErrCheckpointNotFound
}

func (s *MemoryStore) List(_ context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := newestFirst(s.checkpoints[workflowID])
	out := make([]*Checkpoint, 0, len(list))
	for _, cp := range list {
		c, err := clone(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, workflowID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.checkpoints[workflowID]
	kept := list[:0]
	for _, cp := range list {
		if cp.ID != checkpointID {
			kept = append(kept, cp)
		}
	}
	s.checkpoints[workflowID] = kept
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func newestFirst(list []*Checkpoint) []*Checkpoint {
	sorted := make([]*Checkpoint, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	return sorted
}

func clone(cp *Checkpoint) (*Checkpoint, error) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	var out Checkpoint
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
