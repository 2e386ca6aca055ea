package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loopkit/loopkit/schema"
)

// FileStore persists checkpoints as JSON files laid out as
// <base>/<workflow_id>/<checkpoint_id>.json. Writes go through a temp
// file and rename so a crash never leaves a torn checkpoint.
type FileStore struct {
	base string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store rooted at base.
func NewFileStore(base string) (*FileStore, error) {
	if base == "" {
		return nil, schema.NewConfigError("checkpoint.file", "base directory is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &FileStore{base: base}, nil
}

func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	dir := filepath.Join(s.base, sanitize(cp.WorkflowID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workflow directory: %w", err)
	}

	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, sanitize(cp.ID)+".json")
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) LoadLatest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	list, err := s.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, schema.ErrCheckpointNotFound
	}
	return list[0], nil
}

func (s *FileStore) Load(_ context.Context, workflowID, checkpointID string) (*Checkpoint, error) {
	path := filepath.Join(s.base, sanitize(workflowID), sanitize(checkpointID)+".json")
	return readCheckpoint(path)
}

func (s *FileStore) List(_ context.Context, workflowID string) ([]*Checkpoint, error) {
	dir := filepath.Join(s.base, sanitize(workflowID))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow directory: %w", err)
	}

	var out []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cp, err := readCheckpoint(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // skip unreadable snapshots
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, workflowID, checkpointID string) error {
	path := filepath.Join(s.base, sanitize(workflowID), sanitize(checkpointID)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func readCheckpoint(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, schema.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", filepath.Base(path), err)
	}
	return &cp, nil
}

// sanitize keeps ids filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
