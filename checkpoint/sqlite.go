//go:build sqlite

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loopkit/loopkit/schema"
)

// SQLiteStore persists checkpoints in a single-file database. Build
// with -tags sqlite; the driver needs cgo.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT NOT NULL,
	workflow_id   TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	payload       BLOB NOT NULL,
	PRIMARY KEY (workflow_id, checkpoint_id)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow_time
	ON checkpoints (workflow_id, created_at DESC);`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (checkpoint_id, workflow_id, created_at, payload) VALUES (?, ?, ?, ?)`,
		cp.ID, cp.WorkflowID, cp.Timestamp.UnixNano(), raw)
	return err
}

func (s *SQLiteStore) LoadLatest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE workflow_id = ? ORDER BY created_at DESC LIMIT 1`,
		workflowID)
	return scanCheckpoint(row)
}

func (s *SQLiteStore) Load(ctx context.Context, workflowID, checkpointID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE workflow_id = ? AND checkpoint_id = ?`,
		workflowID, checkpointID)
	return scanCheckpoint(row)
}

func (s *SQLiteStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM checkpoints WHERE workflow_id = ? ORDER BY created_at DESC`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var cp Checkpoint
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, fmt.Errorf("parse checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, workflowID, checkpointID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE workflow_id = ? AND checkpoint_id = ?`,
		workflowID, checkpointID)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schema.ErrCheckpointNotFound
		}
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}
