package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/loopkit/loopkit/schema"
)

// RedisStore persists checkpoints in Redis. Each checkpoint lives
// under checkpoint:<workflow>:<id>; a per-workflow sorted set scored
// by timestamp keeps newest-first ordering cheap.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "checkpoint"}
}

// NewRedisStoreAddr dials addr (e.g. "localhost:6379") and wraps it.
func NewRedisStoreAddr(addr string) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
}

func (s *RedisStore) key(workflowID, checkpointID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, workflowID, checkpointID)
}

func (s *RedisStore) indexKey(workflowID string) string {
	return fmt.Sprintf("%s:%s:index", s.prefix, workflowID)
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(cp.WorkflowID, cp.ID), raw, 0)
	pipe.ZAdd(ctx, s.indexKey(cp.WorkflowID), redis.Z{
		Score:  float64(cp.Timestamp.UnixNano()),
		Member: cp.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LoadLatest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(workflowID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, schema.ErrCheckpointNotFound
	}
	return s.Load(ctx, workflowID, ids[0])
}

func (s *RedisStore) Load(ctx context.Context, workflowID, checkpointID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.key(workflowID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, schema.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", checkpointID, err)
	}
	return &cp, nil
}

func (s *RedisStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, workflowID, id)
		if errors.Is(err, schema.ErrCheckpointNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, workflowID, checkpointID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(workflowID, checkpointID))
	pipe.ZRem(ctx, s.indexKey(workflowID), checkpointID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error { return s.client.Close() }
