package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/workflow"
)

// saveCheckpointScript writes a checkpoint only when its key is new and
// appends the key to the ordering list in the same step.
var saveCheckpointScript = goredis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	key := execKey(e.ID)

	created, err := s.client.HSetNX(ctx, key, "id", e.ID).Result()
	if err != nil {
		return fmt.Errorf("escrow/redis: create execution: %w", err)
	}
	if !created {
		return escrow.ErrExecutionExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, executionToMap(e))
	pipe.SAdd(ctx, execIDsKey, e.ID)
	if e.ParentID != "" {
		pipe.SAdd(ctx, childrenKey(e.ParentID), e.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escrow/redis: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	vals, err := s.client.HGetAll(ctx, execKey(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: get execution: %w", err)
	}
	if len(vals) == 0 {
		return nil, escrow.ErrExecutionNotFound
	}
	return mapToExecution(vals), nil
}

// UpdateExecution persists changes to an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	key := execKey(e.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("escrow/redis: update execution exists: %w", err)
	}
	if exists == 0 {
		return escrow.ErrExecutionNotFound
	}

	e.UpdatedAt = time.Now().UTC()
	pipe := s.client.TxPipeline()
	if e.CompletedAt == nil {
		pipe.HDel(ctx, key, "completed_at")
	}
	pipe.HSet(ctx, key, executionToMap(e))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escrow/redis: update execution: %w", err)
	}
	return nil
}

// ListExecutions returns executions matching the given options, oldest
// first.
func (s *Store) ListExecutions(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	ids, err := s.client.SMembers(ctx, execIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: list executions smembers: %w", err)
	}

	execs, err := s.loadExecutions(ctx, ids)
	if err != nil {
		return nil, err
	}

	filtered := execs[:0]
	for _, e := range execs {
		if opts.State != "" && e.State != opts.State {
			continue
		}
		if opts.Name != "" && e.Name != opts.Name {
			continue
		}
		if !opts.UpdatedBefore.IsZero() && !e.UpdatedAt.Before(opts.UpdatedBefore) {
			continue
		}
		filtered = append(filtered, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// ListChildExecutions returns all executions started by a parent.
func (s *Store) ListChildExecutions(ctx context.Context, parentID string) ([]*workflow.Execution, error) {
	ids, err := s.client.SMembers(ctx, childrenKey(parentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: list children smembers: %w", err)
	}
	return s.loadExecutions(ctx, ids)
}

func (s *Store) loadExecutions(ctx context.Context, ids []string) ([]*workflow.Execution, error) {
	execs := make([]*workflow.Execution, 0, len(ids))
	for _, execID := range ids {
		vals, err := s.client.HGetAll(ctx, execKey(execID)).Result()
		if err != nil {
			return nil, fmt.Errorf("escrow/redis: load execution %s: %w", execID, err)
		}
		if len(vals) == 0 {
			continue
		}
		execs = append(execs, mapToExecution(vals))
	}
	sort.Slice(execs, func(i, k int) bool {
		if execs[i].CreatedAt.Equal(execs[k].CreatedAt) {
			return execs[i].ID < execs[k].ID
		}
		return execs[i].CreatedAt.Before(execs[k].CreatedAt)
	})
	return execs, nil
}

// checkpointRecord is the JSON value stored per checkpoint field.
type checkpointRecord struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveCheckpoint records a step outcome. The first write for a key wins.
func (s *Store) SaveCheckpoint(ctx context.Context, executionID, key string, data []byte) error {
	raw, err := json.Marshal(checkpointRecord{
		ID:        id.NewCheckpointID().String(),
		Data:      string(data),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("escrow/redis: encode checkpoint: %w", err)
	}

	keys := []string{checkpointKey(executionID), checkpointOrderKey(executionID)}
	if err := saveCheckpointScript.Run(ctx, s.client, keys, key, string(raw)).Err(); err != nil {
		return fmt.Errorf("escrow/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the checkpoint data for a key.
func (s *Store) GetCheckpoint(ctx context.Context, executionID, key string) ([]byte, error) {
	raw, err := s.client.HGet(ctx, checkpointKey(executionID), key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // no checkpoint is not an error
		}
		return nil, fmt.Errorf("escrow/redis: get checkpoint: %w", err)
	}
	var rec checkpointRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("escrow/redis: decode checkpoint %q: %w", key, err)
	}
	return []byte(rec.Data), nil
}

// ListCheckpoints returns all checkpoints of an execution in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, executionID string) ([]*workflow.Checkpoint, error) {
	keys, err := s.client.LRange(ctx, checkpointOrderKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: list checkpoints: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, checkpointKey(executionID), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: list checkpoints hmget: %w", err)
	}

	checkpoints := make([]*workflow.Checkpoint, 0, len(keys))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec checkpointRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("escrow/redis: decode checkpoint %q: %w", keys[i], err)
		}
		cpID, _ := id.Parse(rec.ID) //nolint:errcheck // best-effort parse from trusted Redis data
		checkpoints = append(checkpoints, &workflow.Checkpoint{
			ID:          cpID,
			ExecutionID: executionID,
			Key:         keys[i],
			Data:        []byte(rec.Data),
			CreatedAt:   rec.CreatedAt,
		})
	}
	return checkpoints, nil
}

// DeleteCheckpointsAfter removes every checkpoint recorded after afterKey.
func (s *Store) DeleteCheckpointsAfter(ctx context.Context, executionID, afterKey string) error {
	hashKey, orderKey := checkpointKey(executionID), checkpointOrderKey(executionID)

	if afterKey == "" {
		if err := s.client.Del(ctx, hashKey, orderKey).Err(); err != nil {
			return fmt.Errorf("escrow/redis: delete checkpoints: %w", err)
		}
		return nil
	}

	keys, err := s.client.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("escrow/redis: delete checkpoints lrange: %w", err)
	}
	idx := -1
	for i, k := range keys {
		if k == afterKey {
			idx = i
			break
		}
	}
	if idx < 0 {
		return escrow.ErrCheckpointNotFound
	}
	drop := keys[idx+1:]
	if len(drop) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, hashKey, drop...)
	pipe.LTrim(ctx, orderKey, 0, int64(idx))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escrow/redis: delete checkpoints: %w", err)
	}
	return nil
}

// ── helpers ──

func executionToMap(e *workflow.Execution) map[string]interface{} {
	m := map[string]interface{}{
		"id":         e.ID,
		"name":       e.Name,
		"version":    strconv.Itoa(e.Version),
		"state":      string(e.State),
		"input":      string(e.Input),
		"output":     string(e.Output),
		"error":      e.Error,
		"parent_id":  e.ParentID,
		"attempts":   strconv.Itoa(e.Attempts),
		"started_at": e.StartedAt.Format(time.RFC3339Nano),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if e.CompletedAt != nil {
		m["completed_at"] = e.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToExecution(m map[string]string) *workflow.Execution {
	version, _ := strconv.Atoi(m["version"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &workflow.Execution{
		Entity: escrow.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        m["id"],
		Name:      m["name"],
		Version:   version,
		State:     workflow.State(m["state"]),
		Error:     m["error"],
		ParentID:  m["parent_id"],
		Attempts:  attempts,
		StartedAt: startedAt,
	}
	if v := m["input"]; v != "" {
		e.Input = []byte(v)
	}
	if v := m["output"]; v != "" {
		e.Output = []byte(v)
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.CompletedAt = &t
	}
	return e
}
