package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/id"
)

// PushDLQ adds a dead letter.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	pipe.Set(ctx, dlqExecKey(entry.ExecutionID), eID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escrow/redis: push dlq: %w", err)
	}
	return nil
}

// UpdateDLQ persists changes to an existing dead letter.
func (s *Store) UpdateDLQ(ctx context.Context, entry *dlq.Entry) error {
	key := dlqKey(entry.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("escrow/redis: update dlq exists: %w", err)
	}
	if exists == 0 {
		return escrow.ErrDeadLetterNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, key, "next_retry_at", "replayed_at", "resolved_at")
	pipe.HSet(ctx, key, dlqToMap(entry))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escrow/redis: update dlq: %w", err)
	}
	return nil
}

// ListDLQ returns dead letters matching the given options, oldest failure
// first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Workflow != "" && e.Workflow != opts.Workflow {
			continue
		}
		if !opts.DueBefore.IsZero() {
			if e.Resolved() || e.NextRetryAt == nil || e.NextRetryAt.After(opts.DueBefore) {
				continue
			}
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FailedAt.Before(entries[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a dead letter by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DeadLetterID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, escrow.ErrDeadLetterNotFound
	}
	return mapToDLQ(vals)
}

// GetDLQByExecution retrieves the dead letter of an execution.
func (s *Store) GetDLQByExecution(ctx context.Context, executionID string) (*dlq.Entry, error) {
	eID, err := s.client.Get(ctx, dlqExecKey(executionID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, escrow.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("escrow/redis: get dlq by execution: %w", err)
	}
	vals, err := s.client.HGetAll(ctx, dlqKey(eID)).Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: get dlq by execution: %w", err)
	}
	if len(vals) == 0 {
		return nil, escrow.ErrDeadLetterNotFound
	}
	return mapToDLQ(vals)
}

// PurgeDLQ removes dead letters with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("escrow/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		vals, getErr := s.client.HMGet(ctx, key, "failed_at", "execution_id").Result()
		if getErr != nil {
			return purged, fmt.Errorf("escrow/redis: purge dlq get: %w", getErr)
		}
		failedAtStr, _ := vals[0].(string)
		execID, _ := vals[1].(string)
		if failedAtStr == "" {
			continue
		}

		failedAt, _ := time.Parse(time.RFC3339Nano, failedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if failedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key, dlqExecKey(execID))
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("escrow/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of dead letters.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("escrow/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":           e.ID.String(),
		"execution_id": e.ExecutionID,
		"workflow":     e.Workflow,
		"input":        string(e.Input),
		"error":        e.Error,
		"retry_count":  strconv.Itoa(e.RetryCount),
		"max_retries":  strconv.Itoa(e.MaxRetries),
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.NextRetryAt != nil {
		m["next_retry_at"] = e.NextRetryAt.Format(time.RFC3339Nano)
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	if e.ResolvedAt != nil {
		m["resolved_at"] = e.ResolvedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseWithPrefix(m["id"], id.PrefixDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: parse dlq id: %w", err)
	}
	retryCount, _ := strconv.Atoi(m["retry_count"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:          eID,
		ExecutionID: m["execution_id"],
		Workflow:    m["workflow"],
		Error:       m["error"],
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		FailedAt:    failedAt,
		CreatedAt:   createdAt,
	}
	if v := m["input"]; v != "" {
		e.Input = []byte(v)
	}
	e.NextRetryAt = parseOptionalTime(m["next_retry_at"])
	e.ReplayedAt = parseOptionalTime(m["replayed_at"])
	e.ResolvedAt = parseOptionalTime(m["resolved_at"])
	return e, nil
}

func parseOptionalTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
