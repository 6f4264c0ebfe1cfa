package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

// ErrProgressNotFound is returned when no live progress exists for a run.
var ErrProgressNotFound = errors.New("no progress recorded for run")

const (
	fieldState     = "state"
	fieldAttempted = "attempted"
	fieldSucceeded = "succeeded"
	fieldFailed    = "failed"
	fieldBytes     = "bytes"
)

// ProgressCache keeps live per-pool counters of running migrations.
type ProgressCache interface {
	RecordState(ctx context.Context, runID string, state domain.RunState) error
	RecordPoolStarted(ctx context.Context, runID, pool string) error
	RecordObject(ctx context.Context, runID, pool string, size int64, failed bool) error
	RecordPoolFinished(ctx context.Context, runID string, report domain.ReplicationReport) error
	GetRunProgress(ctx context.Context, runID string) (domain.RunState, []domain.PoolProgress, error)
	ClearRun(ctx context.Context, runID string) error
	Close() error
}

type redisProgressCache struct {
	redisStore
}

type noopProgressCache struct{}

// NewProgressCache returns a Redis backed cache, or a noop one when caching is disabled.
func NewProgressCache(cfg config.CacheConfig) (ProgressCache, error) {
	if !cfg.Enabled {
		return &noopProgressCache{}, nil
	}

	store, err := openRedis(cfg)
	if err != nil {
		return nil, err
	}
	return &redisProgressCache{redisStore: store}, nil
}

func NewNoopProgressCache() ProgressCache {
	return &noopProgressCache{}
}

func runKeyPrefix(runID string) string {
	return fmt.Sprintf("%s:progress:%s", keyPrefix, runID)
}

func stateKey(runID string) string {
	return runKeyPrefix(runID) + ":state"
}

func poolsKey(runID string) string {
	return runKeyPrefix(runID) + ":pools"
}

func poolKey(runID, pool string) string {
	return runKeyPrefix(runID) + ":pool:" + pool
}

func (c *redisProgressCache) RecordState(ctx context.Context, runID string, state domain.RunState) error {
	if err := c.client.Set(ctx, stateKey(runID), string(state), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisProgressCache) RecordPoolStarted(ctx context.Context, runID, pool string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, poolsKey(runID), pool)
		pipe.Expire(ctx, poolsKey(runID), c.ttl)
		pipe.HSet(ctx, poolKey(runID, pool),
			fieldState, string(domain.StateReplicating),
			fieldAttempted, 0,
			fieldSucceeded, 0,
			fieldFailed, 0,
			fieldBytes, 0,
		)
		pipe.Expire(ctx, poolKey(runID, pool), c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record pool start failed: %w", err)
	}
	return nil
}

func (c *redisProgressCache) RecordObject(ctx context.Context, runID, pool string, size int64, failed bool) error {
	key := poolKey(runID, pool)
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldAttempted, 1)
		if failed {
			pipe.HIncrBy(ctx, key, fieldFailed, 1)
		} else {
			pipe.HIncrBy(ctx, key, fieldSucceeded, 1)
			pipe.HIncrBy(ctx, key, fieldBytes, size)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record object failed: %w", err)
	}
	return nil
}

func (c *redisProgressCache) RecordPoolFinished(ctx context.Context, runID string, report domain.ReplicationReport) error {
	key := poolKey(runID, report.Pool)
	state := domain.StateCompleted
	if report.Skipped || report.Interrupted {
		state = domain.StateFailed
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if report.Skipped {
			// Skipped pools never went through RecordPoolStarted.
			pipe.RPush(ctx, poolsKey(runID), report.Pool)
			pipe.Expire(ctx, poolsKey(runID), c.ttl)
		}
		pipe.HSet(ctx, key,
			fieldState, string(state),
			fieldAttempted, report.Attempted,
			fieldSucceeded, report.Succeeded,
			fieldFailed, report.Failed,
			fieldBytes, report.Bytes,
		)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record pool finish failed: %w", err)
	}
	return nil
}

func (c *redisProgressCache) GetRunProgress(ctx context.Context, runID string) (domain.RunState, []domain.PoolProgress, error) {
	state, err := c.client.Get(ctx, stateKey(runID)).Result()
	if err == redis.Nil {
		return "", nil, ErrProgressNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("redis get failed: %w", err)
	}

	pools, err := c.client.LRange(ctx, poolsKey(runID), 0, -1).Result()
	if err != nil {
		return "", nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(pools))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, pool := range pools {
			cmds[i] = pipe.HGetAll(ctx, poolKey(runID, pool))
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	progress := make([]domain.PoolProgress, 0, len(pools))
	for i, pool := range pools {
		progress = append(progress, parsePoolProgress(pool, cmds[i].Val()))
	}
	return domain.RunState(state), progress, nil
}

func (c *redisProgressCache) ClearRun(ctx context.Context, runID string) error {
	return c.clearPrefix(ctx, runKeyPrefix(runID)+":")
}

func parsePoolProgress(pool string, fields map[string]string) domain.PoolProgress {
	parse := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	return domain.PoolProgress{
		Pool:      pool,
		State:     domain.RunState(fields[fieldState]),
		Attempted: parse(fieldAttempted),
		Succeeded: parse(fieldSucceeded),
		Failed:    parse(fieldFailed),
		Bytes:     parse(fieldBytes),
	}
}

func (n *noopProgressCache) RecordState(ctx context.Context, runID string, state domain.RunState) error {
	return nil
}

func (n *noopProgressCache) RecordPoolStarted(ctx context.Context, runID, pool string) error {
	return nil
}

func (n *noopProgressCache) RecordObject(ctx context.Context, runID, pool string, size int64, failed bool) error {
	return nil
}

func (n *noopProgressCache) RecordPoolFinished(ctx context.Context, runID string, report domain.ReplicationReport) error {
	return nil
}

func (n *noopProgressCache) GetRunProgress(ctx context.Context, runID string) (domain.RunState, []domain.PoolProgress, error) {
	return "", nil, ErrProgressNotFound
}

func (n *noopProgressCache) ClearRun(ctx context.Context, runID string) error {
	return nil
}

func (n *noopProgressCache) Close() error {
	return nil
}
