package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

func redisConfig(mr *miniredis.Miniredis) config.CacheConfig {
	return config.CacheConfig{
		Enabled:            true,
		RedisURL:           "redis://" + mr.Addr(),
		ProgressTTLSeconds: 60,
	}
}

func TestRedisProgressCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewProgressCache(redisConfig(mr))
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.GetRunProgress(ctx, "r1")
	assert.ErrorIs(t, err, ErrProgressNotFound)

	require.NoError(t, c.RecordState(ctx, "r1", domain.StateReplicating))
	require.NoError(t, c.RecordPoolStarted(ctx, "r1", "rbd"))
	require.NoError(t, c.RecordObject(ctx, "r1", "rbd", 10, false))
	require.NoError(t, c.RecordObject(ctx, "r1", "rbd", 10, false))
	require.NoError(t, c.RecordObject(ctx, "r1", "rbd", 0, true))
	require.NoError(t, c.RecordPoolFinished(ctx, "r1", domain.ReplicationReport{Pool: "logs", Skipped: true}))

	state, pools, err := c.GetRunProgress(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReplicating, state)
	assert.Equal(t, []domain.PoolProgress{
		{Pool: "rbd", State: domain.StateReplicating, Attempted: 3, Succeeded: 2, Failed: 1, Bytes: 20},
		{Pool: "logs", State: domain.StateFailed},
	}, pools)

	assert.Equal(t, time.Minute, mr.TTL(stateKey("r1")))
	assert.Equal(t, time.Minute, mr.TTL(poolKey("r1", "rbd")))
	assert.Equal(t, time.Minute, mr.TTL(poolsKey("r1")))

	require.NoError(t, c.RecordPoolFinished(ctx, "r1", domain.ReplicationReport{
		Pool: "rbd", Attempted: 3, Succeeded: 2, Failed: 1, Bytes: 20,
	}))
	_, pools, err = c.GetRunProgress(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, pools[0].State)
	assert.Len(t, pools, 2)
}

func TestRedisProgressCacheClearRunKeepsOtherRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewProgressCache(redisConfig(mr))
	require.NoError(t, err)
	defer c.Close()

	for _, run := range []string{"r1", "r10"} {
		require.NoError(t, c.RecordState(ctx, run, domain.StateReplicating))
		require.NoError(t, c.RecordPoolStarted(ctx, run, "rbd"))
	}

	require.NoError(t, c.ClearRun(ctx, "r1"))

	_, _, err = c.GetRunProgress(ctx, "r1")
	assert.ErrorIs(t, err, ErrProgressNotFound)
	assert.False(t, mr.Exists(poolKey("r1", "rbd")))

	state, pools, err := c.GetRunProgress(ctx, "r10")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReplicating, state)
	assert.Len(t, pools, 1)
}

func TestRedisRunSummaryCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRunSummaryCache(redisConfig(mr))
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.GetSummary(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	summary := &domain.RunSummary{
		ID:          "r1",
		Source:      "/etc/ceph/old.conf",
		Destination: "/etc/ceph/new.conf",
		State:       domain.StateCompleted,
		Pools: []domain.ReplicationReport{
			{Pool: "rbd", Attempted: 2, Succeeded: 2, Bytes: 8, StartedAt: start, FinishedAt: start},
		},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
	}
	require.NoError(t, c.SetSummary(ctx, summary))
	require.NoError(t, c.SetSummary(ctx, &domain.RunSummary{ID: "r2", State: domain.StateFailed}))
	assert.Equal(t, time.Minute, mr.TTL(buildRunSummaryKey("r1")))

	got, ok, err := c.GetSummary(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary, got)

	require.NoError(t, mr.Set("radosmigrate:runs-index", "unrelated"))
	require.NoError(t, c.InvalidateAll(ctx))

	for _, id := range []string{"r1", "r2"} {
		_, ok, err := c.GetSummary(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
	assert.True(t, mr.Exists("radosmigrate:runs-index"))
}

func TestRedisRunSummaryCacheRejectsCorruptPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRunSummaryCache(redisConfig(mr))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, mr.Set(buildRunSummaryKey("bad"), "{not json"))
	_, ok, err := c.GetSummary(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestClearPrefixSpansScanBatches(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := openRedis(redisConfig(mr))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 2*scanBatchSize+17; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("radosmigrate:progress:r1:pool:p%03d", i), "x"))
	}
	require.NoError(t, mr.Set("radosmigrate:progress:r2:state", "replicating"))

	require.NoError(t, store.clearPrefix(context.Background(), runKeyPrefix("r1")+":"))
	assert.Equal(t, []string{"radosmigrate:progress:r2:state"}, mr.Keys())
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := redisConfig(mr)
	mr.Close()

	_, err = NewProgressCache(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")

	_, err = NewRunSummaryCache(cfg)
	assert.Error(t, err)
}

func TestOpenRedisDefaultTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfig(mr)
	cfg.ProgressTTLSeconds = 0

	store, err := openRedis(cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, defaultCacheTTL, store.ttl)
}
