package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "radosmigrate:progress:r1:state", stateKey("r1"))
	assert.Equal(t, "radosmigrate:progress:r1:pools", poolsKey("r1"))
	assert.Equal(t, "radosmigrate:progress:r1:pool:rbd", poolKey("r1", "rbd"))
	assert.Equal(t, "radosmigrate:run:r1", buildRunSummaryKey("r1"))
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(config.CacheConfig{RedisHost: "redis", RedisPort: "6380", RedisDB: 2})
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, commandTimeout, opts.ReadTimeout)

	opts, err = redisOptions(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = redisOptions(config.CacheConfig{RedisURL: "redis://:secret@cache:6379/3"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, commandTimeout, opts.WriteTimeout)

	_, err = redisOptions(config.CacheConfig{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestParsePoolProgress(t *testing.T) {
	p := parsePoolProgress("rbd", map[string]string{
		fieldState:     "replicating",
		fieldAttempted: "10",
		fieldSucceeded: "8",
		fieldFailed:    "2",
		fieldBytes:     "4096",
	})
	assert.Equal(t, domain.PoolProgress{
		Pool:      "rbd",
		State:     domain.StateReplicating,
		Attempted: 10,
		Succeeded: 8,
		Failed:    2,
		Bytes:     4096,
	}, p)

	empty := parsePoolProgress("x", nil)
	assert.Zero(t, empty.Attempted)
}

func TestDisabledCachesAreNoop(t *testing.T) {
	ctx := context.Background()

	progress, err := NewProgressCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, progress.RecordState(ctx, "r", domain.StateConnected))
	require.NoError(t, progress.RecordObject(ctx, "r", "p", 1, false))
	_, _, err = progress.GetRunProgress(ctx, "r")
	assert.ErrorIs(t, err, ErrProgressNotFound)
	assert.NoError(t, progress.Close())

	summaries, err := NewRunSummaryCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, summaries.SetSummary(ctx, &domain.RunSummary{ID: "r"}))
	_, ok, err := summaries.GetSummary(ctx, "r")
	require.NoError(t, err)
	assert.False(t, ok)
}

type recordingCache struct {
	noopProgressCache
	objects []bool
	states  []domain.RunState
}

func (r *recordingCache) RecordObject(_ context.Context, _, _ string, _ int64, failed bool) error {
	r.objects = append(r.objects, failed)
	return nil
}

func (r *recordingCache) RecordState(_ context.Context, _ string, s domain.RunState) error {
	r.states = append(r.states, s)
	return nil
}

func TestProgressObserver(t *testing.T) {
	rc := &recordingCache{}
	obs := NewProgressObserver(rc, "run")

	ctx, cancel := context.WithCancel(context.Background())
	obs.StateChanged(ctx, domain.StateReplicating)
	obs.ObjectCopied(ctx, "p", "a", 3, nil)
	cancel()
	obs.ObjectCopied(ctx, "p", "b", 0, assert.AnError)

	assert.Equal(t, []bool{false, true}, rc.objects)
	assert.Equal(t, []domain.RunState{domain.StateReplicating}, rc.states)
}
