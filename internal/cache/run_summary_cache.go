package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

const runSummaryKeyPrefix = keyPrefix + ":run"

// RunSummaryCache caches finished run summaries in front of the history store.
type RunSummaryCache interface {
	GetSummary(ctx context.Context, runID string) (*domain.RunSummary, bool, error)
	SetSummary(ctx context.Context, summary *domain.RunSummary) error
	InvalidateAll(ctx context.Context) error
	Close() error
}

type redisRunSummaryCache struct {
	redisStore
}

type noopRunSummaryCache struct{}

func NewRunSummaryCache(cfg config.CacheConfig) (RunSummaryCache, error) {
	if !cfg.Enabled {
		return &noopRunSummaryCache{}, nil
	}

	store, err := openRedis(cfg)
	if err != nil {
		return nil, err
	}
	return &redisRunSummaryCache{redisStore: store}, nil
}

func NewNoopRunSummaryCache() RunSummaryCache {
	return &noopRunSummaryCache{}
}

func buildRunSummaryKey(runID string) string {
	return fmt.Sprintf("%s:%s", runSummaryKeyPrefix, runID)
}

func (c *redisRunSummaryCache) GetSummary(ctx context.Context, runID string) (*domain.RunSummary, bool, error) {
	payload, err := c.client.Get(ctx, buildRunSummaryKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var summary domain.RunSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, false, fmt.Errorf("decode run summary cache: %w", err)
	}

	return &summary, true, nil
}

func (c *redisRunSummaryCache) SetSummary(ctx context.Context, summary *domain.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary cache: %w", err)
	}

	if err := c.client.Set(ctx, buildRunSummaryKey(summary.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisRunSummaryCache) InvalidateAll(ctx context.Context) error {
	return c.clearPrefix(ctx, runSummaryKeyPrefix+":")
}

func (n *noopRunSummaryCache) GetSummary(ctx context.Context, runID string) (*domain.RunSummary, bool, error) {
	return nil, false, nil
}

func (n *noopRunSummaryCache) SetSummary(ctx context.Context, summary *domain.RunSummary) error {
	return nil
}

func (n *noopRunSummaryCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func (n *noopRunSummaryCache) Close() error {
	return nil
}
