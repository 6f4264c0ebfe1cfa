package cache

import (
	"context"

	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

// ProgressObserver feeds migration callbacks into a ProgressCache.
// Cache failures are logged and never interrupt the migration.
type ProgressObserver struct {
	cache ProgressCache
	runID string
}

func NewProgressObserver(cache ProgressCache, runID string) *ProgressObserver {
	return &ProgressObserver{cache: cache, runID: runID}
}

func (o *ProgressObserver) StateChanged(ctx context.Context, state domain.RunState) {
	o.warn(o.cache.RecordState(context.WithoutCancel(ctx), o.runID, state), "")
}

func (o *ProgressObserver) PoolStarted(ctx context.Context, pool string) {
	o.warn(o.cache.RecordPoolStarted(context.WithoutCancel(ctx), o.runID, pool), pool)
}

func (o *ProgressObserver) ObjectCopied(ctx context.Context, pool, key string, size int64, err error) {
	o.warn(o.cache.RecordObject(context.WithoutCancel(ctx), o.runID, pool, size, err != nil), pool)
}

func (o *ProgressObserver) PoolFinished(ctx context.Context, report domain.ReplicationReport) {
	o.warn(o.cache.RecordPoolFinished(context.WithoutCancel(ctx), o.runID, report), report.Pool)
}

func (o *ProgressObserver) warn(err error, pool string) {
	if err == nil {
		return
	}
	logger.Log.Warn().Err(err).Str("run_id", o.runID).Str("pool", pool).Msg("Failed to record progress")
}
